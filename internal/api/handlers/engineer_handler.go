package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/engineer"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/internal/storage/sqlite"
	"github.com/audit-agent/backend/pkg/logger"
)

const defaultTaskLimit = 50

type TaskService interface {
	List(ctx context.Context, status models.TaskStatus, limit int) ([]models.EngineerTask, error)
	Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.EngineerTask, error)
}

type EngineerHandler struct {
	tasks TaskService
}

func NewEngineerHandler(tasks TaskService) *EngineerHandler {
	return &EngineerHandler{tasks: tasks}
}

func (h *EngineerHandler) ListTasks(c *fiber.Ctx) error {
	status := models.TaskStatus(c.Query("status"))

	tasks, err := h.tasks.List(c.UserContext(), status, c.QueryInt("limit", defaultTaskLimit))
	if err != nil {
		if errors.Is(err, engineer.ErrInvalidTransition) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown task status",
			})
		}
		logger.Error("Failed to list engineer tasks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list tasks",
		})
	}
	if tasks == nil {
		tasks = []models.EngineerTask{}
	}

	return c.JSON(fiber.Map{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *EngineerHandler) UpdateTask(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid task id",
		})
	}

	var upd models.TaskUpdate
	if err := c.BodyParser(&upd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if !upd.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown task status",
		})
	}

	task, err := h.tasks.Update(c.UserContext(), int64(id), upd)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
		})
	case errors.Is(err, engineer.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		logger.Error("Failed to update engineer task", zap.Int("task_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update task",
		})
	}

	return c.JSON(task)
}
