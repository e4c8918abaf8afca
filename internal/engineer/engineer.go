// Package engineer tracks requests for new audits that need an engineer.
package engineer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

// Publisher is the pub/sub side of the redis client.
type Publisher interface {
	PublishEngineerTask(ctx context.Context, task models.EngineerTask) error
}

// RedisNotifier announces new tasks on the engineer channel.
type RedisNotifier struct {
	pub Publisher
}

func NewRedisNotifier(pub Publisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (n *RedisNotifier) NotifyEngineerTask(ctx context.Context, task models.EngineerTask) error {
	return n.pub.PublishEngineerTask(ctx, task)
}

// LogNotifier only logs new tasks. Used when redis is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.Named("engineer")}
}

func (n *LogNotifier) NotifyEngineerTask(ctx context.Context, task models.EngineerTask) error {
	n.logger.Info("New engineer task",
		zap.Int64("task_id", task.ID),
		zap.String("user_id", task.UserID),
		zap.String("task_type", task.TaskType),
		zap.String("description", task.RequestDescription),
	)
	return nil
}

type TaskStore interface {
	GetEngineerTask(ctx context.Context, id int64) (*models.EngineerTask, error)
	ListEngineerTasks(ctx context.Context, status models.TaskStatus, limit int) ([]models.EngineerTask, error)
	UpdateEngineerTask(ctx context.Context, id int64, from models.TaskStatus, upd models.TaskUpdate) (bool, error)
}

// Service exposes the work-item queue to engineers.
type Service struct {
	store  TaskStore
	logger *zap.Logger
}

func NewService(store TaskStore) *Service {
	return &Service{store: store, logger: logger.Named("engineer")}
}

func (s *Service) List(ctx context.Context, status models.TaskStatus, limit int) ([]models.EngineerTask, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	return s.store.ListEngineerTasks(ctx, status, limit)
}

var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskPending:    {models.TaskInProgress, models.TaskFailed},
	models.TaskInProgress: {models.TaskCompleted, models.TaskFailed},
}

func allowed(from, to models.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Update applies a status change. Tasks move forward only: pending to
// in_progress to completed, with failed reachable from either open state.
func (s *Service) Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.EngineerTask, error) {
	task, err := s.store.GetEngineerTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed(task.Status, upd.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, upd.Status)
	}

	changed, err := s.store.UpdateEngineerTask(ctx, id, task.Status, upd)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: task %d is no longer %s", ErrInvalidTransition, id, task.Status)
	}

	s.logger.Info("Engineer task moved",
		zap.Int64("task_id", id),
		zap.String("from", string(task.Status)),
		zap.String("to", string(upd.Status)),
	)
	return s.store.GetEngineerTask(ctx, id)
}
