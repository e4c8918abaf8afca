package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/pkg/logger"
)

const readyTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck is one named readiness dependency.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func PingCheck(name string, p Pinger) ReadyCheck {
	return ReadyCheck{Name: name, Check: p.Ping}
}

type HealthHandler struct {
	checks []ReadyCheck
	now    func() time.Time
}

func NewHealthHandler(checks ...ReadyCheck) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   h.now().Unix(),
	})
}

// Ready runs every check and reports 503 if any of them fails.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
	defer cancel()

	results := make(fiber.Map, len(h.checks))
	ready := true
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("check", chk.Name), zap.Error(err))
			results[chk.Name] = err.Error()
			ready = false
			continue
		}
		results[chk.Name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": results,
	})
}
