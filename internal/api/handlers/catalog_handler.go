package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/resolver"
)

type CatalogService interface {
	Snapshot() *catalog.Snapshot
	Refresh(ctx context.Context) bool
}

type EntityResolver interface {
	Resolve(text string) resolver.Result
	ResolveAll(text string) resolver.Result
}

// CatalogHandler exposes the live catalog snapshot and entity resolution
// against it.
type CatalogHandler struct {
	catalog  CatalogService
	resolver EntityResolver
}

func NewCatalogHandler(cat CatalogService, res EntityResolver) *CatalogHandler {
	return &CatalogHandler{catalog: cat, resolver: res}
}

func (h *CatalogHandler) GetCatalog(c *fiber.Ctx) error {
	return c.JSON(snapshotBody(h.catalog.Snapshot()))
}

func snapshotBody(snap *catalog.Snapshot) fiber.Map {
	categories := labels(snap.Categories())
	deviceCategories := labels(snap.DeviceCategories())
	return fiber.Map{
		"fingerprint":       snap.Fingerprint(),
		"built_at":          snap.BuiltAt(),
		"audits":            snap.Audits(),
		"devices":           snap.Devices(),
		"categories":        categories,
		"device_categories": deviceCategories,
		"aliases":           len(snap.Aliases()),
	}
}

func labels(entries []catalog.CategoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Label)
	}
	return out
}

// RefreshCatalog reloads the catalog now. On failure the previous snapshot
// stays live and the response says so.
func (h *CatalogHandler) RefreshCatalog(c *fiber.Ctx) error {
	ok := h.catalog.Refresh(c.UserContext())
	snap := h.catalog.Snapshot()

	status := fiber.StatusOK
	if !ok {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{
		"refreshed":   ok,
		"fingerprint": snap.Fingerprint(),
		"audits":      len(snap.AuditEntries()),
		"devices":     len(snap.DeviceEntries()),
	})
}

// Resolve shows both resolution modes for a piece of text: the execution
// cascade and the full retrieval extraction.
func (h *CatalogHandler) Resolve(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	return c.JSON(fiber.Map{
		"text":      req.Text,
		"execution": h.resolver.Resolve(req.Text),
		"retrieval": h.resolver.ResolveAll(req.Text),
	})
}
