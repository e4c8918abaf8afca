// Package query answers retrieval requests for audits, devices and reports.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/resolver"
	"github.com/audit-agent/backend/internal/router"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

const (
	maxReportsShown = 10
	uncategorized   = "Uncategorized"
)

type Store interface {
	ListAudits(ctx context.Context) ([]models.Audit, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListReports(ctx context.Context, f models.ReportFilter) ([]models.Report, error)
	CountReports(ctx context.Context, f models.ReportFilter) (int, error)
}

// EntityResolver extracts every entity a retrieval can filter on.
type EntityResolver interface {
	ResolveAll(text string) resolver.Result
}

type Engine struct {
	store    Store
	resolver EntityResolver
	now      func() time.Time
	logger   *zap.Logger
}

// Filter is what a retrieval narrows on, derived from the resolved entities.
type Filter struct {
	Kind           resolver.RetrievalKind
	AuditID        int
	AuditName      string
	AuditCategory  string
	DeviceName     string
	DeviceCategory string
	Period         string
	Since          time.Time
	Until          time.Time
}

func NewEngine(store Store, res EntityResolver) *Engine {
	return &Engine{
		store:    store,
		resolver: res,
		now:      time.Now,
		logger:   logger.Named("query"),
	}
}

// Handle answers a retrieval dispatch.
func (e *Engine) Handle(ctx context.Context, d router.Dispatch) (string, error) {
	startTime := time.Now()
	res := e.resolver.ResolveAll(d.Message)
	f := e.BuildFilter(d.Action, res)

	e.logger.Info("Processing retrieval",
		zap.String("session_id", d.SessionID),
		zap.String("action", d.Action),
		zap.String("kind", string(f.Kind)),
		zap.String("resolved", string(res.Kind)),
	)

	var (
		reply string
		err   error
	)
	switch {
	case d.Action == router.ActionListAudits && f.Kind == resolver.RetrieveAudits:
		reply, err = e.listGrouped(ctx)
	case f.Kind == resolver.RetrieveReports:
		reply, err = e.reports(ctx, f)
	case f.Kind == resolver.RetrieveDevices:
		reply, err = e.devices(ctx, f)
	default:
		reply, err = e.audits(ctx, f)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Retrieval completed",
		zap.String("kind", string(f.Kind)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return reply, nil
}

// BuildFilter decides what to retrieve. History actions retrieve reports
// unless the message explicitly asked for something else.
func (e *Engine) BuildFilter(action string, res resolver.Result) Filter {
	kind, _ := res.RetrievalKind()
	if !res.RetrievalKindExplicit() {
		switch action {
		case router.ActionGetAuditHistory, router.ActionGetAuditHistoryFiltered:
			kind = resolver.RetrieveReports
		}
	}

	f := Filter{Kind: kind}
	if id, ok := res.AuditID(); ok {
		f.AuditID = id
	}
	if name, ok := res.AuditName(); ok {
		f.AuditName = name
	}
	if cat, ok := res.AuditCategory(); ok {
		f.AuditCategory = cat
	}
	if dev, ok := res.DeviceName(); ok {
		f.DeviceName = dev
	}
	if cat, ok := res.DeviceCategory(); ok {
		f.DeviceCategory = cat
	}
	if tr, ok := res.TimeRange(); ok {
		f.Period = tr.String()
		f.Since, f.Until = tr.Resolve(e.now())
	}
	return f
}

func (f Filter) describe() string {
	var parts []string
	switch {
	case f.AuditID > 0:
		parts = append(parts, fmt.Sprintf("audit %d (%s)", f.AuditID, f.AuditName))
	case f.AuditCategory != "":
		parts = append(parts, "category "+f.AuditCategory)
	}
	switch {
	case f.DeviceName != "":
		parts = append(parts, "device "+f.DeviceName)
	case f.DeviceCategory != "":
		parts = append(parts, "device category "+f.DeviceCategory)
	}
	if f.Period != "" && f.Kind == resolver.RetrieveReports {
		parts = append(parts, "period "+f.Period)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Filters: " + strings.Join(parts, ", ") + "\n"
}

func (e *Engine) audits(ctx context.Context, f Filter) (string, error) {
	all, err := e.store.ListAudits(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list audits: %w", err)
	}

	var matched []models.Audit
	for _, a := range all {
		switch {
		case f.AuditID > 0 && a.ID != f.AuditID:
			continue
		case f.AuditID == 0 && f.AuditCategory != "" && !strings.EqualFold(a.Category, f.AuditCategory):
			continue
		case f.DeviceCategory != "" && !a.SupportsDevice(f.DeviceCategory):
			continue
		}
		matched = append(matched, a)
	}

	if len(matched) == 0 {
		return "No audits found matching your criteria.\n" + f.describe(), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d audits matching your criteria.\n", len(matched))
	b.WriteString(f.describe())
	b.WriteString("\nAvailable Audits:\n\n")
	for _, a := range matched {
		writeAudit(&b, a)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeAudit(b *strings.Builder, a models.Audit) {
	fmt.Fprintf(b, "%d. %s\n", a.ID, a.Name)
	fmt.Fprintf(b, "Category: %s\n", a.Category)
	if a.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", a.Description)
	}
	if len(a.DeviceCategories) > 0 {
		fmt.Fprintf(b, "Compatible Devices: %s\n", strings.Join(a.DeviceCategories, ", "))
	}
	b.WriteString("\n")
}

// listGrouped lists the whole catalog by category, categories in order of
// first appearance.
func (e *Engine) listGrouped(ctx context.Context) (string, error) {
	all, err := e.store.ListAudits(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list audits: %w", err)
	}
	if len(all) == 0 {
		return "No audits available in database. Please check the system data.", nil
	}

	var order []string
	groups := map[string][]models.Audit{}
	for _, a := range all {
		cat := a.Category
		if cat == "" {
			cat = uncategorized
		}
		if _, ok := groups[cat]; !ok {
			order = append(order, cat)
		}
		groups[cat] = append(groups[cat], a)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d audits in %d categories.\n", len(all), len(order))
	for _, cat := range order {
		fmt.Fprintf(&b, "\n%s (%d):\n", cat, len(groups[cat]))
		for _, a := range groups[cat] {
			fmt.Fprintf(&b, "  %d. %s", a.ID, a.Name)
			if a.Description != "" {
				fmt.Fprintf(&b, " - %s", a.Description)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Engine) devices(ctx context.Context, f Filter) (string, error) {
	all, err := e.store.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list devices: %w", err)
	}

	var matched []models.Device
	for _, d := range all {
		switch {
		case f.DeviceName != "" && !strings.EqualFold(d.Name, f.DeviceName):
			continue
		case f.DeviceName == "" && f.DeviceCategory != "" && !strings.EqualFold(d.Category, f.DeviceCategory):
			continue
		}
		matched = append(matched, d)
	}

	if len(matched) == 0 {
		return "No devices found matching your criteria.\n" + f.describe(), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d devices matching your criteria.\n", len(matched))
	b.WriteString(f.describe())
	b.WriteString("\nAvailable Devices:\n\n")
	for _, d := range matched {
		fmt.Fprintf(&b, "%d. %s\n   Category: %s\n\n", d.ID, d.Name, d.Category)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Engine) reports(ctx context.Context, f Filter) (string, error) {
	rf := models.ReportFilter{
		AuditID:        f.AuditID,
		DeviceName:     f.DeviceName,
		DeviceCategory: f.DeviceCategory,
		Since:          f.Since,
		Until:          f.Until,
	}
	if f.AuditID == 0 {
		rf.AuditCategory = f.AuditCategory
	}
	if f.DeviceName != "" {
		rf.DeviceCategory = ""
	}

	total, err := e.store.CountReports(ctx, rf)
	if err != nil {
		return "", fmt.Errorf("failed to count reports: %w", err)
	}
	if total == 0 {
		return "No reports found matching your criteria.\n" + f.describe(), nil
	}

	rf.Limit = maxReportsShown
	reports, err := e.store.ListReports(ctx, rf)
	if err != nil {
		return "", fmt.Errorf("failed to list reports: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d reports matching your criteria.\n", total)
	b.WriteString(f.describe())
	b.WriteString("\nAudit Reports:\n\n")
	for _, r := range reports {
		fmt.Fprintf(&b, "Report %d\n", r.ID)
		fmt.Fprintf(&b, "   Audit: %s\n", r.AuditName)
		fmt.Fprintf(&b, "   Device: %s\n", r.DeviceName)
		fmt.Fprintf(&b, "   Status: %s\n", r.Status)
		fmt.Fprintf(&b, "   Executed: %s\n", r.ExecutionTime.Format("2006-01-02 15:04:05"))
		if r.Summary != "" {
			fmt.Fprintf(&b, "   Summary: %s\n", r.Summary)
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(&b, "   Error: %s\n", r.ErrorMessage)
		}
		b.WriteString("\n")
	}
	if more := total - len(reports); more > 0 {
		fmt.Fprintf(&b, "... and %d more reports.\n", more)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
