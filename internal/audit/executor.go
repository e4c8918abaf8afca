// Package audit runs catalog audits on their compatible devices and stores
// one report per device.
package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/resolver"
	"github.com/audit-agent/backend/internal/router"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/internal/textmatch"
	"github.com/audit-agent/backend/pkg/logger"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxParallel = 4
	maxSuggestions     = 3
	summaryLen         = 100
)

type ReportStore interface {
	InsertReport(ctx context.Context, r *models.Report) (int64, error)
}

// AuditResolver picks the audit a message refers to.
type AuditResolver interface {
	Resolve(text string) resolver.Result
}

type Config struct {
	ScriptsDir  string
	Timeout     time.Duration
	MaxParallel int
}

type Executor struct {
	resolver AuditResolver
	catalog  resolver.SnapshotProvider
	store    ReportStore
	runner   Runner
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

type DeviceResult struct {
	Device   models.Device
	Status   models.ReportStatus
	Duration time.Duration
	ReportID int64
	Err      error
}

type Execution struct {
	Audit   models.Audit
	Results []DeviceResult
}

func (e *Execution) Count(status models.ReportStatus) int {
	n := 0
	for _, r := range e.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func NewExecutor(res AuditResolver, snapshots resolver.SnapshotProvider, store ReportStore, runner Runner, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	return &Executor{
		resolver: res,
		catalog:  snapshots,
		store:    store,
		runner:   runner,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Named("audit"),
	}
}

// Handle answers an execute_audit dispatch.
func (e *Executor) Handle(ctx context.Context, d router.Dispatch) (string, error) {
	res := e.resolver.Resolve(d.Message)

	e.logger.Info("Resolved audit for execution",
		zap.String("session_id", d.SessionID),
		zap.String("kind", string(res.Kind)),
		zap.String("stage", res.Stage),
	)

	switch res.Kind {
	case resolver.NoData:
		return "No audit data available. Please ensure the database is properly configured and contains audit records.", nil
	case resolver.CategoryClarification:
		return formatClarification(res.Category, res.Candidates), nil
	case resolver.NoMatch:
		return e.guidance(d.Message), nil
	}

	exec, err := e.Execute(ctx, *res.Audit)
	if err != nil {
		return "", err
	}
	return formatExecution(exec), nil
}

// Execute runs an audit on every compatible device, at most MaxParallel at
// a time. Device failures are recorded as reports, not returned.
func (e *Executor) Execute(ctx context.Context, a models.Audit) (*Execution, error) {
	devices := e.catalog.Snapshot().DevicesFor(a)
	exec := &Execution{Audit: a, Results: make([]DeviceResult, len(devices))}
	if len(devices) == 0 {
		e.logger.Warn("No compatible devices", zap.Int("audit_id", a.ID), zap.Strings("device_categories", a.DeviceCategories))
		return exec, nil
	}

	path := ScriptPath(e.cfg.ScriptsDir, a)
	script, scriptErr := LoadScript(path)
	if scriptErr != nil {
		e.logger.Error("Failed to load audit script", zap.String("path", path), zap.Error(scriptErr))
	}

	e.logger.Info("Executing audit",
		zap.Int("audit_id", a.ID),
		zap.String("audit_name", a.Name),
		zap.Int("devices", len(devices)),
	)

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallel)
	for i, dev := range devices {
		i, dev := i, dev
		g.Go(func() error {
			exec.Results[i] = e.runDevice(ctx, a, script, scriptErr, dev)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil && exec.Count(models.ReportSuccess) == 0 {
		return exec, fmt.Errorf("audit execution interrupted: %w", err)
	}
	return exec, nil
}

func (e *Executor) runDevice(ctx context.Context, a models.Audit, script *Script, scriptErr error, dev models.Device) DeviceResult {
	started := e.now()
	t0 := time.Now()

	var outputs []CommandOutput
	err := scriptErr
	if err == nil {
		dctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		outputs, err = e.runner.Run(dctx, dev, script.Commands)
		cancel()
	}
	duration := time.Since(t0)
	status := classify(err)

	var content string
	if status == models.ReportSuccess {
		content = formatResults(a, dev, outputs, started)
	}

	report := &models.Report{
		AuditID:         a.ID,
		DeviceID:        dev.ID,
		AuditName:       a.Name,
		DeviceName:      dev.Name,
		ExecutionTime:   started,
		Status:          status,
		Results:         content,
		Summary:         summarize(content, a.Name, status),
		DurationSeconds: duration.Seconds(),
	}
	if err != nil {
		report.ErrorMessage = err.Error()
	}

	// The report is written even when the request was canceled.
	id, storeErr := e.store.InsertReport(context.WithoutCancel(ctx), report)
	if storeErr != nil {
		e.logger.Error("Failed to store report",
			zap.Int("audit_id", a.ID),
			zap.String("device", dev.Name),
			zap.Error(storeErr),
		)
	}

	metrics.AuditExecutions.WithLabelValues(string(status)).Inc()
	metrics.AuditExecutionDuration.Observe(duration.Seconds())

	e.logger.Info("Device audit finished",
		zap.String("device", dev.Name),
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
		zap.Int64("report_id", id),
	)

	return DeviceResult{Device: dev, Status: status, Duration: duration, ReportID: id, Err: err}
}

func classify(err error) models.ReportStatus {
	switch {
	case err == nil:
		return models.ReportSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return models.ReportTimeout
	case unreachable(err):
		return models.ReportNotResponding
	default:
		return models.ReportFailed
	}
}

func unreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout")
}

func summarize(content, auditName string, status models.ReportStatus) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Sprintf("Audit '%s' execution %s", auditName, status)
	}
	runes := []rune(trimmed)
	if len(runes) <= summaryLen {
		return trimmed
	}
	return string(runes[:summaryLen]) + "..."
}

func formatResults(a models.Audit, dev models.Device, outputs []CommandOutput, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AUDIT: %s\n", a.Name)
	fmt.Fprintf(&b, "DEVICE: %s (%s)\n", dev.Name, dev.Category)
	fmt.Fprintf(&b, "EXECUTION TIME: %s\n", at.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	if len(outputs) == 0 {
		b.WriteString("No results returned from audit execution.\n")
		return b.String()
	}
	for i, o := range outputs {
		fmt.Fprintf(&b, "%d. Command: %s\nOutput:\n%s\n%s\n", i+1, o.Command, o.Output, strings.Repeat("-", 30))
	}
	return b.String()
}

func formatExecution(exec *Execution) string {
	if len(exec.Results) == 0 {
		return fmt.Sprintf("No compatible devices found for audit '%s'", exec.Audit.Name)
	}

	var b strings.Builder
	sep := strings.Repeat("=", 50)
	fmt.Fprintf(&b, "AUDIT EXECUTION SUMMARY\n%s\n", sep)
	fmt.Fprintf(&b, "Audit: %s (ID %d)\n", exec.Audit.Name, exec.Audit.ID)
	fmt.Fprintf(&b, "Total Devices: %d\n", len(exec.Results))
	fmt.Fprintf(&b, "Successful: %d\n", exec.Count(models.ReportSuccess))
	fmt.Fprintf(&b, "Failed: %d\n", exec.Count(models.ReportFailed))
	fmt.Fprintf(&b, "Not Responding: %d\n", exec.Count(models.ReportNotResponding))
	fmt.Fprintf(&b, "Timed Out: %d\n", exec.Count(models.ReportTimeout))
	fmt.Fprintf(&b, "%s\n\nDEVICE RESULTS:\n", sep)

	for _, r := range exec.Results {
		fmt.Fprintf(&b, "• %s: %s - %.2fs", r.Device.Name, r.Status, r.Duration.Seconds())
		if r.ReportID > 0 {
			fmt.Fprintf(&b, " (report #%d)", r.ReportID)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAll audit results stored in reports table.")
	return b.String()
}

func formatClarification(category string, audits []models.Audit) string {
	if len(audits) == 0 {
		return fmt.Sprintf("Found '%s' category but no audits are available in this category.", category)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found '%s' category with %d available audits:\n\n", category, len(audits))
	for _, a := range audits {
		desc := a.Description
		if desc == "" {
			desc = "No description available"
		}
		fmt.Fprintf(&b, "%d. %s\n   Description: %s\n\n", a.ID, a.Name, desc)
	}
	b.WriteString("Please specify which audit you'd like to execute by ID or name.")
	return b.String()
}

func (e *Executor) guidance(message string) string {
	snap := e.catalog.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Cannot identify the audit to execute from %d available audits.\n\n", len(snap.AuditEntries()))
	if suggestions := Suggest(snap, message, maxSuggestions); len(suggestions) > 0 {
		b.WriteString("Did you mean:\n")
		for _, a := range suggestions {
			fmt.Fprintf(&b, "• %d. %s\n", a.ID, a.Name)
		}
		b.WriteString("\n")
	}
	b.WriteString("Please specify:\n")
	b.WriteString("• An audit ID (e.g., 'run audit 16', 'execute 5')\n")
	b.WriteString("• An audit name (e.g., 'execute Cisco Audit New', 'run network check')\n")
	b.WriteString("• An audit category (e.g., 'run network audits', 'execute security audits')")
	return b.String()
}

type auditKeys []catalog.AuditEntry

func (k auditKeys) String(i int) string { return k[i].Key }
func (k auditKeys) Len() int            { return len(k) }

var commandWords = map[string]bool{
	"run": true, "execute": true, "start": true, "launch": true, "perform": true,
	"audit": true, "audits": true, "the": true, "please": true, "can": true, "you": true,
}

// Suggest ranks catalog audits by how well the message's words fuzzy-match
// their names. Ties keep catalog order.
func Suggest(snap *catalog.Snapshot, message string, limit int) []models.Audit {
	entries := auditKeys(snap.AuditEntries())
	if len(entries) == 0 {
		return nil
	}

	hits := map[int]int{}
	scores := map[int]int{}
	for _, word := range textmatch.Words(message) {
		if len([]rune(word)) < 3 || commandWords[word] {
			continue
		}
		for _, m := range fuzzy.FindFrom(word, entries) {
			hits[m.Index]++
			scores[m.Index] += m.Score
		}
	}

	idxs := make([]int, 0, len(hits))
	for idx := range hits {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool {
		a, b := idxs[i], idxs[j]
		if hits[a] != hits[b] {
			return hits[a] > hits[b]
		}
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return a < b
	})
	if len(idxs) > limit {
		idxs = idxs[:limit]
	}

	out := make([]models.Audit, len(idxs))
	for i, idx := range idxs {
		out[i] = entries[idx].Audit
	}
	return out
}
