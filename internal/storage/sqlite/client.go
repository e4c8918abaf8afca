package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

const defaultReportLimit = 50

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audits (
		audit_id INTEGER PRIMARY KEY,
		audit_name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		category TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		device_categories TEXT NOT NULL DEFAULT '',
		audit_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audits_category ON audits(category);

	CREATE TABLE IF NOT EXISTS devices (
		device_id INTEGER PRIMARY KEY,
		device_name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		category TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 22
	);
	CREATE INDEX IF NOT EXISTS idx_devices_category ON devices(category);

	CREATE TABLE IF NOT EXISTS reports (
		report_id INTEGER PRIMARY KEY AUTOINCREMENT,
		audit_id INTEGER NOT NULL,
		device_id INTEGER NOT NULL,
		audit_name TEXT NOT NULL,
		device_name TEXT NOT NULL,
		execution_time INTEGER NOT NULL,
		status TEXT NOT NULL,
		results TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_audit ON reports(audit_id);
	CREATE INDEX IF NOT EXISTS idx_reports_device ON reports(device_id);
	CREATE INDEX IF NOT EXISTS idx_reports_time ON reports(execution_time);

	CREATE TABLE IF NOT EXISTS engineer_tasks (
		task_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		request_description TEXT NOT NULL,
		task_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		assigned_to TEXT NOT NULL DEFAULT '',
		result_data TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON engineer_tasks(status);

	CREATE TABLE IF NOT EXISTS routing_log (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_routing_session ON routing_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_routing_created ON routing_log(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) UpsertAudit(ctx context.Context, audit *models.Audit) error {
	query := `
		INSERT INTO audits (audit_id, audit_name, category, tags, description, device_categories, audit_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(audit_id) DO UPDATE SET
			audit_name = excluded.audit_name,
			category = excluded.category,
			tags = excluded.tags,
			description = excluded.description,
			device_categories = excluded.device_categories,
			audit_path = excluded.audit_path
	`

	_, err := c.db.ExecContext(ctx,
		query,
		audit.ID,
		audit.Name,
		audit.Category,
		joinList(audit.Tags),
		audit.Description,
		joinList(audit.DeviceCategories),
		audit.ScriptPath,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert audit: %w", err)
	}

	logger.Debug("Audit upserted", zap.Int("audit_id", audit.ID), zap.String("name", audit.Name))
	return nil
}

// ListAudits returns every audit ordered by id.
func (c *Client) ListAudits(ctx context.Context) ([]models.Audit, error) {
	query := `SELECT audit_id, audit_name, category, tags, description, device_categories, audit_path FROM audits ORDER BY audit_id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	var audits []models.Audit
	for rows.Next() {
		var a models.Audit
		var tags, deviceCategories string

		err := rows.Scan(&a.ID, &a.Name, &a.Category, &tags, &a.Description, &deviceCategories, &a.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Tags = splitList(tags)
		a.DeviceCategories = splitList(deviceCategories)
		audits = append(audits, a)
	}

	return audits, rows.Err()
}

func (c *Client) UpsertDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (device_id, device_name, category, host, port)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_name = excluded.device_name,
			category = excluded.category,
			host = excluded.host,
			port = excluded.port
	`

	port := device.Port
	if port == 0 {
		port = 22
	}

	_, err := c.db.ExecContext(ctx, query, device.ID, device.Name, device.Category, device.Host, port)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// ListDevices returns every device ordered by id.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	query := `SELECT device_id, device_name, category, host, port FROM devices ORDER BY device_id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.Host, &d.Port); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

func (c *Client) InsertReport(ctx context.Context, report *models.Report) (int64, error) {
	query := `
		INSERT INTO reports (audit_id, device_id, audit_name, device_name, execution_time, status,
			results, summary, error_message, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	res, err := c.db.ExecContext(ctx,
		query,
		report.AuditID,
		report.DeviceID,
		report.AuditName,
		report.DeviceName,
		report.ExecutionTime.Unix(),
		string(report.Status),
		report.Results,
		report.Summary,
		report.ErrorMessage,
		report.DurationSeconds,
		report.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read report id: %w", err)
	}
	report.ID = id

	logger.Debug("Report stored",
		zap.Int64("report_id", id),
		zap.Int("audit_id", report.AuditID),
		zap.String("device", report.DeviceName),
		zap.String("status", string(report.Status)),
	)

	return id, nil
}

const reportsFrom = `
		FROM reports r
		LEFT JOIN audits a ON a.audit_id = r.audit_id
		LEFT JOIN devices d ON d.device_id = r.device_id`

func reportWhere(filter models.ReportFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	if filter.AuditID > 0 {
		where = append(where, "r.audit_id = ?")
		args = append(args, filter.AuditID)
	}
	if filter.AuditName != "" {
		where = append(where, "r.audit_name = ? COLLATE NOCASE")
		args = append(args, filter.AuditName)
	}
	if filter.AuditCategory != "" {
		where = append(where, "a.category = ? COLLATE NOCASE")
		args = append(args, filter.AuditCategory)
	}
	if filter.DeviceName != "" {
		where = append(where, "r.device_name = ? COLLATE NOCASE")
		args = append(args, filter.DeviceName)
	}
	if filter.DeviceCategory != "" {
		where = append(where, "d.category = ? COLLATE NOCASE")
		args = append(args, filter.DeviceCategory)
	}
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, "r.execution_time >= ?")
		args = append(args, filter.Since.Unix())
	}
	if !filter.Until.IsZero() {
		where = append(where, "r.execution_time < ?")
		args = append(args, filter.Until.Unix())
	}

	if len(where) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(where, " AND "), args
}

// CountReports counts every report matching the filter. Limit is ignored.
func (c *Client) CountReports(ctx context.Context, filter models.ReportFilter) (int, error) {
	where, args := reportWhere(filter)

	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*)"+reportsFrom+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// ListReports returns the newest reports matching the filter.
func (c *Client) ListReports(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	where, args := reportWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReportLimit
	}

	query := `
		SELECT r.report_id, r.audit_id, r.device_id, r.audit_name, r.device_name, r.execution_time,
			r.status, r.results, r.summary, r.error_message, r.duration_seconds, r.created_at` + reportsFrom + where
	query += "\n\t\tORDER BY r.execution_time DESC, r.report_id DESC\n\t\tLIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		var executedAt, createdAt int64
		var status string

		err := rows.Scan(&r.ID, &r.AuditID, &r.DeviceID, &r.AuditName, &r.DeviceName, &executedAt,
			&status, &r.Results, &r.Summary, &r.ErrorMessage, &r.DurationSeconds, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Status = models.ReportStatus(status)
		r.ExecutionTime = time.Unix(executedAt, 0)
		r.CreatedAt = time.Unix(createdAt, 0)
		reports = append(reports, r)
	}

	return reports, rows.Err()
}

func (c *Client) InsertEngineerTask(ctx context.Context, task *models.EngineerTask) (int64, error) {
	query := `
		INSERT INTO engineer_tasks (user_id, request_description, task_type, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	res, err := c.db.ExecContext(ctx,
		query,
		task.UserID,
		task.RequestDescription,
		task.TaskType,
		string(task.Status),
		task.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert engineer task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read engineer task id: %w", err)
	}
	task.ID = id

	logger.Info("Engineer task created",
		zap.Int64("task_id", id),
		zap.String("user_id", task.UserID),
		zap.String("task_type", task.TaskType),
	)

	return id, nil
}

const taskColumns = `task_id, user_id, request_description, task_type, status, created_at,
	started_at, completed_at, assigned_to, result_data, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.EngineerTask, error) {
	var t models.EngineerTask
	var status string
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(&t.ID, &t.UserID, &t.RequestDescription, &t.TaskType, &status, &createdAt,
		&startedAt, &completedAt, &t.AssignedTo, &t.ResultData, &t.ErrorMessage)
	if err != nil {
		return t, err
	}

	t.Status = models.TaskStatus(status)
	t.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		ts := time.Unix(startedAt.Int64, 0)
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		t.CompletedAt = &ts
	}
	return t, nil
}

func (c *Client) GetEngineerTask(ctx context.Context, id int64) (*models.EngineerTask, error) {
	query := `SELECT ` + taskColumns + ` FROM engineer_tasks WHERE task_id = ?`

	t, err := scanTask(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engineer task: %w", err)
	}
	return &t, nil
}

// ListEngineerTasks returns tasks oldest first. An empty status lists all.
func (c *Client) ListEngineerTasks(ctx context.Context, status models.TaskStatus, limit int) ([]models.EngineerTask, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM engineer_tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, task_id LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list engineer tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.EngineerTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// UpdateEngineerTask moves a task to a new status. started_at is stamped on
// the first move to in_progress and completed_at on completion or failure.
// A non-empty from makes the update conditional on the current status; it
// reports false when the task exists but no longer has that status.
func (c *Client) UpdateEngineerTask(ctx context.Context, id int64, from models.TaskStatus, upd models.TaskUpdate) (bool, error) {
	if !upd.Status.Valid() {
		return false, fmt.Errorf("invalid task status %q", upd.Status)
	}

	now := time.Now().Unix()
	query := `
		UPDATE engineer_tasks SET
			status = ?,
			assigned_to = CASE WHEN ? <> '' THEN ? ELSE assigned_to END,
			result_data = CASE WHEN ? <> '' THEN ? ELSE result_data END,
			error_message = CASE WHEN ? <> '' THEN ? ELSE error_message END,
			started_at = CASE WHEN ? = 'in_progress' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE completed_at END
		WHERE task_id = ?
	`

	status := string(upd.Status)
	args := []any{
		status,
		upd.AssignedTo, upd.AssignedTo,
		upd.ResultData, upd.ResultData,
		upd.ErrorMessage, upd.ErrorMessage,
		status, now,
		status, now,
		id,
	}
	if from != "" {
		query += "\t\tAND status = ?\n"
		args = append(args, string(from))
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update engineer task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update engineer task: %w", err)
	}
	if n == 0 {
		if _, err := c.GetEngineerTask(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	logger.Info("Engineer task updated", zap.Int64("task_id", id), zap.String("status", status))
	return true, nil
}

func (c *Client) InsertRoutingRecord(ctx context.Context, record *models.RoutingRecord) error {
	query := `
		INSERT INTO routing_log (id, session_id, message, label, confidence, state, action, status, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		record.ID,
		record.SessionID,
		record.Message,
		record.Label,
		record.Confidence,
		record.State,
		record.Action,
		record.Status,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert routing record: %w", err)
	}

	logger.Debug("Routing recorded",
		zap.String("id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("label", record.Label),
	)

	return nil
}

// GetRoutingHistory returns the newest routing records of a session first.
func (c *Client) GetRoutingHistory(ctx context.Context, sessionID string, limit int) ([]models.RoutingRecord, error) {
	query := `
		SELECT id, session_id, message, label, confidence, state, action, status, latency_ms, created_at
		FROM routing_log
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get routing history: %w", err)
	}
	defer rows.Close()

	var records []models.RoutingRecord
	for rows.Next() {
		var r models.RoutingRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SessionID, &r.Message, &r.Label, &r.Confidence, &r.State,
			&r.Action, &r.Status, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}
