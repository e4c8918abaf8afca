package models

import (
	"strings"
	"time"
)

type Audit struct {
	ID               int      `json:"audit_id" yaml:"audit_id"`
	Name             string   `json:"audit_name" yaml:"audit_name"`
	Category         string   `json:"category" yaml:"category"`
	Tags             []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Description      string   `json:"description" yaml:"description"`
	DeviceCategories []string `json:"device_categories" yaml:"device_categories"`
	ScriptPath       string   `json:"audit_path,omitempty" yaml:"audit_path,omitempty"`
}

// SupportsDevice reports whether the audit can run on a device of the given category.
func (a Audit) SupportsDevice(category string) bool {
	for _, c := range a.DeviceCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

type Device struct {
	ID       int    `json:"device_id" yaml:"device_id"`
	Name     string `json:"device_name" yaml:"device_name"`
	Category string `json:"category" yaml:"category"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port" yaml:"port"`
}

type ReportStatus string

const (
	ReportSuccess       ReportStatus = "success"
	ReportFailed        ReportStatus = "failed"
	ReportNotResponding ReportStatus = "device_not_responding"
	ReportTimeout       ReportStatus = "timeout"
	ReportSkipped       ReportStatus = "skipped"
)

type Report struct {
	ID              int64        `json:"report_id"`
	AuditID         int          `json:"audit_id"`
	DeviceID        int          `json:"device_id"`
	AuditName       string       `json:"audit_name"`
	DeviceName      string       `json:"device_name"`
	ExecutionTime   time.Time    `json:"execution_time"`
	Status          ReportStatus `json:"status"`
	Results         string       `json:"results,omitempty"`
	Summary         string       `json:"summary"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	DurationSeconds float64      `json:"duration_seconds"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ReportFilter narrows report queries. Zero values mean "any".
type ReportFilter struct {
	AuditID        int
	AuditName      string
	AuditCategory  string
	DeviceName     string
	DeviceCategory string
	Status         ReportStatus
	Since          time.Time
	Until          time.Time
	Limit          int
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

const TaskTypeCreateAudit = "create_new_audit"

type EngineerTask struct {
	ID                 int64      `json:"task_id"`
	UserID             string     `json:"user_id"`
	RequestDescription string     `json:"request_description"`
	TaskType           string     `json:"task_type"`
	Status             TaskStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	AssignedTo         string     `json:"assigned_to,omitempty"`
	ResultData         string     `json:"result_data,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

// TaskUpdate changes a task's status. Empty fields keep their stored value.
type TaskUpdate struct {
	Status       TaskStatus `json:"status"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	ResultData   string     `json:"result_data,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type RoutingRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Message    string    `json:"message"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	State      string    `json:"state"`
	Action     string    `json:"action,omitempty"`
	Status     string    `json:"status"`
	LatencyMS  int       `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
