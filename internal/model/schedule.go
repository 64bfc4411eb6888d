package model

import "time"

// Frequency is the recurrence rule of a scheduled backup.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyOnce    Frequency = "once"
)

// Schedule describes when a scheduled backup fires.
type Schedule struct {
	Frequency  Frequency `json:"frequency"`
	Time       string    `json:"time,omitempty"` // HH:MM, 24h
	DayOfWeek  int       `json:"day_of_week,omitempty"`
	DayOfMonth int       `json:"day_of_month,omitempty"`
}

// BackupKind selects what a backup captures.
type BackupKind string

const (
	BackupFull        BackupKind = "full"
	BackupSchema      BackupKind = "schema"
	BackupData        BackupKind = "data"
	BackupIncremental BackupKind = "incremental"
)

// ScheduledBackup is a recurring backup definition.
type ScheduledBackup struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ConnectionID  string        `json:"connection_id"`
	Database      string        `json:"database"`
	Schedule      Schedule      `json:"schedule"`
	Kind          BackupKind    `json:"kind"`
	Format        string        `json:"format,omitempty"`
	Options       BackupOptions `json:"options"`
	RetentionDays int           `json:"retention_days,omitempty"`
	Enabled       bool          `json:"enabled"`
	LastRun       *time.Time    `json:"last_run,omitempty"`
	NextRun       time.Time     `json:"next_run"`
	RunCount      int           `json:"run_count"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ExecutionStatus tracks one firing of a schedule.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ScheduleExecution records one firing of a ScheduledBackup.
type ScheduleExecution struct {
	ID           string          `json:"id"`
	ScheduleID   string          `json:"schedule_id"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Status       ExecutionStatus `json:"status"`
	BackupJobID  string          `json:"backup_job_id,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Duration returns the wall time of the execution, zero while running.
func (e *ScheduleExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(*e.StartedAt)
}
