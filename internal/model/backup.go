package model

import "time"

// BackupStatus is the lifecycle state of a backup job.
type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupRunning   BackupStatus = "running"
	BackupVerifying BackupStatus = "verifying"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
	BackupCancelled BackupStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s BackupStatus) Terminal() bool {
	switch s {
	case BackupCompleted, BackupFailed, BackupCancelled:
		return true
	}
	return false
}

// BackupOptions are the per-job knobs of a backup run.
type BackupOptions struct {
	PreScript      string `json:"pre_script,omitempty"`
	PostScript     string `json:"post_script,omitempty"`
	Compress       bool   `json:"compress,omitempty"`
	Encrypt        bool   `json:"encrypt,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// BackupJob is one concrete backup attempt.
type BackupJob struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ConnectionID string        `json:"connection_id"`
	Database     string        `json:"database"`
	Kind         BackupKind    `json:"kind"`
	Format       string        `json:"format,omitempty"`
	Options      BackupOptions `json:"options"`
	Status       BackupStatus  `json:"status"`
	Progress     int           `json:"progress"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	ArtifactSize int64         `json:"artifact_size,omitempty"`
	Checksum     string        `json:"checksum,omitempty"`
	Error        string        `json:"error,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}
