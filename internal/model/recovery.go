package model

import "time"

// PointKind describes what a recovery point contains.
type PointKind string

const (
	PointFull        PointKind = "full"
	PointIncremental PointKind = "incremental"
	PointPIT         PointKind = "pit"
	PointSchema      PointKind = "schema"
)

// PointStatus is the registry state of a recovery point.
type PointStatus string

const (
	PointAvailable PointStatus = "available"
	PointCorrupted PointStatus = "corrupted"
	PointExpired   PointStatus = "expired"
	PointInUse     PointStatus = "in_use"
)

// PointMetadata carries descriptive attributes of the backed-up data.
type PointMetadata struct {
	Database    string `json:"database"`
	SchemaCount int    `json:"schema_count,omitempty"`
	TableCount  int    `json:"table_count,omitempty"`
	RecordCount int64  `json:"record_count,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Compressed  bool   `json:"compressed,omitempty"`
	Encrypted   bool   `json:"encrypted,omitempty"`
}

// RecoveryPoint is a registered, retention-tracked backup artifact.
type RecoveryPoint struct {
	ID             string        `json:"id"`
	BackupID       string        `json:"backup_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Kind           PointKind     `json:"kind"`
	Location       string        `json:"location"`
	Status         PointStatus   `json:"status"`
	RetentionUntil time.Time     `json:"retention_until"`
	Metadata       PointMetadata `json:"metadata"`
}

// Expired reports whether the retention deadline has passed at now.
func (p *RecoveryPoint) Expired(now time.Time) bool {
	return now.After(p.RetentionUntil)
}

// RecoveryType selects the shape of a recovery run.
type RecoveryType string

const (
	RecoveryComplete    RecoveryType = "complete"
	RecoveryPointInTime RecoveryType = "point_in_time"
	RecoverySchemaOnly  RecoveryType = "schema_only"
	RecoveryTableLevel  RecoveryType = "table_level"
)

// RecoveryStatus is the lifecycle state of a recovery job.
type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryPreparing  RecoveryStatus = "preparing"
	RecoveryRecovering RecoveryStatus = "recovering"
	RecoveryVerifying  RecoveryStatus = "verifying"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
	RecoveryCancelled  RecoveryStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RecoveryStatus) Terminal() bool {
	switch s {
	case RecoveryCompleted, RecoveryFailed, RecoveryCancelled:
		return true
	}
	return false
}

// RecoveryOptions are the per-job knobs of a recovery run.
type RecoveryOptions struct {
	Tables              []string `json:"tables,omitempty"`
	PreScript           string   `json:"pre_script,omitempty"`
	PostScript          string   `json:"post_script,omitempty"`
	VerifyAfterRecovery bool     `json:"verify_after_recovery,omitempty"`
	TimeoutSeconds      int      `json:"timeout_seconds,omitempty"`
}

// PointInTimeTarget is the recovery coordinate used by point_in_time
// jobs in place of a recovery point reference.
type PointInTimeTarget struct {
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id,omitempty"`
	LogSequence   string    `json:"log_sequence,omitempty"`
}

// VerificationStatus is the verdict of a verification pass.
type VerificationStatus string

const (
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
	VerificationPartial VerificationStatus = "partial"
)

// RecoveryVerification records the outcome of verifying a recovery.
type RecoveryVerification struct {
	Status          VerificationStatus `json:"status"`
	Timestamp       time.Time          `json:"timestamp"`
	ObjectCount     int                `json:"object_count"`
	VerifiedObjects int                `json:"verified_objects"`
	Errors          []string           `json:"errors,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// RecoveryJob is one recovery attempt.
type RecoveryJob struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	ConnectionID     string                `json:"connection_id"`
	Database         string                `json:"database"`
	PointID          string                `json:"point_id,omitempty"`
	Target           *PointInTimeTarget    `json:"target,omitempty"`
	Type             RecoveryType          `json:"type"`
	Options          RecoveryOptions       `json:"options"`
	Status           RecoveryStatus        `json:"status"`
	Progress         int                   `json:"progress"`
	RecoveredObjects []string              `json:"recovered_objects,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	Error            string                `json:"error,omitempty"`
	Verification     *RecoveryVerification `json:"verification,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}
