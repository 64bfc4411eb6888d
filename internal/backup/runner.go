// Package backup runs backup jobs through their lifecycle.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davexpro/recoverd/internal/artifact"
	"github.com/davexpro/recoverd/internal/conn"
	"github.com/davexpro/recoverd/internal/model"
	"github.com/davexpro/recoverd/internal/notify"
	"github.com/davexpro/recoverd/internal/pkg/helper"
	"github.com/davexpro/recoverd/internal/script"
)

// Registrar registers finished artifacts as recovery points.
// Satisfied by points.Registry.
type Registrar interface {
	Register(backupID, location string, kind model.PointKind, meta model.PointMetadata) (*model.RecoveryPoint, error)
}

// Mirror copies finished artifacts to remote storage. Satisfied by
// artifact.S3Store.
type Mirror interface {
	Upload(ctx context.Context, name string, content io.Reader) error
}

// Runner executes backup jobs. At most one execution per job id may be
// in flight; a duplicate attempt fails with ErrAlreadyRunning.
type Runner struct {
	provider  conn.Provider
	exec      script.Executor
	dumper    script.Dumper
	artifacts artifact.Store
	registrar Registrar
	sink      notify.Sink
	logger    zerolog.Logger
	nowFn     func() time.Time

	archive    func(ctx context.Context, password, srcDir, dstPath string) error
	passphrase string
	mirror     Mirror

	mu      sync.Mutex
	jobs    map[string]*model.BackupJob
	active  map[string]struct{}
	cancels map[string]context.CancelFunc
}

func NewRunner(provider conn.Provider, exec script.Executor, dumper script.Dumper, artifacts artifact.Store, registrar Registrar, sink notify.Sink, logger zerolog.Logger) *Runner {
	return &Runner{
		provider:  provider,
		exec:      exec,
		dumper:    dumper,
		artifacts: artifacts,
		registrar: registrar,
		sink:      sink,
		logger:    logger.With().Str("component", "backup").Logger(),
		nowFn:     time.Now,
		archive:   helper.ZipFolder,
		jobs:      map[string]*model.BackupJob{},
		active:    map[string]struct{}{},
		cancels:   map[string]context.CancelFunc{},
	}
}

// SetNow injects a clock for tests.
func (r *Runner) SetNow(now func() time.Time) { r.nowFn = now }

// SetPassphrase sets the passphrase applied when a job asks for an
// encrypted artifact.
func (r *Runner) SetPassphrase(p string) { r.passphrase = p }

// SetArchiver injects the compress step for tests.
func (r *Runner) SetArchiver(fn func(ctx context.Context, password, srcDir, dstPath string) error) {
	r.archive = fn
}

// SetMirror enables mirroring of zipped artifacts to remote storage.
func (r *Runner) SetMirror(m Mirror) { r.mirror = m }

// CreateJob registers a new pending job, assigning an id if absent.
func (r *Runner) CreateJob(job *model.BackupJob) *model.BackupJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Name == "" {
		job.Name = fmt.Sprintf("backup-%s-%s", job.Database, r.nowFn().Format("20060102_150405"))
	}
	job.Status = model.BackupPending
	job.Progress = 0
	r.jobs[job.ID] = job
	return job
}

// Get returns a job by id.
func (r *Runner) Get(jobID string) (*model.BackupJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("backup job %q: %w", jobID, model.ErrNotFound)
	}
	return job, nil
}

// Jobs returns all known jobs.
func (r *Runner) Jobs() []*model.BackupJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.BackupJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// RunScheduled creates and executes one job for a due schedule. Used
// by the scheduler loop.
func (r *Runner) RunScheduled(ctx context.Context, sched *model.ScheduledBackup) (*model.BackupJob, error) {
	job := r.CreateJob(&model.BackupJob{
		Name:         fmt.Sprintf("%s-%s", sched.Name, r.nowFn().Format("20060102_150405")),
		ConnectionID: sched.ConnectionID,
		Database:     sched.Database,
		Kind:         sched.Kind,
		Format:       sched.Format,
		Options:      sched.Options,
	})
	if err := r.Execute(ctx, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

// Execute runs a job through pending → running → (verifying) →
// completed. Execution failures are captured into the job record;
// only precondition violations surface as returned errors.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("backup job %q: %w", jobID, model.ErrNotFound)
	}
	if _, running := r.active[jobID]; running {
		r.mu.Unlock()
		return fmt.Errorf("backup job %q: %w", jobID, model.ErrAlreadyRunning)
	}
	r.active[jobID] = struct{}{}
	ctx, cancel := context.WithCancel(ctx)
	r.cancels[jobID] = cancel

	now := r.nowFn()
	job.Status = model.BackupRunning
	job.Progress = 0
	job.Error = ""
	job.StartedAt = &now
	job.CompletedAt = nil
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.active, jobID)
		delete(r.cancels, jobID)
		r.mu.Unlock()
	}()

	r.run(ctx, job)
	return nil
}

func (r *Runner) run(ctx context.Context, job *model.BackupJob) {
	r.progress(job, "preparing", 5)

	info, err := r.provider.Resolve(job.ConnectionID)
	if err != nil {
		r.fail(job, fmt.Errorf("resolve connection: %w", err))
		return
	}

	timeout := time.Duration(job.Options.TimeoutSeconds) * time.Second

	if r.cancelled(job) {
		return
	}
	if job.Options.PreScript != "" {
		if err := r.exec.Execute(ctx, info, job.Options.PreScript, timeout); err != nil {
			r.warn(job, fmt.Sprintf("pre-backup script failed: %v", err))
		}
		r.progress(job, "pre-backup script", 25)
	}

	if r.cancelled(job) {
		return
	}
	name := fmt.Sprintf("%s_%s_%s", job.Database, job.Kind, r.nowFn().Format("20060102_150405"))
	path := r.artifacts.BackupPath(name)
	if err := r.dumper.Dump(ctx, info, job.Database, job.Kind, path); err != nil {
		r.fail(job, fmt.Errorf("create artifact: %w", err))
		return
	}
	r.progress(job, "artifact created", 70)

	if r.cancelled(job) {
		return
	}
	if job.Options.Compress || job.Options.Encrypt {
		password := ""
		if job.Options.Encrypt {
			password = r.passphrase
		}
		zipPath := path + ".zip"
		if err := r.archive(ctx, password, path, zipPath); err != nil {
			r.fail(job, fmt.Errorf("compress artifact: %w", err))
			return
		}
		if err := r.artifacts.Delete(ctx, path); err != nil {
			r.warn(job, fmt.Sprintf("remove uncompressed artifact: %v", err))
		}
		path = zipPath
		r.progress(job, "artifact compressed", 75)
	}

	if r.cancelled(job) {
		return
	}
	r.setStatus(job, model.BackupVerifying)
	checksum, size, err := r.artifacts.Checksum(path)
	if err != nil {
		r.fail(job, fmt.Errorf("checksum artifact: %w", err))
		return
	}
	r.mu.Lock()
	job.ArtifactPath = path
	job.ArtifactSize = size
	job.Checksum = checksum
	r.mu.Unlock()
	r.progress(job, "artifact verified", 85)

	if r.cancelled(job) {
		return
	}
	// Only zipped artifacts mirror; mysqlsh dump directories stay local.
	if r.mirror != nil && (job.Options.Compress || job.Options.Encrypt) {
		if err := r.mirrorArtifact(ctx, path); err != nil {
			r.warn(job, fmt.Sprintf("mirror artifact: %v", err))
		}
		r.progress(job, "artifact mirrored", 90)
	}

	if r.cancelled(job) {
		return
	}
	if job.Options.PostScript != "" {
		if err := r.exec.Execute(ctx, info, job.Options.PostScript, timeout); err != nil {
			r.warn(job, fmt.Sprintf("post-backup script failed: %v", err))
		}
		r.progress(job, "post-backup script", 95)
	}

	if r.cancelled(job) {
		return
	}
	r.complete(job)
}

// Cancel requests cooperative cancellation. The job flips to cancelled
// immediately; the in-flight execution stops at the next phase boundary.
func (r *Runner) Cancel(jobID string) error {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("backup job %q: %w", jobID, model.ErrNotFound)
	}
	if job.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	now := r.nowFn()
	job.Status = model.BackupCancelled
	job.CompletedAt = &now
	cancel := r.cancels[jobID]
	delete(r.active, jobID)
	delete(r.cancels, jobID)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.logger.Info().Str("job", jobID).Msg("backup job cancelled")
	r.sink.Done(notify.KindBackup, jobID, false, "cancelled")
	return nil
}

func (r *Runner) complete(job *model.BackupJob) {
	r.mu.Lock()
	// A cancel may have landed after the last boundary check.
	if job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	now := r.nowFn()
	job.Status = model.BackupCompleted
	job.Progress = 100
	job.CompletedAt = &now
	r.mu.Unlock()

	if r.registrar != nil {
		meta := model.PointMetadata{
			Database:   job.Database,
			Checksum:   job.Checksum,
			Compressed: job.Options.Compress,
			Encrypted:  job.Options.Encrypt,
		}
		if _, err := r.registrar.Register(job.ID, job.ArtifactPath, pointKind(job.Kind), meta); err != nil {
			r.logger.Warn().Err(err).Str("job", job.ID).Msg("failed to register recovery point")
		}
	}

	r.logger.Info().Str("job", job.ID).Str("artifact", job.ArtifactPath).Int64("size", job.ArtifactSize).Msg("backup completed")
	r.sink.Done(notify.KindBackup, job.ID, true, fmt.Sprintf("completed, artifact %s", job.ArtifactPath))
}

func (r *Runner) fail(job *model.BackupJob, err error) {
	r.mu.Lock()
	// A cancelled dump surfaces a context error; the cancelled status wins.
	if job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	now := r.nowFn()
	job.Status = model.BackupFailed
	job.Error = err.Error()
	job.CompletedAt = &now
	r.mu.Unlock()

	r.logger.Error().Err(err).Str("job", job.ID).Msg("backup failed")
	r.sink.Done(notify.KindBackup, job.ID, false, err.Error())
}

func (r *Runner) mirrorArtifact(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return r.mirror.Upload(ctx, filepath.Base(path), file)
}

func (r *Runner) warn(job *model.BackupJob, msg string) {
	r.logger.Warn().Str("job", job.ID).Msg(msg)
	r.sink.Warning(notify.KindBackup, job.ID, msg)
}

func (r *Runner) cancelled(job *model.BackupJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return job.Status == model.BackupCancelled
}

func (r *Runner) setStatus(job *model.BackupJob, s model.BackupStatus) {
	r.mu.Lock()
	if !job.Status.Terminal() {
		job.Status = s
	}
	r.mu.Unlock()
}

// progress raises the job progress, never lowering it.
func (r *Runner) progress(job *model.BackupJob, phase string, pct int) {
	r.mu.Lock()
	if pct > job.Progress {
		job.Progress = pct
	}
	pct = job.Progress
	r.mu.Unlock()
	r.sink.Progress(notify.KindBackup, job.ID, phase, pct)
}

func pointKind(kind model.BackupKind) model.PointKind {
	switch kind {
	case model.BackupIncremental:
		return model.PointIncremental
	case model.BackupSchema:
		return model.PointSchema
	default:
		return model.PointFull
	}
}
