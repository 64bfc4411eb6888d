// Package recovery runs recovery jobs against registered recovery
// points, including point-in-time and partial-object recovery, with an
// optional verification pass.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davexpro/recoverd/internal/conn"
	"github.com/davexpro/recoverd/internal/model"
	"github.com/davexpro/recoverd/internal/notify"
	"github.com/davexpro/recoverd/internal/pkg/helper"
	"github.com/davexpro/recoverd/internal/script"
	"github.com/davexpro/recoverd/internal/store"
)

// PointSource looks up recovery points. Satisfied by points.Registry.
type PointSource interface {
	Get(id string) (*model.RecoveryPoint, error)
}

// Runner executes recovery jobs. At most one execution per job id may
// be in flight.
type Runner struct {
	repo     store.Repository
	points   PointSource
	provider conn.Provider
	exec     script.Executor
	dumper   script.Dumper
	verifier *Verifier
	sink     notify.Sink
	logger   zerolog.Logger
	nowFn    func() time.Time

	extract    func(ctx context.Context, password, srcPath, dstDir string) error
	passphrase string

	mu      sync.Mutex
	jobs    map[string]*model.RecoveryJob
	active  map[string]struct{}
	cancels map[string]context.CancelFunc
}

func NewRunner(repo store.Repository, points PointSource, provider conn.Provider, exec script.Executor, dumper script.Dumper, verifier *Verifier, sink notify.Sink, logger zerolog.Logger) *Runner {
	r := &Runner{
		repo:     repo,
		points:   points,
		provider: provider,
		exec:     exec,
		dumper:   dumper,
		verifier: verifier,
		sink:     sink,
		logger:   logger.With().Str("component", "recovery").Logger(),
		nowFn:    time.Now,
		extract:  helper.Unzip,
		jobs:     map[string]*model.RecoveryJob{},
		active:   map[string]struct{}{},
		cancels:  map[string]context.CancelFunc{},
	}
	for _, j := range repo.LoadRecoveryJobs() {
		// A crash mid-run leaves no process to finish the job.
		if !j.Status.Terminal() {
			j.Status = model.RecoveryFailed
			j.Error = "interrupted by engine restart"
		}
		r.jobs[j.ID] = j
	}
	return r
}

// SetNow injects a clock for tests.
func (r *Runner) SetNow(now func() time.Time) { r.nowFn = now }

// SetPassphrase sets the passphrase used to open encrypted artifacts.
func (r *Runner) SetPassphrase(p string) { r.passphrase = p }

// SetExtractor injects the unpack step for tests.
func (r *Runner) SetExtractor(fn func(ctx context.Context, password, srcPath, dstDir string) error) {
	r.extract = fn
}

// CreateJob registers a new pending recovery job.
func (r *Runner) CreateJob(job *model.RecoveryJob) *model.RecoveryJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Name == "" {
		job.Name = fmt.Sprintf("recovery-%s-%s", job.Database, r.nowFn().Format("20060102_150405"))
	}
	job.Status = model.RecoveryPending
	job.Progress = 0
	job.CreatedAt = r.nowFn()
	r.jobs[job.ID] = job
	r.persistLocked()
	return job
}

// Get returns a job by id.
func (r *Runner) Get(jobID string) (*model.RecoveryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("recovery job %q: %w", jobID, model.ErrNotFound)
	}
	return job, nil
}

// Jobs returns all known jobs, newest first.
func (r *Runner) Jobs() []*model.RecoveryJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.RecoveryJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Execute runs a job through pending → preparing → recovering →
// (verifying) → completed. Precondition violations surface as returned
// errors; execution failures are captured into the job record.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("recovery job %q: %w", jobID, model.ErrNotFound)
	}
	if _, running := r.active[jobID]; running {
		r.mu.Unlock()
		return fmt.Errorf("recovery job %q: %w", jobID, model.ErrAlreadyRunning)
	}
	r.mu.Unlock()

	var point *model.RecoveryPoint
	if job.Type == model.RecoveryPointInTime {
		if job.Target == nil {
			return fmt.Errorf("recovery job %q: point in time target required", jobID)
		}
	} else {
		p, err := r.points.Get(job.PointID)
		if err != nil {
			return fmt.Errorf("recovery job %q: %w", jobID, err)
		}
		point = p
	}

	r.mu.Lock()
	if _, running := r.active[jobID]; running {
		r.mu.Unlock()
		return fmt.Errorf("recovery job %q: %w", jobID, model.ErrAlreadyRunning)
	}
	r.active[jobID] = struct{}{}
	ctx, cancel := context.WithCancel(ctx)
	r.cancels[jobID] = cancel

	now := r.nowFn()
	job.Status = model.RecoveryPreparing
	job.Progress = 0
	job.Error = ""
	job.RecoveredObjects = nil
	job.Warnings = nil
	job.StartedAt = &now
	job.CompletedAt = nil
	r.persistLocked()
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.active, jobID)
		delete(r.cancels, jobID)
		r.mu.Unlock()
	}()

	r.run(ctx, job, point)
	return nil
}

func (r *Runner) run(ctx context.Context, job *model.RecoveryJob, point *model.RecoveryPoint) {
	r.progress(job, "preparing", 10)

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
			r.warn(job, fmt.Sprintf("pre-recovery script failed: %v", err))
		}
		r.progress(job, "pre-recovery script", 20)
	}

	if r.cancelled(job) {
		return
	}
	r.setStatus(job, model.RecoveryRecovering)
	r.progress(job, "recovering", 30)

	if job.Type == model.RecoveryPointInTime {
		err = r.dumper.RestoreToTime(ctx, info, job.Database, job.Target)
	} else {
		location := point.Location
		// Zipped artifacts unpack next to themselves before loading.
		if strings.HasSuffix(location, ".zip") {
			password := ""
			if point.Metadata.Encrypted {
				password = r.passphrase
			}
			dir := strings.TrimSuffix(location, ".zip")
			if uerr := r.extract(ctx, password, location, dir); uerr != nil {
				r.fail(job, fmt.Errorf("unpack artifact: %w", uerr))
				return
			}
			location = dir
		}
		err = r.dumper.Restore(ctx, info, location, job.Database, job.Options.Tables)
	}
	if err != nil {
		r.fail(job, fmt.Errorf("restore: %w", err))
		return
	}

	r.mu.Lock()
	job.RecoveredObjects = recoveredObjects(job)
	r.persistLocked()
	r.mu.Unlock()
	r.progress(job, "recovered", 70)

	if r.cancelled(job) {
		return
	}
	if job.Options.VerifyAfterRecovery {
		r.setStatus(job, model.RecoveryVerifying)
		r.progress(job, "verifying", 80)

		v := r.verifier.Verify(ctx, info, job.Database, job.RecoveredObjects)
		r.mu.Lock()
		job.Verification = v
		// Verification trouble is advisory, not a job failure.
		for _, e := range v.Errors {
			job.Warnings = append(job.Warnings, "verification: "+e)
		}
		r.persistLocked()
		r.mu.Unlock()
	}

	if r.cancelled(job) {
		return
	}
	if job.Options.PostScript != "" {
		if err := r.exec.Execute(ctx, info, job.Options.PostScript, timeout); err != nil {
			r.warn(job, fmt.Sprintf("post-recovery script failed: %v", err))
		}
		r.progress(job, "post-recovery script", 95)
	}

	if r.cancelled(job) {
		return
	}
	r.complete(job)
}

// Cancel is only meaningful while the job is preparing, recovering or
// verifying. It does not roll back partially recovered objects.
func (r *Runner) Cancel(jobID string) error {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("recovery job %q: %w", jobID, model.ErrNotFound)
	}
	switch job.Status {
	case model.RecoveryPreparing, model.RecoveryRecovering, model.RecoveryVerifying:
	default:
		r.mu.Unlock()
		return nil
	}
	now := r.nowFn()
	job.Status = model.RecoveryCancelled
	job.CompletedAt = &now
	cancel := r.cancels[jobID]
	delete(r.active, jobID)
	delete(r.cancels, jobID)
	r.persistLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.logger.Info().Str("job", jobID).Msg("recovery job cancelled")
	r.sink.Done(notify.KindRecovery, jobID, false, "cancelled")
	return nil
}

// VerifyJob re-runs verification for an existing job, independent of
// the original execution.
func (r *Runner) VerifyJob(ctx context.Context, jobID string) (*model.RecoveryVerification, error) {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("recovery job %q: %w", jobID, model.ErrNotFound)
	}

	info, err := r.provider.Resolve(job.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}

	v := r.verifier.Verify(ctx, info, job.Database, job.RecoveredObjects)
	r.mu.Lock()
	job.Verification = v
	r.persistLocked()
	r.mu.Unlock()
	return v, nil
}

func (r *Runner) complete(job *model.RecoveryJob) {
	r.mu.Lock()
	// A cancel may have landed after the last boundary check.
	if job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	now := r.nowFn()
	job.Status = model.RecoveryCompleted
	job.Progress = 100
	job.CompletedAt = &now
	r.persistLocked()
	r.mu.Unlock()

	r.logger.Info().Str("job", job.ID).Strs("objects", job.RecoveredObjects).Msg("recovery completed")
	r.sink.Done(notify.KindRecovery, job.ID, true, "completed")
}

func (r *Runner) fail(job *model.RecoveryJob, err error) {
	r.mu.Lock()
	// A cancelled restore surfaces a context error; the cancelled status wins.
	if job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	now := r.nowFn()
	job.Status = model.RecoveryFailed
	job.Error = err.Error()
	job.CompletedAt = &now
	r.persistLocked()
	r.mu.Unlock()

	r.logger.Error().Err(err).Str("job", job.ID).Msg("recovery failed")
	r.sink.Done(notify.KindRecovery, job.ID, false, err.Error())
}

func (r *Runner) warn(job *model.RecoveryJob, msg string) {
	r.mu.Lock()
	job.Warnings = append(job.Warnings, msg)
	r.persistLocked()
	r.mu.Unlock()

	r.logger.Warn().Str("job", job.ID).Msg(msg)
	r.sink.Warning(notify.KindRecovery, job.ID, msg)
}

func (r *Runner) cancelled(job *model.RecoveryJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return job.Status == model.RecoveryCancelled
}

func (r *Runner) setStatus(job *model.RecoveryJob, s model.RecoveryStatus) {
	r.mu.Lock()
	if !job.Status.Terminal() {
		job.Status = s
		r.persistLocked()
	}
	r.mu.Unlock()
}

func (r *Runner) progress(job *model.RecoveryJob, phase string, pct int) {
	r.mu.Lock()
	if pct > job.Progress {
		job.Progress = pct
	}
	pct = job.Progress
	r.mu.Unlock()
	r.sink.Progress(notify.KindRecovery, job.ID, phase, pct)
}

func (r *Runner) persistLocked() {
	all := make([]*model.RecoveryJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	if err := r.repo.SaveRecoveryJobs(all); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist recovery jobs")
	}
}

// recoveredObjects maps a recovery type to the object categories it
// produces.
func recoveredObjects(job *model.RecoveryJob) []string {
	switch job.Type {
	case model.RecoverySchemaOnly:
		return []string{"schema", "functions", "views"}
	case model.RecoveryTableLevel:
		out := make([]string, 0, len(job.Options.Tables)+2)
		for _, t := range job.Options.Tables {
			out = append(out, "table:"+t)
		}
		return append(out, "indexes", "constraints")
	case model.RecoveryPointInTime:
		return []string{"schema", "tables", fmt.Sprintf("state:%s", job.Target.Timestamp.UTC().Format(time.RFC3339))}
	default: // complete
		return []string{"schema", "tables", "indexes", "constraints", "functions", "views"}
	}
}
