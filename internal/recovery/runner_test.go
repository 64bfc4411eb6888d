package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/recoverd/internal/conn"
	"github.com/davexpro/recoverd/internal/model"
	"github.com/davexpro/recoverd/internal/store"
)

type fakePoints struct {
	points map[string]*model.RecoveryPoint
}

func (p *fakePoints) Get(id string) (*model.RecoveryPoint, error) {
	pt, ok := p.points[id]
	if !ok {
		return nil, fmt.Errorf("recovery point %q: %w", id, model.ErrNotFound)
	}
	return pt, nil
}

type fakeProvider struct {
	infos map[string]*conn.Info
}

func (p *fakeProvider) Resolve(id string) (*conn.Info, error) {
	info, ok := p.infos[id]
	if !ok {
		return nil, model.ErrConnectionUnavailable
	}
	return info, nil
}

type fakeExec struct {
	mu         sync.Mutex
	statements []string
	failMatch  string
	failErr    error
}

func (e *fakeExec) Execute(_ context.Context, _ *conn.Info, statement string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statements = append(e.statements, statement)
	if e.failMatch != "" && strings.Contains(statement, e.failMatch) {
		return e.failErr
	}
	return nil
}

type restoreCall struct {
	location string
	database string
	tables   []string
}

type fakeDumper struct {
	mu         sync.Mutex
	restores   []restoreCall
	pitTargets []*model.PointInTimeTarget
	restoreErr error
	started    chan struct{}
	release    chan struct{}
}

func (d *fakeDumper) Dump(context.Context, *conn.Info, string, model.BackupKind, string) error {
	return nil
}

func (d *fakeDumper) Restore(_ context.Context, _ *conn.Info, location, database string, tables []string) error {
	d.mu.Lock()
	d.restores = append(d.restores, restoreCall{location, database, tables})
	started := d.started
	d.started = nil
	release := d.release
	d.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return d.restoreErr
}

func (d *fakeDumper) RestoreToTime(_ context.Context, _ *conn.Info, _ string, target *model.PointInTimeTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pitTargets = append(d.pitTargets, target)
	return d.restoreErr
}

type recoveryFixture struct {
	runner *Runner
	repo   *store.FileRepository
	exec   *fakeExec
	dumper *fakeDumper
	points *fakePoints
}

func newFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	repo, err := store.NewFileRepository(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return newFixtureWithRepo(repo)
}

func newFixtureWithRepo(repo *store.FileRepository) *recoveryFixture {
	points := &fakePoints{points: map[string]*model.RecoveryPoint{
		"pt-1": {
			ID:       "pt-1",
			BackupID: "job-1",
			Kind:     model.PointFull,
			Location: "/backups/shop_full",
			Status:   model.PointAvailable,
			Metadata: model.PointMetadata{Database: "shop"},
		},
	}}
	provider := &fakeProvider{infos: map[string]*conn.Info{
		"primary": {ID: "primary", Host: "127.0.0.1", Port: 3306, User: "root"},
	}}
	exec := &fakeExec{}
	dumper := &fakeDumper{}
	verifier := NewVerifier(exec, zerolog.Nop())
	runner := NewRunner(repo, points, provider, exec, dumper, verifier, &nopSink{}, zerolog.Nop())
	return &recoveryFixture{runner: runner, repo: repo, exec: exec, dumper: dumper, points: points}
}

type nopSink struct{}

func (nopSink) Progress(string, string, string, int) {}
func (nopSink) Warning(string, string, string)       {}
func (nopSink) Done(string, string, bool, string)    {}

func TestRunner_CompleteRecovery(t *testing.T) {
	f := newFixture(t)
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryComplete,
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	assert.Equal(t, model.RecoveryCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, []string{"schema", "tables", "indexes", "constraints", "functions", "views"}, job.RecoveredObjects)
	require.Len(t, f.dumper.restores, 1)
	assert.Equal(t, "/backups/shop_full", f.dumper.restores[0].location)
	assert.Equal(t, "shop", f.dumper.restores[0].database)
}

func TestRunner_TableLevelRestoresSelectedTables(t *testing.T) {
	f := newFixture(t)
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryTableLevel,
		Options:      model.RecoveryOptions{Tables: []string{"orders", "customers"}},
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	assert.Equal(t, model.RecoveryCompleted, job.Status)
	require.Len(t, f.dumper.restores, 1)
	assert.Equal(t, []string{"orders", "customers"}, f.dumper.restores[0].tables)
	assert.Equal(t, []string{"table:orders", "table:customers", "indexes", "constraints"}, job.RecoveredObjects)
}

func TestRunner_ZippedArtifactUnpacksBeforeRestore(t *testing.T) {
	f := newFixture(t)
	f.points.points["pt-zip"] = &model.RecoveryPoint{
		ID:       "pt-zip",
		BackupID: "job-2",
		Kind:     model.PointFull,
		Location: "/backups/shop.zip",
		Status:   model.PointAvailable,
		Metadata: model.PointMetadata{Database: "shop", Encrypted: true},
	}
	f.runner.SetPassphrase("s3cret")
	var gotPassword, gotSrc, gotDst string
	f.runner.SetExtractor(func(_ context.Context, password, src, dst string) error {
		gotPassword, gotSrc, gotDst = password, src, dst
		return nil
	})
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-zip",
		Type:         model.RecoveryComplete,
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	assert.Equal(t, model.RecoveryCompleted, job.Status)
	assert.Equal(t, "/backups/shop.zip", gotSrc)
	assert.Equal(t, "/backups/shop", gotDst)
	assert.Equal(t, "s3cret", gotPassword)
	require.Len(t, f.dumper.restores, 1)
	assert.Equal(t, "/backups/shop", f.dumper.restores[0].location)
}

func TestRunner_UnpackFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.points.points["pt-zip"] = &model.RecoveryPoint{
		ID:       "pt-zip",
		Kind:     model.PointFull,
		Location: "/backups/shop.zip",
		Status:   model.PointAvailable,
		Metadata: model.PointMetadata{Database: "shop"},
	}
	f.runner.SetExtractor(func(context.Context, string, string, string) error {
		return errors.New("bad archive")
	})
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-zip",
		Type:         model.RecoveryComplete,
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	assert.Equal(t, model.RecoveryFailed, job.Status)
	assert.Contains(t, job.Error, "bad archive")
	assert.Empty(t, f.dumper.restores)
}

func TestRunner_UnknownPointRejectedBeforeStart(t *testing.T) {
	f := newFixture(t)
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "gone",
		Type:         model.RecoveryComplete,
	})

	err := f.runner.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, model.RecoveryPending, job.Status)
	assert.Empty(t, f.dumper.restores)
}

func TestRunner_PointInTimeRequiresTarget(t *testing.T) {
	f := newFixture(t)
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		Type:         model.RecoveryPointInTime,
	})

	err := f.runner.Execute(context.Background(), job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "point in time target required")
	assert.Equal(t, model.RecoveryPending, job.Status)
}

func TestRunner_PointInTimeRunsWithoutPoint(t *testing.T) {
	f := newFixture(t)
	target := &model.PointInTimeTarget{Timestamp: time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)}
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		Type:         model.RecoveryPointInTime,
		Target:       target,
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	assert.Equal(t, model.RecoveryCompleted, job.Status)
	require.Len(t, f.dumper.pitTargets, 1)
	assert.Equal(t, target, f.dumper.pitTargets[0])
	assert.Contains(t, job.RecoveredObjects, "state:2024-06-01T11:30:00Z")
}

func TestRunner_RestoreFailureCapturedInJob(t *testing.T) {
	f := newFixture(t)
	f.dumper.restoreErr = errors.New("dump directory missing")
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryComplete,
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	assert.Equal(t, model.RecoveryFailed, job.Status)
	assert.Contains(t, job.Error, "dump directory missing")
	require.NotNil(t, job.CompletedAt)
}

func TestRunner_VerificationErrorsBecomeWarnings(t *testing.T) {
	f := newFixture(t)
	f.exec.failMatch = "information_schema.views"
	f.exec.failErr = errors.New("probe failed")
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryComplete,
		Options:      model.RecoveryOptions{VerifyAfterRecovery: true},
	})

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	// Verification trouble never fails the job.
	assert.Equal(t, model.RecoveryCompleted, job.Status)
	require.NotNil(t, job.Verification)
	assert.Equal(t, model.VerificationFailed, job.Verification.Status)
	assert.Equal(t, 6, job.Verification.ObjectCount)
	assert.Equal(t, 5, job.Verification.VerifiedObjects)
	require.Len(t, job.Warnings, 1)
	assert.Contains(t, job.Warnings[0], "verification: views")
}

// ctxDumper behaves like the real shell dumper under cancellation: the
// in-flight command aborts with the context error.
type ctxDumper struct {
	started chan struct{}
}

func (d *ctxDumper) Dump(context.Context, *conn.Info, string, model.BackupKind, string) error {
	return nil
}

func (d *ctxDumper) Restore(ctx context.Context, _ *conn.Info, _, _ string, _ []string) error {
	close(d.started)
	<-ctx.Done()
	return ctx.Err()
}

func (d *ctxDumper) RestoreToTime(context.Context, *conn.Info, string, *model.PointInTimeTarget) error {
	return nil
}

func TestRunner_CancelDuringRestoreStaysCancelled(t *testing.T) {
	repo, err := store.NewFileRepository(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	points := &fakePoints{points: map[string]*model.RecoveryPoint{
		"pt-1": {ID: "pt-1", Kind: model.PointFull, Location: "/backups/shop_full", Status: model.PointAvailable},
	}}
	provider := &fakeProvider{infos: map[string]*conn.Info{
		"primary": {ID: "primary", User: "root"},
	}}
	exec := &fakeExec{}
	dumper := &ctxDumper{started: make(chan struct{})}
	runner := NewRunner(repo, points, provider, exec, dumper, NewVerifier(exec, zerolog.Nop()), &nopSink{}, zerolog.Nop())
	job := runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryComplete,
	})

	done := make(chan error, 1)
	go func() { done <- runner.Execute(context.Background(), job.ID) }()
	<-dumper.started

	require.NoError(t, runner.Cancel(job.ID))
	require.NoError(t, <-done)

	// The context error from the aborted restore must not displace the
	// cancelled status.
	assert.Equal(t, model.RecoveryCancelled, job.Status)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.CompletedAt)

	// The persisted record carries the cancelled status too.
	saved := repo.LoadRecoveryJobs()
	require.Len(t, saved, 1)
	assert.Equal(t, model.RecoveryCancelled, saved[0].Status)
	assert.Empty(t, saved[0].Error)
}

func TestRunner_CancelDuringRestore(t *testing.T) {
	f := newFixture(t)
	f.dumper.started = make(chan struct{})
	f.dumper.release = make(chan struct{})
	started := f.dumper.started
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryComplete,
	})

	done := make(chan error, 1)
	go func() { done <- f.runner.Execute(context.Background(), job.ID) }()
	<-started

	require.NoError(t, f.runner.Cancel(job.ID))
	close(f.dumper.release)
	require.NoError(t, <-done)

	assert.Equal(t, model.RecoveryCancelled, job.Status)

	// A cancelled job may be executed again.
	require.NoError(t, f.runner.Execute(context.Background(), job.ID))
	assert.Equal(t, model.RecoveryCompleted, job.Status)
}

func TestRunner_CancelTerminalJobIsNoop(t *testing.T) {
	f := newFixture(t)
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoveryComplete,
	})
	require.NoError(t, f.runner.Execute(context.Background(), job.ID))
	require.Equal(t, model.RecoveryCompleted, job.Status)

	require.NoError(t, f.runner.Cancel(job.ID))
	assert.Equal(t, model.RecoveryCompleted, job.Status)
}

func TestRunner_VerifyJobStandalone(t *testing.T) {
	f := newFixture(t)
	job := f.runner.CreateJob(&model.RecoveryJob{
		ConnectionID: "primary",
		Database:     "shop",
		PointID:      "pt-1",
		Type:         model.RecoverySchemaOnly,
	})
	require.NoError(t, f.runner.Execute(context.Background(), job.ID))
	require.Equal(t, model.RecoveryCompleted, job.Status)

	v, err := f.runner.VerifyJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationPassed, v.Status)
	assert.Equal(t, 3, v.ObjectCount)
	assert.Same(t, v, job.Verification)
}

func TestRunner_RestartFlipsInFlightJobsToFailed(t *testing.T) {
	repo, err := store.NewFileRepository(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.SaveRecoveryJobs([]*model.RecoveryJob{
		{ID: "rec-1", Database: "shop", Type: model.RecoveryComplete, Status: model.RecoveryRecovering},
		{ID: "rec-2", Database: "shop", Type: model.RecoveryComplete, Status: model.RecoveryCompleted},
	}))

	f := newFixtureWithRepo(repo)

	interrupted, err := f.runner.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryFailed, interrupted.Status)
	assert.Equal(t, "interrupted by engine restart", interrupted.Error)

	finished, err := f.runner.Get("rec-2")
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryCompleted, finished.Status)
}

func TestRunner_JobsNewestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		f.runner.SetNow(func() time.Time { return ts })
		f.runner.CreateJob(&model.RecoveryJob{Database: "shop", PointID: "pt-1", Type: model.RecoveryComplete})
	}

	jobs := f.runner.Jobs()
	require.Len(t, jobs, 3)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
	assert.True(t, jobs[1].CreatedAt.After(jobs[2].CreatedAt))
}
