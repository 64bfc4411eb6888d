// Package scheduler fires scheduled backups when they come due and
// maintains their execution history.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davexpro/recoverd/internal/model"
	"github.com/davexpro/recoverd/internal/store"
)

const (
	// DefaultTickInterval is how often due schedules are evaluated.
	DefaultTickInterval = time.Minute
	// DefaultGuardWindow dampens duplicate firings across overlapping
	// ticks and clock adjustments.
	DefaultGuardWindow = time.Hour
)

// JobRunner triggers one backup run for a due schedule. Satisfied by
// backup.Runner.
type JobRunner interface {
	RunScheduled(ctx context.Context, sched *model.ScheduledBackup) (*model.BackupJob, error)
}

// Scheduler drives the periodic tick. The tick never blocks on job
// completion; due schedules run in their own goroutines.
type Scheduler struct {
	repo     store.Repository
	runner   JobRunner
	logger   zerolog.Logger
	clock    Clock
	interval time.Duration
	guard    time.Duration

	mu         sync.Mutex
	schedules  map[string]*model.ScheduledBackup
	executions []*model.ScheduleExecution
	inflight   map[string]struct{}

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	fires sync.WaitGroup
}

func NewScheduler(repo store.Repository, runner JobRunner, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		repo:       repo,
		runner:     runner,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		clock:      SystemClock{},
		interval:   DefaultTickInterval,
		guard:      DefaultGuardWindow,
		schedules:  map[string]*model.ScheduledBackup{},
		executions: repo.LoadExecutions(),
		inflight:   map[string]struct{}{},
	}
	for _, sched := range repo.LoadSchedules() {
		s.schedules[sched.ID] = sched
	}
	return s
}

// SetClock injects a clock for tests.
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// SetInterval overrides the tick interval.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetGuardWindow overrides the duplicate-firing guard.
func (s *Scheduler) SetGuardWindow(d time.Duration) {
	if d > 0 {
		s.guard = d
	}
}

// CreateSchedule registers a new scheduled backup and computes its
// first next-run.
func (s *Scheduler) CreateSchedule(sched *model.ScheduledBackup) (*model.ScheduledBackup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	sched.CreatedAt = now
	sched.UpdatedAt = now
	sched.NextRun = NextRun(now, sched.Schedule)
	s.schedules[sched.ID] = sched

	if err := s.persistSchedulesLocked(); err != nil {
		return nil, err
	}
	s.logger.Info().Str("schedule", sched.ID).Str("name", sched.Name).Time("next_run", sched.NextRun).Msg("schedule created")
	return sched, nil
}

// UpdateSchedule replaces a schedule definition and recomputes its
// next-run from now.
func (s *Scheduler) UpdateSchedule(sched *model.ScheduledBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schedules[sched.ID]
	if !ok {
		return fmt.Errorf("schedule %q: %w", sched.ID, model.ErrNotFound)
	}

	now := s.clock.Now()
	// Run history belongs to the schedule id, not the incoming record.
	sched.CreatedAt = existing.CreatedAt
	sched.LastRun = existing.LastRun
	sched.RunCount = existing.RunCount
	sched.SuccessCount = existing.SuccessCount
	sched.FailureCount = existing.FailureCount
	sched.UpdatedAt = now
	sched.NextRun = NextRun(now, sched.Schedule)
	s.schedules[sched.ID] = sched
	return s.persistSchedulesLocked()
}

// DeleteSchedule removes a schedule and all of its executions.
func (s *Scheduler) DeleteSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("schedule %q: %w", id, model.ErrNotFound)
	}
	delete(s.schedules, id)

	kept := s.executions[:0]
	for _, e := range s.executions {
		if e.ScheduleID != id {
			kept = append(kept, e)
		}
	}
	s.executions = kept

	if err := s.persistSchedulesLocked(); err != nil {
		return err
	}
	return s.persistExecutionsLocked()
}

// GetSchedule returns a schedule by id.
func (s *Scheduler) GetSchedule(id string) (*model.ScheduledBackup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %q: %w", id, model.ErrNotFound)
	}
	return sched, nil
}

// ListSchedules returns all schedules ordered by next-run ascending.
func (s *Scheduler) ListSchedules() []*model.ScheduledBackup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ScheduledBackup, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRun.Before(out[j].NextRun)
	})
	return out
}

// Executions returns the history for a schedule, newest first.
func (s *Scheduler) Executions(scheduleID string) []*model.ScheduleExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ScheduleExecution
	for _, e := range s.executions {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledFor.After(out[j].ScheduledFor)
	})
	return out
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the tick timer. In-flight job executions keep running.
// Idempotent.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info().Msg("scheduler stopped")
}

// Tick evaluates due schedules once and fires them without waiting for
// completion.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*model.ScheduledBackup
	for _, sched := range s.schedules {
		if !sched.Enabled || sched.NextRun.After(now) {
			continue
		}
		// Guard window: tolerate duplicate or overlapping ticks.
		if sched.LastRun != nil && now.Sub(*sched.LastRun) < s.guard {
			continue
		}
		// One run per schedule at a time.
		if _, busy := s.inflight[sched.ID]; busy {
			continue
		}
		due = append(due, sched)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRun.Before(due[j].NextRun)
	})
	for _, sched := range due {
		s.inflight[sched.ID] = struct{}{}
	}
	s.mu.Unlock()

	for _, sched := range due {
		exec := &model.ScheduleExecution{
			ID:           uuid.NewString(),
			ScheduleID:   sched.ID,
			ScheduledFor: sched.NextRun,
			Status:       model.ExecutionPending,
		}
		s.mu.Lock()
		s.executions = append(s.executions, exec)
		s.mu.Unlock()

		s.fires.Add(1)
		go s.fire(ctx, sched, exec)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *model.ScheduledBackup, exec *model.ScheduleExecution) {
	defer s.fires.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, sched.ID)
		s.mu.Unlock()
	}()

	started := s.clock.Now()
	s.mu.Lock()
	exec.Status = model.ExecutionRunning
	exec.StartedAt = &started
	s.mu.Unlock()

	s.logger.Info().Str("schedule", sched.ID).Str("name", sched.Name).Msg("firing scheduled backup")
	job, err := s.runner.RunScheduled(ctx, sched)

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	exec.EndedAt = &now
	if job != nil {
		exec.BackupJobID = job.ID
	}

	switch {
	case err != nil:
		exec.Status = model.ExecutionFailed
		exec.Error = err.Error()
		sched.FailureCount++
	case job.Status == model.BackupCompleted:
		exec.Status = model.ExecutionCompleted
		sched.RunCount++
		sched.SuccessCount++
		sched.LastRun = &now
	case job.Status == model.BackupCancelled:
		exec.Status = model.ExecutionCancelled
		sched.FailureCount++
	default:
		exec.Status = model.ExecutionFailed
		exec.Error = job.Error
		sched.FailureCount++
	}

	// Advance even after a failure so the schedule does not retry the
	// same slot forever.
	sched.NextRun = NextRun(now, sched.Schedule)
	sched.UpdatedAt = now

	if err := s.persistSchedulesLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist schedules")
	}
	if err := s.persistExecutionsLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist executions")
	}
}

func (s *Scheduler) persistSchedulesLocked() error {
	all := make([]*model.ScheduledBackup, 0, len(s.schedules))
	for _, sched := range s.schedules {
		all = append(all, sched)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].NextRun.Before(all[j].NextRun)
	})
	if err := s.repo.SaveSchedules(all); err != nil {
		return fmt.Errorf("persist schedules: %w", err)
	}
	return nil
}

func (s *Scheduler) persistExecutionsLocked() error {
	if err := s.repo.SaveExecutions(s.executions); err != nil {
		return fmt.Errorf("persist executions: %w", err)
	}
	return nil
}
