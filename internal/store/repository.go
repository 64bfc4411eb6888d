// Package store persists engine state as JSON collections on disk.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/davexpro/recoverd/internal/model"
)

// DefaultHistoryLimit caps the schedule execution history.
const DefaultHistoryLimit = 1000

// Collection file names under the state directory.
const (
	schedulesFile  = "schedules.json"
	executionsFile = "executions.json"
	pointsFile     = "recovery_points.json"
	recoveryFile   = "recovery_jobs.json"
)

// Repository is the durable state store of the engine. Each collection
// loads and saves independently; a load failure yields an empty
// collection, never an error that would abort startup.
type Repository interface {
	LoadSchedules() []*model.ScheduledBackup
	SaveSchedules(schedules []*model.ScheduledBackup) error
	LoadExecutions() []*model.ScheduleExecution
	SaveExecutions(executions []*model.ScheduleExecution) error
	LoadPoints() []*model.RecoveryPoint
	SavePoints(points []*model.RecoveryPoint) error
	LoadRecoveryJobs() []*model.RecoveryJob
	SaveRecoveryJobs(jobs []*model.RecoveryJob) error
}

// FileRepository keeps each collection in its own JSON file and
// replaces files atomically on save.
type FileRepository struct {
	dir          string
	historyLimit int
	logger       zerolog.Logger

	mu sync.Mutex
}

// NewFileRepository creates the state directory if needed.
func NewFileRepository(dir string, logger zerolog.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileRepository{
		dir:          dir,
		historyLimit: DefaultHistoryLimit,
		logger:       logger.With().Str("component", "store").Logger(),
	}, nil
}

// SetHistoryLimit overrides the execution history cap.
func (r *FileRepository) SetHistoryLimit(n int) {
	if n > 0 {
		r.historyLimit = n
	}
}

func (r *FileRepository) LoadSchedules() []*model.ScheduledBackup {
	var out []*model.ScheduledBackup
	r.load(schedulesFile, &out)
	return out
}

func (r *FileRepository) SaveSchedules(schedules []*model.ScheduledBackup) error {
	return r.save(schedulesFile, schedules)
}

func (r *FileRepository) LoadExecutions() []*model.ScheduleExecution {
	var out []*model.ScheduleExecution
	r.load(executionsFile, &out)
	return out
}

// SaveExecutions sorts newest-first by scheduled time and truncates the
// history to the configured cap before writing.
func (r *FileRepository) SaveExecutions(executions []*model.ScheduleExecution) error {
	sorted := make([]*model.ScheduleExecution, len(executions))
	copy(sorted, executions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScheduledFor.After(sorted[j].ScheduledFor)
	})
	if len(sorted) > r.historyLimit {
		sorted = sorted[:r.historyLimit]
	}
	return r.save(executionsFile, sorted)
}

func (r *FileRepository) LoadPoints() []*model.RecoveryPoint {
	var out []*model.RecoveryPoint
	r.load(pointsFile, &out)
	return out
}

func (r *FileRepository) SavePoints(points []*model.RecoveryPoint) error {
	return r.save(pointsFile, points)
}

func (r *FileRepository) LoadRecoveryJobs() []*model.RecoveryJob {
	var out []*model.RecoveryJob
	r.load(recoveryFile, &out)
	return out
}

func (r *FileRepository) SaveRecoveryJobs(jobs []*model.RecoveryJob) error {
	return r.save(recoveryFile, jobs)
}

func (r *FileRepository) load(name string, out any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("file", name).Msg("failed to read collection, starting empty")
		}
		return
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		r.logger.Warn().Err(err).Str("file", name).Msg("failed to parse collection, starting empty")
	}
}

func (r *FileRepository) save(name string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(r.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
