// Package points tracks which backup artifacts are eligible recovery
// targets and enforces retention on them.
package points

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

// DefaultRetention is how long a new recovery point stays available.
const DefaultRetention = 30 * 24 * time.Hour

// Deleter removes the underlying artifact when a point is deleted.
type Deleter interface {
	Delete(ctx context.Context, location string) error
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Database string
	Kind     model.PointKind
	Status   model.PointStatus
}

// Registry is the recovery point registry. Expiry is evaluated lazily
// at query time; physical artifact deletion stays an explicit operation.
type Registry struct {
	repo      store.Repository
	deleter   Deleter
	logger    zerolog.Logger
	retention time.Duration
	nowFn     func() time.Time

	mu     sync.Mutex
	points map[string]*model.RecoveryPoint
}

func NewRegistry(repo store.Repository, deleter Deleter, logger zerolog.Logger) *Registry {
	r := &Registry{
		repo:      repo,
		deleter:   deleter,
		logger:    logger.With().Str("component", "points").Logger(),
		retention: DefaultRetention,
		nowFn:     time.Now,
		points:    map[string]*model.RecoveryPoint{},
	}
	for _, p := range repo.LoadPoints() {
		r.points[p.ID] = p
	}
	return r
}

// SetRetention overrides the default retention window.
func (r *Registry) SetRetention(d time.Duration) {
	if d > 0 {
		r.retention = d
	}
}

// SetNow injects a clock for tests.
func (r *Registry) SetNow(now func() time.Time) { r.nowFn = now }

// Register records a finished backup artifact as an available point.
func (r *Registry) Register(backupID, location string, kind model.PointKind, meta model.PointMetadata) (*model.RecoveryPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	p := &model.RecoveryPoint{
		ID:             uuid.NewString(),
		BackupID:       backupID,
		Timestamp:      now,
		Kind:           kind,
		Location:       location,
		Status:         model.PointAvailable,
		RetentionUntil: now.Add(r.retention),
		Metadata:       meta,
	}
	r.points[p.ID] = p

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	r.logger.Info().Str("point", p.ID).Str("backup", backupID).Str("location", location).Msg("recovery point registered")
	return p, nil
}

// Get returns a point by id, including expired ones.
func (r *Registry) Get(id string) (*model.RecoveryPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.points[id]
	if !ok {
		return nil, fmt.Errorf("recovery point %q: %w", id, model.ErrNotFound)
	}
	r.expireLocked(p)
	return p, nil
}

// List returns matching points sorted newest-first. Expired points are
// flagged lazily, so a Status filter of "available" excludes them.
func (r *Registry) List(f Filter) []*model.RecoveryPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.RecoveryPoint
	for _, p := range r.points {
		r.expireLocked(p)
		if f.Database != "" && p.Metadata.Database != f.Database {
			continue
		}
		if f.Kind != "" && p.Kind != f.Kind {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Delete removes the registry entry and requests deletion of the
// underlying artifact.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	p, ok := r.points[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("recovery point %q: %w", id, model.ErrNotFound)
	}
	delete(r.points, id)
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if r.deleter != nil {
		if derr := r.deleter.Delete(ctx, p.Location); derr != nil {
			r.logger.Warn().Err(derr).Str("point", id).Msg("failed to delete artifact")
		}
	}
	r.logger.Info().Str("point", id).Msg("recovery point deleted")
	return nil
}

// Sweep flags every expired point. Returns how many flipped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	flipped := 0
	for _, p := range r.points {
		if p.Status == model.PointAvailable && p.Expired(r.nowFn()) {
			p.Status = model.PointExpired
			flipped++
		}
	}
	if flipped > 0 {
		if err := r.persistLocked(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to persist sweep")
		}
	}
	return flipped
}

func (r *Registry) expireLocked(p *model.RecoveryPoint) {
	if p.Status == model.PointAvailable && p.Expired(r.nowFn()) {
		p.Status = model.PointExpired
	}
}

func (r *Registry) persistLocked() error {
	all := make([]*model.RecoveryPoint, 0, len(r.points))
	for _, p := range r.points {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if err := r.repo.SavePoints(all); err != nil {
		return fmt.Errorf("persist recovery points: %w", err)
	}
	return nil
}
