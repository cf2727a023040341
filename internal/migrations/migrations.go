// Package migrations runs named, tagged, one-off database migrations and
// records which ones have been applied.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/metrics"
)

var (
	// ErrUnknownMigration is returned for names not in the registry.
	ErrUnknownMigration = errors.New("unknown migration")
	// ErrNotApplied is returned when rolling back a migration that never ran.
	ErrNotApplied = errors.New("migration not applied")
)

// Database is what migrations run against. DropCollection must succeed
// when the collection does not exist.
type Database interface {
	DropCollection(ctx context.Context, name string) error
	ListApplied(ctx context.Context) ([]string, error)
	RecordApplied(ctx context.Context, name string, at time.Time) error
	RemoveApplied(ctx context.Context, name string) error
	Close(ctx context.Context) error
}

// Migration is one named change. Names sort in the order they run.
type Migration struct {
	Name string
	Tags []string
	Up   func(ctx context.Context, db Database) error
	Down func(ctx context.Context, db Database) error
}

func (m Migration) matches(tags []string) bool {
	if len(tags) == 0 || len(m.Tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range m.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Registry holds migrations keyed by name.
type Registry struct {
	byName map[string]Migration
}

// NewRegistry creates a registry holding ms.
func NewRegistry(ms ...Migration) (*Registry, error) {
	r := &Registry{byName: make(map[string]Migration)}
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds m. Names must be unique and Up must be set.
func (r *Registry) Register(m Migration) error {
	if m.Name == "" || m.Up == nil {
		return fmt.Errorf("migration %q: name and up are required", m.Name)
	}
	if _, ok := r.byName[m.Name]; ok {
		return fmt.Errorf("migration %q registered twice", m.Name)
	}
	r.byName[m.Name] = m
	return nil
}

// Get returns the migration called name.
func (r *Registry) Get(name string) (Migration, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// All returns the migrations sorted by name.
func (r *Registry) All() []Migration {
	out := make([]Migration, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status is one line of Runner.Status.
type Status struct {
	Name    string
	Tags    []string
	Applied bool
}

// Runner applies registry migrations to a database.
type Runner struct {
	db       Database
	registry *Registry
	log      *zap.Logger
	now      func() time.Time
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(db Database, registry *Registry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, registry: registry, log: logger.Named("migrations"), now: time.Now}
}

func (r *Runner) applied(ctx context.Context) (map[string]bool, error) {
	names, err := r.db.ListApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// Up applies, in name order, every pending migration matching tags and
// returns the names it applied. It stops at the first failure.
func (r *Runner) Up(ctx context.Context, tags []string) ([]string, error) {
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range r.registry.All() {
		if done[m.Name] || !m.matches(tags) {
			continue
		}
		r.log.Info("running migration", zap.String("name", m.Name))
		start := time.Now()
		err := m.Up(ctx, r.db)
		if err == nil {
			err = r.db.RecordApplied(ctx, m.Name, r.now())
		}
		metrics.RecordMigration("up", err == nil)
		if err != nil {
			return ran, fmt.Errorf("migration %s: %w", m.Name, err)
		}
		r.log.Info("migration applied", zap.String("name", m.Name), zap.Duration("duration", time.Since(start)))
		ran = append(ran, m.Name)
	}
	return ran, nil
}

// Down rolls back the applied migration called name.
func (r *Runner) Down(ctx context.Context, name string) error {
	m, ok := r.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMigration, name)
	}
	done, err := r.applied(ctx)
	if err != nil {
		return err
	}
	if !done[name] {
		return fmt.Errorf("%w: %s", ErrNotApplied, name)
	}

	r.log.Info("rolling back migration", zap.String("name", name))
	if m.Down != nil {
		err = m.Down(ctx, r.db)
	}
	if err == nil {
		err = r.db.RemoveApplied(ctx, name)
	}
	metrics.RecordMigration("down", err == nil)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", name, err)
	}
	return nil
}

// Status lists every registered migration and whether it has run.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	all := r.registry.All()
	out := make([]Status, 0, len(all))
	for _, m := range all {
		out = append(out, Status{Name: m.Name, Tags: m.Tags, Applied: done[m.Name]})
	}
	return out, nil
}
