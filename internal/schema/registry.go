package schema

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/model"
)

// Registry holds the schemas of one (db, namespace). The write coordinator is
// the only mutator; mutations are serialised through mu and readers observe a
// consistent snapshot via copy-on-write map replacement.
type Registry struct {
	store  *Store
	logger zerolog.Logger

	mu       sync.Mutex   // serialises mutators
	snapshot atomic.Value // map[string]model.Schema, never mutated in place
}

// NewRegistry opens a registry over a store, rebuilding the in-memory map by
// a full scan of the persistent index.
func NewRegistry(ctx context.Context, store *Store, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		store:  store,
		logger: logger.With().Str("component", "schema-registry").Logger(),
	}
	warm, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	r.snapshot.Store(warm)
	r.logger.Info().Int("metrics", len(warm)).Msg("Schema registry warmed")
	return r, nil
}

func (r *Registry) current() map[string]model.Schema {
	return r.snapshot.Load().(map[string]model.Schema)
}

// Get returns the schema of a metric, if known.
func (r *Registry) Get(metric string) (model.Schema, bool) {
	s, ok := r.current()[metric]
	if !ok {
		return model.Schema{}, false
	}
	return s.Copy(), true
}

// Metrics lists the known metric names, sorted.
func (r *Registry) Metrics() []string {
	cur := r.current()
	out := make([]string, 0, len(cur))
	for m := range cur {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Update applies the compatibility rule: for every field present in both the
// old and proposed schema the index type must be unchanged, and the effective
// schema is the union of both field sets. Incompatibilities reject the update
// whole, with one structured reason per offending field.
func (r *Registry) Update(metric string, proposed model.Schema) (model.Schema, error) {
	if err := proposed.Validate(); err != nil {
		return model.Schema{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	old, exists := cur[metric]

	effective := proposed
	if exists {
		var reasons []model.IncompatibleField
		for name, newField := range proposed.Fields {
			if oldField, shared := old.Fields[name]; shared && oldField.Type != newField.Type {
				reasons = append(reasons, model.IncompatibleField{Field: name, Old: oldField.Type, New: newField.Type})
			}
		}
		if len(reasons) > 0 {
			sort.Slice(reasons, func(i, j int) bool { return reasons[i].Field < reasons[j].Field })
			return model.Schema{}, &model.SchemaConflictError{Metric: metric, Reasons: reasons}
		}

		effective = old.Copy()
		effective.Metric = metric
		for name, f := range proposed.Fields {
			effective.Fields[name] = f
		}
	}
	effective.Metric = metric

	if err := r.store.Put(effective); err != nil {
		return model.Schema{}, err
	}
	r.swap(func(next map[string]model.Schema) {
		next[metric] = effective
	})
	return effective.Copy(), nil
}

// Delete drops the schema of one metric. Idempotent.
func (r *Registry) Delete(metric string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(metric); err != nil {
		return err
	}
	r.swap(func(next map[string]model.Schema) {
		delete(next, metric)
	})
	return nil
}

// DeleteAll drops every schema in the namespace.
func (r *Registry) DeleteAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for metric := range r.current() {
		if err := r.store.Delete(metric); err != nil {
			return err
		}
	}
	r.snapshot.Store(map[string]model.Schema{})
	return nil
}

// swap publishes a new snapshot built from a copy of the current one.
// Must be called with mu held.
func (r *Registry) swap(mutate func(map[string]model.Schema)) {
	cur := r.current()
	next := make(map[string]model.Schema, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	mutate(next)
	r.snapshot.Store(next)
}
