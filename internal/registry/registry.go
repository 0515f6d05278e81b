// Package registry maps dataset variable names to datastore parameters.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.ngs.io/dsg-ingest/internal/adapter/store"
	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/dsg"
	"go.ngs.io/dsg-ingest/internal/logger"
)

// ErrIgnored is returned for names that are never loaded as parameters.
var ErrIgnored = errors.New("parameter ignored")

// Registry resolves parameters for one load. Its cache may be shared by
// concurrent loads; the ignored set is private to the load.
type Registry struct {
	store  store.ParameterStore
	cache  Cache
	origin string
	log    logger.Logger

	mu      sync.Mutex
	ignored map[string]bool
}

// New creates a registry. origin is recorded on parameters it creates.
func New(ps store.ParameterStore, cache Cache, origin string, log logger.Logger) *Registry {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Registry{
		store:   ps,
		cache:   cache,
		origin:  origin,
		log:     log,
		ignored: make(map[string]bool),
	}
}

// Resolve returns the parameter for name, creating it from def when neither
// the cache nor the datastore has one.
func (r *Registry) Resolve(ctx context.Context, name string, def domain.ParameterDefinition) (domain.Parameter, error) {
	if r.IsIgnored(name) {
		return domain.Parameter{}, fmt.Errorf("%s: %w", name, ErrIgnored)
	}

	if def.StandardName != "" {
		if p, ok := r.fromCache(ctx, standardNameKey(def.StandardName)); ok {
			return p, nil
		}
	}
	if p, ok := r.fromCache(ctx, nameKey(name)); ok {
		return p, nil
	}

	if def.StandardName != "" {
		p, err := r.store.FindParameterByStandardName(ctx, def.StandardName)
		if err == nil {
			r.remember(ctx, name, p)
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Parameter{}, fmt.Errorf("failed to look up standard_name %s: %w", def.StandardName, err)
		}
	}
	p, err := r.store.FindParameterByName(ctx, name)
	if err == nil {
		r.remember(ctx, name, p)
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Parameter{}, fmt.Errorf("failed to look up parameter %s: %w", name, err)
	}

	p, err = r.create(ctx, name, def)
	if err != nil {
		r.ignore(name)
		return domain.Parameter{}, err
	}
	r.remember(ctx, name, p)
	return p, nil
}

func (r *Registry) create(ctx context.Context, name string, def domain.ParameterDefinition) (domain.Parameter, error) {
	param := domain.Parameter{
		Name:         name,
		Type:         def.Type,
		Description:  def.Description,
		StandardName: def.StandardName,
		LongName:     def.LongName,
		Units:        def.Units,
		Origin:       r.origin,
	}

	created, err := r.store.CreateParameter(ctx, param)
	if err == nil {
		r.log.Infof("Created parameter %s (id %d)", name, created.ID)
		return created, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return domain.Parameter{}, fmt.Errorf("failed to create parameter %s: %w", name, err)
	}

	r.log.Warnf("Duplicate key creating parameter %s, resetting sequence: %v", name, err)
	if err := r.store.ResetParameterSequence(ctx); err != nil {
		return domain.Parameter{}, fmt.Errorf("failed to reset parameter sequence: %w", err)
	}
	if existing, err := r.store.FindParameterByName(ctx, name); err == nil {
		return existing, nil
	}
	created, err = r.store.CreateParameter(ctx, param)
	if err != nil {
		return domain.Parameter{}, fmt.Errorf("failed to create parameter %s after sequence reset: %w", name, err)
	}
	r.log.Infof("Created parameter %s (id %d) after sequence reset", name, created.ID)
	return created, nil
}

func (r *Registry) fromCache(ctx context.Context, key string) (domain.Parameter, bool) {
	p, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warnf("Parameter cache lookup %s failed: %v", key, err)
		return domain.Parameter{}, false
	}
	return p, ok
}

func (r *Registry) remember(ctx context.Context, name string, p domain.Parameter) {
	keys := []string{nameKey(name)}
	if p.StandardName != "" {
		keys = append(keys, standardNameKey(p.StandardName))
	}
	for _, k := range keys {
		if err := r.cache.Set(ctx, k, p); err != nil {
			r.log.Warnf("Parameter cache store %s failed: %v", k, err)
		}
	}
}

func (r *Registry) ignore(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored[name] = true
}

// IsIgnored reports whether name is a coordinate spelling or a parameter that
// failed to resolve earlier in this load.
func (r *Registry) IsIgnored(name string) bool {
	if dsg.IsIgnored(name) {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignored[name]
}

// IgnoredNames lists the names that failed to resolve during this load.
func (r *Registry) IgnoredNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.ignored))
	for n := range r.ignored {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
