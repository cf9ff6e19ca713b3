// Package signals collects external data-source readings that get
// attached to every oracle request. Sources are best-effort: a failing
// source is skipped, and one that fails repeatedly is disabled until an
// operator re-enables it.
package signals

import (
	"context"
	"log"
	"sort"
	"sync"

	"trading-botv1/internal/model"
)

// A source is disabled after this many consecutive fetch errors.
const maxConsecutiveErrors = 5

// DataSource produces a signal reading for a symbol.
type DataSource interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (model.Signal, error)
}

// Cache is the short-TTL signal cache, satisfied by the Redis store.
// A nil cache means every Collect hits the sources directly.
type Cache interface {
	CacheSignal(ctx context.Context, sig model.Signal) error
	CachedSignal(ctx context.Context, source, symbol string) (*model.Signal, error)
}

// SourceStatus is a registry snapshot row for the dashboard.
type SourceStatus struct {
	Name     string `json:"name"`
	Errors   int    `json:"errors"`
	Disabled bool   `json:"disabled"`
}

type entry struct {
	src      DataSource
	errors   int
	disabled bool
}

// Registry holds the configured data sources and their health state.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*entry
	order   []string
	cache   Cache

	// OnFetchError is invoked once per failed fetch. Optional.
	OnFetchError func(source string)
}

func NewRegistry(cache Cache) *Registry {
	return &Registry{
		sources: make(map[string]*entry),
		cache:   cache,
	}
}

// Register adds a source. Re-registering a name resets its error state.
func (r *Registry) Register(src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := src.Name()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = &entry{src: src}
}

// Collect gathers readings for a symbol from every enabled source.
// Failures are counted per source and never fail the collection; after
// maxConsecutiveErrors the source stops being queried.
func (r *Registry) Collect(ctx context.Context, symbol string) []model.Signal {
	r.mu.Lock()
	type pick struct {
		name string
		src  DataSource
	}
	picks := make([]pick, 0, len(r.order))
	for _, name := range r.order {
		e := r.sources[name]
		if !e.disabled {
			picks = append(picks, pick{name, e.src})
		}
	}
	r.mu.Unlock()

	out := make([]model.Signal, 0, len(picks))
	for _, p := range picks {
		if r.cache != nil {
			if cached, err := r.cache.CachedSignal(ctx, p.name, symbol); err == nil && cached != nil {
				out = append(out, *cached)
				continue
			}
		}

		sig, err := p.src.Fetch(ctx, symbol)
		if err != nil {
			r.recordError(p.name, err)
			continue
		}
		r.recordSuccess(p.name)

		if r.cache != nil {
			if cerr := r.cache.CacheSignal(ctx, sig); cerr != nil {
				log.Printf("[signals] cache write failed for %s: %v", p.name, cerr)
			}
		}
		out = append(out, sig)
	}
	return out
}

func (r *Registry) recordError(name string, err error) {
	if r.OnFetchError != nil {
		r.OnFetchError(name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sources[name]
	if !ok {
		return
	}
	e.errors++
	log.Printf("[signals] source %s error %d/%d: %v", name, e.errors, maxConsecutiveErrors, err)
	if e.errors >= maxConsecutiveErrors && !e.disabled {
		e.disabled = true
		log.Printf("[signals] source %s disabled after %d consecutive errors", name, e.errors)
	}
}

func (r *Registry) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sources[name]; ok {
		e.errors = 0
	}
}

// Enable re-enables a disabled source and clears its error count.
func (r *Registry) Enable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sources[name]
	if !ok {
		return false
	}
	e.disabled = false
	e.errors = 0
	return true
}

// Status returns a snapshot of all sources, sorted by name.
func (r *Registry) Status() []SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceStatus, 0, len(r.sources))
	for name, e := range r.sources {
		out = append(out, SourceStatus{Name: name, Errors: e.errors, Disabled: e.disabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
