// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
)

// Registry holds the configured providers and routes "provider/model"
// references to them, walking a failover chain when the preferred provider
// is unavailable.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string
	failover   []string
}

var _ FailoverRouter = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under name, replacing any previous one.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, gitaerr.New(gitaerr.CodeProviderNotFound, "provider not found: "+name, gitaerr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// SetDefault sets the reference used when a request names no model.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked("SetDefault", ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// Default returns the default reference.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultRef
}

// SetFailover sets the ordered chain tried after the primary reference.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked("SetFailover", ref); err != nil {
			return err
		}
	}
	r.failover = slices.Clone(chain)
	return nil
}

// MaxAttempts is the number of distinct candidates a request can try.
func (r *Registry) MaxAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 1 + len(r.failover)
}

// Route picks a provider for modelRef. An empty ref or "default" selects
// the default reference.
func (r *Registry) Route(ctx context.Context, modelRef string) (Provider, string, error) {
	return r.RouteExcluding(ctx, modelRef, nil)
}

// RouteExcluding is Route that skips providers already tried by the caller.
func (r *Registry) RouteExcluding(ctx context.Context, modelRef string, exclude []string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref := r.defaultRef
	if modelRef != "" && modelRef != "default" {
		if !strings.Contains(modelRef, "/") {
			return nil, "", gitaerr.Errorf(gitaerr.CodeProviderInvalidModelRef,
				"model name %q must use provider/model format", modelRef)
		}
		ref = modelRef
	}
	if ref == "" {
		return nil, "", gitaerr.New(gitaerr.CodeProviderNoDefault, "no default provider configured")
	}

	for _, candidate := range append([]string{ref}, r.failover...) {
		name, _ := ParseRef(candidate)
		if slices.Contains(exclude, name) {
			continue
		}
		if p, model, ok := r.tryLocked(ctx, candidate); ok {
			return p, model, nil
		}
	}

	return nil, "", gitaerr.New(gitaerr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

// Health reports one component per registered provider.
func (r *Registry) Health(ctx context.Context) []health.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]health.Component, 0, len(r.providers))
	for _, name := range r.namesLocked() {
		p := r.providers[name]
		c := health.Component{Name: name, Kind: "provider", Healthy: p.Available(ctx)}
		if hm, ok := p.(HealthMetricsReporter); ok {
			m := hm.HealthMetrics()
			c.Metrics = &m
		}
		out = append(out, c)
	}
	return out
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return gitaerr.Join(errs...)
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) checkRefLocked(op, ref string) error {
	name, _ := ParseRef(ref)
	if _, ok := r.providers[name]; !ok {
		return gitaerr.New(gitaerr.CodeProviderNotFound,
			op+": provider not registered: "+name, gitaerr.FieldProvider(name))
	}
	return nil
}

func (r *Registry) tryLocked(ctx context.Context, ref string) (Provider, string, bool) {
	name, model := ParseRef(ref)
	p, ok := r.providers[name]
	if !ok || !p.Available(ctx) {
		return nil, "", false
	}
	return p, model, true
}

// ParseRef splits a "provider/model" reference on the first "/".
func ParseRef(ref string) (providerName, model string) {
	name, model, _ := strings.Cut(ref, "/")
	return name, model
}
