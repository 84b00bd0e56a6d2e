// Package orchestrator holds the live set of backend instances and runs
// operations across them with per-instance failure isolation.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// DefaultWorkers is the bulk worker-pool width.
const DefaultWorkers = 10

// Status tags an Outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome is one instance's result of a fan-out: Data on success, Error on
// failure.
type Outcome[T any] struct {
	Status Status `json:"status"`
	Data   T      `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the outcome is a success.
func (o Outcome[T]) OK() bool { return o.Status == StatusSuccess }

// Observer receives orchestration events. Implementations must be safe for
// concurrent use.
type Observer interface {
	SubjectChecked(check schema.SubjectCheck)
	BulkCheckCompleted(result *schema.BulkCheckResult)
	HealthObserved(registryID string, status *schema.HealthStatus)
	ModeSet(registryID, subject, status string)
}

type nopObserver struct{}

func (nopObserver) SubjectChecked(schema.SubjectCheck)          {}
func (nopObserver) BulkCheckCompleted(*schema.BulkCheckResult)  {}
func (nopObserver) HealthObserved(string, *schema.HealthStatus) {}
func (nopObserver) ModeSet(string, string, string)              {}

// RegistryInfo describes one live instance.
type RegistryInfo struct {
	ID               string              `json:"id"`
	Type             schema.RegistryType `json:"type"`
	URL              string              `json:"url,omitempty"`
	SupportedFormats []schema.Format     `json:"supported_formats"`
}

// ModeOverview is one instance's global mode and subject-level modes.
type ModeOverview struct {
	Global   schema.CompatibilityMode            `json:"global"`
	Subjects map[string]schema.CompatibilityMode `json:"subjects"`
}

// Orchestrator owns the named backend instances.
//
// Adding or removing the same id concurrently must be serialized by the
// caller; dispatch and listing may run alongside each other.
type Orchestrator struct {
	plugins  *registry.Plugins
	workers  int
	checker  *compat.Checker
	observer Observer
	log      *zap.Logger

	mu         sync.RWMutex
	registries map[string]registry.Registry
	configs    map[string]schema.RegistryConfig

	closed atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the bulk worker-pool width.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithScopeAwareChecks makes bulk checks honour the target mode's scope:
// latest-only modes compare against the previous version only. By default
// every prior version is checked.
func WithScopeAwareChecks(enabled bool) Option {
	return func(o *Orchestrator) {
		o.checker.WalkAllVersions = !enabled
	}
}

// New creates an orchestrator that builds instances through plugins.
func New(plugins *registry.Plugins, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plugins:    plugins,
		workers:    DefaultWorkers,
		checker:    &compat.Checker{WalkAllVersions: true},
		observer:   nopObserver{},
		log:        zap.NewNop(),
		registries: make(map[string]registry.Registry),
		configs:    make(map[string]schema.RegistryConfig),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.checker.Log = o.log
	o.log.Info("orchestrator initialized", zap.Int("workers", o.workers))
	return o
}

// Workers returns the bulk worker-pool width.
func (o *Orchestrator) Workers() int { return o.workers }

// Checker returns the transitive checker used by bulk runs.
func (o *Orchestrator) Checker() *compat.Checker { return o.checker }

// AddRegistry creates an instance for cfg and stores it under cfg.ID. An
// existing instance with the same id is closed and replaced.
func (o *Orchestrator) AddRegistry(cfg schema.RegistryConfig) (registry.Registry, error) {
	if o.closed.Load() {
		return nil, schema.InvalidArgumentf("orchestrator is shut down")
	}
	if cfg.ID == "" {
		return nil, schema.InvalidArgumentf("registry id is required")
	}
	if !cfg.Enabled {
		return nil, schema.InvalidArgumentf("registry %s is disabled", cfg.ID)
	}

	instance, err := o.plugins.Create(cfg, cfg.ID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	previous, replaced := o.registries[cfg.ID]
	o.registries[cfg.ID] = instance
	o.configs[cfg.ID] = cfg
	o.mu.Unlock()

	if replaced && previous != instance {
		if err := previous.Close(); err != nil {
			o.log.Warn("failed to close replaced registry", zap.String("registry_id", cfg.ID), zap.Error(err))
		}
	}
	o.log.Info("added registry", zap.String("registry_id", cfg.ID), zap.String("type", string(cfg.Type)))
	return instance, nil
}

// GetRegistry returns the instance with the given id.
func (o *Orchestrator) GetRegistry(id string) (registry.Registry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.registries[id]
	if !ok {
		return nil, schema.NotFoundf("registry %s", id)
	}
	return r, nil
}

// ListRegistries describes every live instance, sorted by id.
func (o *Orchestrator) ListRegistries() []RegistryInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	infos := make([]RegistryInfo, 0, len(o.registries))
	for id, r := range o.registries {
		infos = append(infos, RegistryInfo{
			ID:               id,
			Type:             r.Type(),
			URL:              o.configs[id].URL,
			SupportedFormats: r.SupportedFormats(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// RemoveRegistry closes and forgets the instance with the given id.
func (o *Orchestrator) RemoveRegistry(id string) error {
	o.mu.Lock()
	r, ok := o.registries[id]
	delete(o.registries, id)
	delete(o.configs, id)
	o.mu.Unlock()
	if !ok {
		return schema.NotFoundf("registry %s", id)
	}

	o.plugins.Remove(id)
	o.log.Info("removed registry", zap.String("registry_id", id))
	return r.Close()
}

func (o *Orchestrator) snapshot() map[string]registry.Registry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	regs := make(map[string]registry.Registry, len(o.registries))
	for id, r := range o.registries {
		regs[id] = r
	}
	return regs
}

// Fanout runs fn against every live instance concurrently, at most
// Workers() at a time. Each instance's error or panic is captured in its own
// Outcome and never affects another's. The result has one entry per
// instance.
func Fanout[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context, id string, r registry.Registry) (T, error)) map[string]Outcome[T] {
	return fanout(ctx, o, o.snapshot(), fn)
}

func fanout[T any](ctx context.Context, o *Orchestrator, regs map[string]registry.Registry, fn func(ctx context.Context, id string, r registry.Registry) (T, error)) map[string]Outcome[T] {
	ids := make([]string, 0, len(regs))
	for id := range regs {
		ids = append(ids, id)
	}
	outcomes := make([]Outcome[T], len(ids))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			data, err := safeCall(func() (T, error) { return fn(ctx, id, regs[id]) })
			if err != nil {
				o.log.Error("operation failed", zap.String("registry_id", id), zap.Error(err))
				outcomes[i] = Outcome[T]{Status: StatusError, Error: err.Error()}
				return nil
			}
			outcomes[i] = Outcome[T]{Status: StatusSuccess, Data: data}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Outcome[T], len(ids))
	for i, id := range ids {
		out[id] = outcomes[i]
	}
	return out
}

// safeCall turns a panic in fn into an error.
func safeCall[T any](fn func() (T, error)) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// FindSchema returns the latest schema of subject from every instance that
// has it. Instances without the subject, or that fail, are omitted.
func (o *Orchestrator) FindSchema(ctx context.Context, subject string) map[string]*schema.Schema {
	outcomes := fanout(ctx, o, o.snapshot(), func(ctx context.Context, id string, r registry.Registry) (*schema.Schema, error) {
		return r.GetLatestSchema(ctx, subject)
	})

	found := make(map[string]*schema.Schema)
	for id, out := range outcomes {
		if !out.OK() {
			o.log.Debug("schema not found", zap.String("registry_id", id), zap.String("subject", subject), zap.String("error", out.Error))
			continue
		}
		found[id] = out.Data
	}
	return found
}

// CompareCompatibilityModes returns every instance's global mode and subject
// modes. A failing instance contributes an error outcome.
func (o *Orchestrator) CompareCompatibilityModes(ctx context.Context) map[string]Outcome[ModeOverview] {
	return Fanout(ctx, o, func(ctx context.Context, id string, r registry.Registry) (ModeOverview, error) {
		global, err := r.GetCompatibilityMode(ctx, "")
		if err != nil {
			return ModeOverview{}, err
		}
		subjects, err := r.GetAllCompatibilityModes(ctx)
		if err != nil {
			return ModeOverview{}, err
		}
		if subjects == nil {
			subjects = map[string]schema.CompatibilityMode{}
		}
		return ModeOverview{Global: global, Subjects: subjects}, nil
	})
}

// HealthCheckAll probes every instance. It never fails: a probe that panics
// or returns nothing is reported as unhealthy.
func (o *Orchestrator) HealthCheckAll(ctx context.Context) map[string]*schema.HealthStatus {
	outcomes := Fanout(ctx, o, func(ctx context.Context, id string, r registry.Registry) (*schema.HealthStatus, error) {
		status := r.HealthCheck(ctx)
		if status == nil {
			return nil, fmt.Errorf("no health status returned")
		}
		return status, nil
	})

	statuses := make(map[string]*schema.HealthStatus, len(outcomes))
	for id, out := range outcomes {
		status := out.Data
		if !out.OK() {
			status = &schema.HealthStatus{
				Healthy:        false,
				StatusCode:     0,
				Message:        "Health check exception: " + out.Error,
				ResponseTimeMS: 0,
				Metadata:       map[string]interface{}{"error": out.Error},
			}
		}
		statuses[id] = status
		o.observer.HealthObserved(id, status)
	}
	return statuses
}

// Shutdown closes every instance. Later bulk runs and additions fail.
func (o *Orchestrator) Shutdown() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	o.mu.Lock()
	regs := o.registries
	o.registries = make(map[string]registry.Registry)
	o.configs = make(map[string]schema.RegistryConfig)
	o.mu.Unlock()

	var firstErr error
	for id, r := range regs {
		o.plugins.Remove(id)
		if err := r.Close(); err != nil {
			o.log.Warn("failed to close registry", zap.String("registry_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	o.log.Info("orchestrator shut down", zap.Int("closed", len(regs)))
	return firstErr
}
