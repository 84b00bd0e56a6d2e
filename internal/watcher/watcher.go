// Package watcher tails a Confluent _schemas topic and re-checks every newly
// registered version against a federated registry instance.
package watcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/kafka"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

const maxPollBackoff = 30 * time.Second

// Resolver looks up a registry instance by id.
type Resolver interface {
	GetRegistry(id string) (registry.Registry, error)
}

// Recorder receives watcher activity. *metrics.Metrics satisfies it.
type Recorder interface {
	SubjectChecked(check schema.SubjectCheck)
	WatchEvent(kind string, offset int64)
	WatchError()
}

type nopRecorder struct{}

func (nopRecorder) SubjectChecked(schema.SubjectCheck) {}
func (nopRecorder) WatchEvent(string, int64)           {}
func (nopRecorder) WatchError()                        {}

// Config holds watcher configuration.
type Config struct {
	Source     kafka.Source
	Registries Resolver
	Checker    *compat.Checker
	Recorder   Recorder
	Log        *zap.Logger

	RegistryID string                   // instance the checks run against
	Mode       schema.CompatibilityMode // overrides the subject's own mode when set
	Filter     string                   // subject glob, * wildcard, case-insensitive
}

// Stats tracks watcher counters (thread-safe).
type Stats struct {
	mu              sync.RWMutex
	StartTime       time.Time
	Checked         int64
	Incompatible    int64
	ConfigChanges   int64
	Errors          int64
	EventsProcessed int64
	EventsFiltered  int64
	LastOffset      int64
	LastEventTime   time.Time
}

// StatsSnapshot is a point-in-time copy of stats.
type StatsSnapshot struct {
	Uptime          time.Duration
	Checked         int64
	Incompatible    int64
	ConfigChanges   int64
	Errors          int64
	EventsProcessed int64
	EventsFiltered  int64
	LastOffset      int64
	LastEventTime   time.Time
}

func (s *Stats) incr(field *int64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

func (s *Stats) observe(offset int64) {
	s.mu.Lock()
	s.LastOffset = offset
	s.LastEventTime = time.Now()
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the stats.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsSnapshot{
		Uptime:          time.Since(s.StartTime),
		Checked:         s.Checked,
		Incompatible:    s.Incompatible,
		ConfigChanges:   s.ConfigChanges,
		Errors:          s.Errors,
		EventsProcessed: s.EventsProcessed,
		EventsFiltered:  s.EventsFiltered,
		LastOffset:      s.LastOffset,
		LastEventTime:   s.LastEventTime,
	}
}

// Watcher runs the consume-and-check loop.
type Watcher struct {
	cfg     Config
	stats   *Stats
	log     *zap.Logger
	backoff time.Duration
}

// New validates cfg and creates a Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Source == nil || cfg.Registries == nil {
		return nil, schema.InvalidArgumentf("watcher needs a record source and a registry resolver")
	}
	if cfg.RegistryID == "" {
		return nil, schema.InvalidArgumentf("watcher needs a registry id")
	}
	if cfg.Mode != "" && !cfg.Mode.Valid() {
		return nil, schema.InvalidArgumentf("unknown compatibility mode %q", cfg.Mode)
	}
	if cfg.Checker == nil {
		cfg.Checker = &compat.Checker{WalkAllVersions: true}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		cfg:     cfg,
		stats:   &Stats{StartTime: time.Now()},
		log:     log.With(zap.String("registry_id", cfg.RegistryID)),
		backoff: time.Second,
	}, nil
}

// Stats returns the live counters.
func (w *Watcher) Stats() *Stats {
	return w.stats
}

// Run polls until ctx is cancelled. Consecutive poll errors back off
// exponentially, capped at 30s.
func (w *Watcher) Run(ctx context.Context) error {
	pollBackoff := w.backoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		records, err := w.cfg.Source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("poll failed", zap.Duration("retry_in", pollBackoff), zap.Error(err))
			w.stats.incr(&w.stats.Errors)
			w.cfg.Recorder.WatchError()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollBackoff):
			}
			pollBackoff *= 2
			if pollBackoff > maxPollBackoff {
				pollBackoff = maxPollBackoff
			}
			continue
		}
		pollBackoff = w.backoff

		batchOK := true
		for _, record := range records {
			if !w.handle(ctx, record) {
				batchOK = false
			}
		}

		// A failed batch stays uncommitted and is replayed on restart.
		if len(records) > 0 && batchOK {
			if err := w.cfg.Source.Commit(ctx); err != nil {
				w.log.Warn("offset commit failed", zap.Error(err))
			}
		}
	}
}

// handle processes one record and reports whether it succeeded.
func (w *Watcher) handle(ctx context.Context, record kafka.Record) bool {
	event, err := kafka.ParseRecord(record)
	if err != nil {
		w.log.Warn("skipping unparseable record", zap.Int64("offset", record.Offset), zap.Error(err))
		w.stats.incr(&w.stats.Errors)
		w.cfg.Recorder.WatchError()
		return true
	}
	if event == nil {
		return true
	}

	w.stats.incr(&w.stats.EventsProcessed)
	w.stats.observe(event.Offset)
	w.cfg.Recorder.WatchEvent(string(event.Type), event.Offset)

	if w.cfg.Filter != "" && event.Subject != "" &&
		!matchGlob(strings.ToLower(event.Subject), strings.ToLower(w.cfg.Filter)) {
		w.stats.incr(&w.stats.EventsFiltered)
		return true
	}

	switch {
	case event.IsNewVersion():
		return w.checkVersion(ctx, event)
	case event.Type == kafka.KeyTypeConfig && !event.Tombstone:
		w.stats.incr(&w.stats.ConfigChanges)
		scope := event.Subject
		if scope == "" {
			scope = "global"
		}
		if _, err := event.CompatibilityMode(); err != nil {
			w.log.Warn("compatibility changed to an unknown level", zap.String("scope", scope), zap.String("level", event.Compatibility))
		} else {
			w.log.Info("compatibility changed", zap.String("scope", scope), zap.String("level", event.Compatibility))
		}
	default:
		w.log.Debug("ignoring event", zap.String("type", string(event.Type)),
			zap.String("subject", event.Subject), zap.Int64("offset", event.Offset))
	}
	return true
}

// checkVersion re-runs the checker for the subject of a new version.
func (w *Watcher) checkVersion(ctx context.Context, event *kafka.Event) bool {
	log := w.log.With(zap.String("subject", event.Subject), zap.Int("version", event.Version))

	reg, err := w.cfg.Registries.GetRegistry(w.cfg.RegistryID)
	if err != nil {
		log.Error("registry unavailable", zap.Error(err))
		w.fail()
		return false
	}

	mode := w.cfg.Mode
	if mode == "" {
		mode, err = reg.GetCompatibilityMode(ctx, event.Subject)
		if err != nil {
			log.Error("failed to resolve compatibility mode", zap.Error(err))
			w.fail()
			return false
		}
	}

	check := schema.SubjectCheck{
		RegistryID: w.cfg.RegistryID,
		Subject:    event.Subject,
		Messages:   []string{},
		Errors:     []string{},
	}
	res, err := w.cfg.Checker.CheckSubject(ctx, reg, event.Subject, mode)
	if err != nil {
		check.Errors = append(check.Errors, err.Error())
		w.cfg.Recorder.SubjectChecked(check)
		log.Error("compatibility check failed", zap.Error(err))
		w.fail()
		return false
	}

	check.Compatible = res.Compatible
	if res.Messages != nil {
		check.Messages = res.Messages
	}
	if res.Errors != nil {
		check.Errors = res.Errors
	}
	w.cfg.Recorder.SubjectChecked(check)
	w.stats.incr(&w.stats.Checked)

	if !check.Compatible {
		w.stats.incr(&w.stats.Incompatible)
		log.Warn("subject history is incompatible", zap.String("mode", string(mode)),
			zap.Strings("messages", check.Messages), zap.Strings("errors", check.Errors))
		return true
	}
	log.Info("subject history is compatible", zap.String("mode", string(mode)))
	return true
}

func (w *Watcher) fail() {
	w.stats.incr(&w.stats.Errors)
	w.cfg.Recorder.WatchError()
}

// Describe renders a one-line summary of the counters.
func (s StatsSnapshot) Describe() string {
	return fmt.Sprintf("checked=%d incompatible=%d configs=%d errors=%d events=%d filtered=%d offset=%d uptime=%s",
		s.Checked, s.Incompatible, s.ConfigChanges, s.Errors,
		s.EventsProcessed, s.EventsFiltered, s.LastOffset, s.Uptime.Truncate(time.Second))
}

// matchGlob performs simple glob matching supporting * wildcard.
func matchGlob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}

	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	if parts[len(parts)-1] != "" && !strings.HasSuffix(s, parts[len(parts)-1]) {
		return false
	}

	idx := len(parts[0])
	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		newIdx := strings.Index(s[idx:], parts[i])
		if newIdx < 0 {
			return false
		}
		idx += newIdx + len(parts[i])
	}
	return true
}
