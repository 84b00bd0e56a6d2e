package watcher

import (
	"context"
	"time"

	"github.com/kamir/global-schema-registry/internal/output"
)

// StatusReporter periodically prints watcher status to the terminal.
type StatusReporter struct {
	stats    *Stats
	interval time.Duration
	topic    string
	registry string
}

// NewStatusReporter creates a status reporter that prints every interval.
func NewStatusReporter(stats *Stats, interval time.Duration, topic, registryID string) *StatusReporter {
	return &StatusReporter{
		stats:    stats,
		interval: interval,
		topic:    topic,
		registry: registryID,
	}
}

// Run starts the status reporting loop. Blocks until ctx is cancelled.
func (sr *StatusReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			output.Info("[%s] %s -> %s | %s",
				time.Now().Format("15:04:05"), sr.topic, sr.registry, sr.stats.Snapshot().Describe())
		}
	}
}
