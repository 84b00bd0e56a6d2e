package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// Per-subject statuses reported by BulkSetCompatibility.
const (
	SetStatusSuccess = "success"
	SetStatusFailed  = "failed"

	// GlobalKey is the status key used when no subject filter was given.
	GlobalKey = "global"
)

type bulkOptions struct {
	progress func(done, total int)
}

// BulkOption configures a bulk run.
type BulkOption func(*bulkOptions)

// WithProgress reports progress after every completed subject check. The
// callback runs on the aggregating goroutine.
func WithProgress(fn func(done, total int)) BulkOption {
	return func(b *bulkOptions) { b.progress = fn }
}

type checkTask struct {
	registryID string
	reg        registry.Registry
	subject    string
}

// selectRegistries resolves ids against the live instances. Unknown ids are
// logged and skipped; an empty list selects every instance.
func (o *Orchestrator) selectRegistries(ids []string) map[string]registry.Registry {
	all := o.snapshot()
	if len(ids) == 0 {
		return all
	}
	selected := make(map[string]registry.Registry, len(ids))
	for _, id := range ids {
		r, ok := all[id]
		if !ok {
			o.log.Warn("registry not found", zap.String("registry_id", id))
			continue
		}
		selected[id] = r
	}
	return selected
}

// BulkCheckCompatibility checks the latest version of every matching subject
// in the selected instances against its history under mode. Subjects are
// checked on a bounded worker pool and the result is aggregated on the
// calling goroutine.
func (o *Orchestrator) BulkCheckCompatibility(ctx context.Context, ids []string, mode schema.CompatibilityMode, prefix string, opts ...BulkOption) (*schema.BulkCheckResult, error) {
	if o.closed.Load() {
		return nil, schema.InvalidArgumentf("orchestrator is shut down")
	}
	if !mode.Valid() {
		return nil, schema.InvalidArgumentf("unknown compatibility mode %q", mode)
	}
	var bo bulkOptions
	for _, opt := range opts {
		opt(&bo)
	}

	start := time.Now()
	result := &schema.BulkCheckResult{
		ID:         uuid.New().String(),
		TargetMode: mode,
		Results:    []schema.SubjectCheck{},
	}
	log := o.log.With(zap.String("run_id", result.ID), zap.String("target_mode", string(mode)))

	var tasks []checkTask
	for id, reg := range o.selectRegistries(ids) {
		subjects, err := reg.ListSubjects(ctx, prefix)
		if err != nil {
			log.Error("failed to list subjects", zap.String("registry_id", id), zap.Error(err))
			result.Errors++
			continue
		}
		for _, subject := range subjects {
			tasks = append(tasks, checkTask{registryID: id, reg: reg, subject: subject})
		}
	}
	log.Info("starting bulk compatibility check", zap.Int("subjects", len(tasks)), zap.Int("workers", o.workers))

	jobs := make(chan checkTask, len(tasks))
	results := make(chan schema.SubjectCheck, len(tasks))

	var wg sync.WaitGroup
	workers := o.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				results <- o.checkOne(ctx, task, mode)
			}
		}()
	}

	go func() {
		for _, task := range tasks {
			jobs <- task
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for check := range results {
		result.TotalChecked++
		switch {
		case len(check.Errors) > 0:
			result.Errors++
		case check.Compatible:
			result.Compatible++
		default:
			result.Incompatible++
		}
		result.Results = append(result.Results, check)
		o.observer.SubjectChecked(check)
		if bo.progress != nil {
			bo.progress(result.TotalChecked, len(tasks))
		}
	}

	result.Duration = time.Since(start)
	o.observer.BulkCheckCompleted(result)
	log.Info("bulk compatibility check finished",
		zap.Int("total", result.TotalChecked),
		zap.Int("compatible", result.Compatible),
		zap.Int("incompatible", result.Incompatible),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// checkOne runs one subject check. A failure or panic is recorded in the
// returned check rather than propagated.
func (o *Orchestrator) checkOne(ctx context.Context, task checkTask, mode schema.CompatibilityMode) schema.SubjectCheck {
	check := schema.SubjectCheck{
		RegistryID: task.registryID,
		Subject:    task.subject,
		Messages:   []string{},
		Errors:     []string{},
	}

	res, err := safeCall(func() (*schema.CompatibilityResult, error) {
		return o.checker.CheckSubject(ctx, task.reg, task.subject, mode)
	})
	if err != nil {
		o.log.Error("subject check failed",
			zap.String("registry_id", task.registryID), zap.String("subject", task.subject), zap.Error(err))
		check.Errors = append(check.Errors, err.Error())
		return check
	}

	check.Compatible = res.Compatible
	if res.Messages != nil {
		check.Messages = res.Messages
	}
	if res.Errors != nil {
		check.Errors = res.Errors
	}
	return check
}

// BulkSetCompatibility sets mode on the selected instances. With a prefix,
// every matching subject is set individually and the result maps subject to
// status; without one the global mode is set under GlobalKey. An instance
// whose subjects cannot be listed maps "error" to the failure.
func (o *Orchestrator) BulkSetCompatibility(ctx context.Context, ids []string, mode schema.CompatibilityMode, prefix string) (map[string]map[string]string, error) {
	if o.closed.Load() {
		return nil, schema.InvalidArgumentf("orchestrator is shut down")
	}
	if !mode.Valid() {
		return nil, schema.InvalidArgumentf("unknown compatibility mode %q", mode)
	}

	outcomes := fanout(ctx, o, o.selectRegistries(ids), func(ctx context.Context, id string, r registry.Registry) (map[string]string, error) {
		statuses := make(map[string]string)
		if prefix == "" {
			statuses[GlobalKey] = o.setMode(ctx, id, r, mode, "")
			return statuses, nil
		}

		subjects, err := r.ListSubjects(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, subject := range subjects {
			statuses[subject] = o.setMode(ctx, id, r, mode, subject)
		}
		return statuses, nil
	})

	out := make(map[string]map[string]string, len(outcomes))
	for id, outcome := range outcomes {
		if !outcome.OK() {
			out[id] = map[string]string{"error": outcome.Error}
			continue
		}
		out[id] = outcome.Data
	}
	return out, nil
}

func (o *Orchestrator) setMode(ctx context.Context, id string, r registry.Registry, mode schema.CompatibilityMode, subject string) string {
	status := SetStatusSuccess
	if err := r.SetCompatibilityMode(ctx, mode, subject); err != nil {
		if errors.Is(err, schema.ErrOperationFailed) {
			status = SetStatusFailed
		} else {
			status = fmt.Sprintf("error: %v", err)
		}
		o.log.Warn("failed to set compatibility mode",
			zap.String("registry_id", id), zap.String("subject", subject), zap.Error(err))
	}
	o.observer.ModeSet(id, subject, status)
	return status
}
