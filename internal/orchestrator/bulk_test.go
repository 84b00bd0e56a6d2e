package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/registry/registrytest"
	"github.com/kamir/global-schema-registry/internal/schema"
)

func checksBySubject(result *schema.BulkCheckResult) map[string]schema.SubjectCheck {
	out := make(map[string]schema.SubjectCheck, len(result.Results))
	for _, c := range result.Results {
		out[c.RegistryID+"/"+c.Subject] = c
	}
	return out
}

func TestBulkCheckCompatibility(t *testing.T) {
	a := registrytest.New()
	a.AddSubject("orders-value", "v1", "v2", "v3")
	a.AddSubject("orders-key", "v1")
	a.AddSubject("users-value", "v1", "v2")
	a.Compatibility = func(existing *schema.Schema, content string) (*schema.CompatibilityResult, error) {
		if existing.Subject == "users-value" {
			return &schema.CompatibilityResult{Compatible: false, Messages: []string{"field removed"}}, nil
		}
		return &schema.CompatibilityResult{Compatible: true}, nil
	}

	b := registrytest.New()
	b.ListSubjectsError = schema.OperationFailed("list subjects", errors.New("connection refused"))

	obs := newRecordingObserver()
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a, "b": b}, orchestrator.WithObserver(obs))

	result, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeBackward, "")
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, schema.ModeBackward, result.TargetMode)
	assert.Equal(t, 3, result.TotalChecked)
	assert.Equal(t, 2, result.Compatible)
	assert.Equal(t, 1, result.Incompatible)
	// the listing failure on b counts as an error but not as a check
	assert.Equal(t, 1, result.Errors)

	checks := checksBySubject(result)
	assert.Equal(t, []string{compat.MsgSingleVersion}, checks["a/orders-key"].Messages)
	assert.Equal(t, []string{compat.MsgAllCompatible}, checks["a/orders-value"].Messages)
	assert.False(t, checks["a/users-value"].Compatible)
	assert.Equal(t, []string{"field removed"}, checks["a/users-value"].Messages)

	assert.Len(t, obs.checks, 3)
	require.Len(t, obs.runs, 1)
	assert.Same(t, result, obs.runs[0])
}

func TestBulkCheckWalksEveryPriorVersion(t *testing.T) {
	a := registrytest.New()
	a.AddSubject("orders-value", "v1", "v2", "v3")
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a})

	_, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeBackward, "")
	require.NoError(t, err)
	assert.Equal(t, 2, a.CallCount("CheckCompatibility"))
}

func TestBulkCheckScopeAware(t *testing.T) {
	a := registrytest.New()
	a.AddSubject("orders-value", "v1", "v2", "v3")
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a}, orchestrator.WithScopeAwareChecks(true))

	_, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeBackward, "")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CallCount("CheckCompatibility"))
}

func TestBulkCheckRecordsSubjectFailures(t *testing.T) {
	a := registrytest.New()
	a.AddSubject("orders-value", "v1", "v2")
	a.AddSubject("users-value", "v1", "v2")
	a.Compatibility = func(existing *schema.Schema, content string) (*schema.CompatibilityResult, error) {
		if existing.Subject == "users-value" {
			panic("parser crashed")
		}
		return &schema.CompatibilityResult{Compatible: true}, nil
	}
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a})

	result, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeBackward, "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalChecked)
	assert.Equal(t, 1, result.Compatible)
	assert.Equal(t, 1, result.Errors)

	failed := checksBySubject(result)["a/users-value"]
	assert.False(t, failed.Compatible)
	assert.Empty(t, failed.Messages)
	require.Len(t, failed.Errors, 1)
	assert.Contains(t, failed.Errors[0], "parser crashed")
}

func TestBulkCheckModeNone(t *testing.T) {
	a := registrytest.New()
	a.AddSubject("orders-value", "v1", "v2")
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a})

	result, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeNone, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Compatible)
	assert.Zero(t, a.CallCount("CheckCompatibility"))
	assert.Equal(t, []string{compat.MsgModeNoneNoWork}, result.Results[0].Messages)
}

func TestBulkCheckSelectionAndPrefix(t *testing.T) {
	a, b := registrytest.New(), registrytest.New()
	a.AddSubject("orders-value", "v1")
	a.AddSubject("users-value", "v1")
	b.AddSubject("orders-value", "v1")
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a, "b": b})

	result, err := o.BulkCheckCompatibility(context.Background(), []string{"a", "ghost"}, schema.ModeFull, "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalChecked)
	assert.Zero(t, result.Errors)
	assert.Equal(t, "a", result.Results[0].RegistryID)
	assert.Zero(t, b.CallCount("ListSubjects"))
}

func TestBulkCheckInvalidMode(t *testing.T) {
	o := newOrchestrator(t, nil)
	_, err := o.BulkCheckCompatibility(context.Background(), nil, "SIDEWAYS", "")
	assert.ErrorIs(t, err, schema.ErrInvalidArgument)
}

func TestBulkCheckProgress(t *testing.T) {
	a := registrytest.New()
	for i := 0; i < 25; i++ {
		a.AddSubject(fmt.Sprintf("subject-%02d", i), "v1", "v2")
	}
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a}, orchestrator.WithWorkers(4))

	var calls []int
	total := 0
	result, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeBackward, "",
		orchestrator.WithProgress(func(done, n int) {
			calls = append(calls, done)
			total = n
		}))
	require.NoError(t, err)

	assert.Equal(t, 25, result.TotalChecked)
	assert.Equal(t, 25, total)
	require.Len(t, calls, 25)
	for i, done := range calls {
		assert.Equal(t, i+1, done)
	}
}

func TestBulkCheckEmpty(t *testing.T) {
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": registrytest.New()})

	result, err := o.BulkCheckCompatibility(context.Background(), nil, schema.ModeBackward, "")
	require.NoError(t, err)
	assert.Zero(t, result.TotalChecked)
	assert.Empty(t, result.Results)
}

func TestBulkSetCompatibilityGlobal(t *testing.T) {
	a, b := registrytest.New(), registrytest.New()
	b.SetModeError = schema.OperationFailed("set config", errors.New("forbidden"))
	obs := newRecordingObserver()
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a, "b": b}, orchestrator.WithObserver(obs))

	out, err := o.BulkSetCompatibility(context.Background(), nil, schema.ModeFullTransitive, "")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{orchestrator.GlobalKey: orchestrator.SetStatusSuccess}, out["a"])
	assert.Equal(t, map[string]string{orchestrator.GlobalKey: orchestrator.SetStatusFailed}, out["b"])
	assert.Equal(t, schema.ModeFullTransitive, a.GlobalMode)
	assert.Len(t, obs.modeSets, 2)
}

func TestBulkSetCompatibilityPerSubject(t *testing.T) {
	a := registrytest.New()
	a.AddSubject("orders-value", "v1")
	a.AddSubject("orders-key", "v1")
	a.AddSubject("orders-audit", "v1")
	a.AddSubject("users-value", "v1")
	a.SetModeErrors = map[string]error{
		"orders-key":   schema.OperationFailed("set subject config", errors.New("denied")),
		"orders-audit": errors.New("unexpected EOF"),
	}

	b := registrytest.New()
	b.ListSubjectsError = errors.New("connection refused")

	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a, "b": b})

	out, err := o.BulkSetCompatibility(context.Background(), nil, schema.ModeForward, "orders")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"orders-value": orchestrator.SetStatusSuccess,
		"orders-key":   orchestrator.SetStatusFailed,
		"orders-audit": "error: unexpected EOF",
	}, out["a"])
	assert.Equal(t, map[string]string{"error": "connection refused"}, out["b"])
	assert.Equal(t, schema.ModeForward, a.SubjectModes["orders-value"])
	assert.NotContains(t, a.SubjectModes, "users-value")
}

func TestBulkSetSkipsUnknownRegistries(t *testing.T) {
	a := registrytest.New()
	o := newOrchestrator(t, map[string]*registrytest.Fake{"a": a})

	out, err := o.BulkSetCompatibility(context.Background(), []string{"ghost"}, schema.ModeNone, "")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, a.CallCount("SetCompatibilityMode"))
}
