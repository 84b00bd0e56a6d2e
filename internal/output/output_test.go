package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/schema"
)

func init() {
	color.NoColor = true
}

func TestNewPrinterFallsBackToTable(t *testing.T) {
	assert.Equal(t, FormatTable, NewPrinterTo("xml", &bytes.Buffer{}).Format())
	assert.Equal(t, FormatJSON, NewPrinterTo("JSON", &bytes.Buffer{}).Format())
}

func TestPrintPlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinterTo("plain", &buf).Print([]string{"a", "b"}))
	assert.Equal(t, "a\nb\n", buf.String())
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinterTo("yaml", &buf).Print(map[string]int{"total": 3}))
	assert.Equal(t, "total: 3\n", buf.String())
}

func TestHealthReportTable(t *testing.T) {
	r := HealthReport{
		"prod": {Healthy: true, StatusCode: 200, Message: "ok", ResponseTimeMS: 12.34},
		"dev":  {Healthy: false, Message: "Health check exception: timeout"},
	}
	var buf bytes.Buffer
	require.NoError(t, NewPrinterTo("table", &buf).Report(r))

	out := buf.String()
	assert.Contains(t, out, "Registry")
	assert.Less(t, strings.Index(out, "dev"), strings.Index(out, "prod"))
	assert.Contains(t, out, "12.3ms")
	assert.Equal(t, 1, r.Unhealthy())
}

func TestReportJSONUsesData(t *testing.T) {
	res := &schema.BulkCheckResult{
		ID: "run-1", TargetMode: schema.ModeBackward, TotalChecked: 1, Compatible: 1,
		Duration: 1500 * time.Millisecond,
		Results:  []schema.SubjectCheck{{RegistryID: "a", Subject: "s", Compatible: true}},
	}
	var buf bytes.Buffer
	require.NoError(t, NewPrinterTo("json", &buf).Report(BulkCheckReport{Result: res}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["id"])
	assert.Equal(t, 1.5, decoded["duration_seconds"])
}

func TestBulkCheckReportRows(t *testing.T) {
	r := BulkCheckReport{Result: &schema.BulkCheckResult{
		TargetMode: schema.ModeFull, TotalChecked: 3, Compatible: 1, Incompatible: 1, Errors: 1,
		Duration: 2 * time.Second,
		Results: []schema.SubjectCheck{
			{RegistryID: "b", Subject: "z", Compatible: true, Messages: []string{"All versions compatible"}},
			{RegistryID: "a", Subject: "y", Messages: []string{"field removed"}},
			{RegistryID: "a", Subject: "x", Errors: []string{"timeout"}},
		},
	}}

	rows := r.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "x", "error", "timeout"}, rows[0])
	assert.Equal(t, []string{"a", "y", "no", "field removed"}, rows[1])

	r.OnlyFailures = true
	assert.Len(t, r.Rows(), 2)
	assert.Equal(t, "3 checked under FULL: 1 compatible, 1 incompatible, 1 errors in 2s", r.Summary())
}

func TestModesReportRows(t *testing.T) {
	r := ModesReport{
		"a": {Status: orchestrator.StatusSuccess, Data: orchestrator.ModeOverview{
			Global:   schema.ModeBackward,
			Subjects: map[string]schema.CompatibilityMode{"orders": schema.ModeNone},
		}},
		"b": {Status: orchestrator.StatusError, Error: "timeout"},
	}
	assert.Equal(t, [][]string{
		{"a", "(global)", "BACKWARD"},
		{"a", "orders", "NONE"},
		{"b", "-", "error: timeout"},
	}, r.Rows())
}

func TestBulkSetReportYAML(t *testing.T) {
	r := BulkSetReport{"a": {"global": "success"}}
	var buf bytes.Buffer
	require.NoError(t, NewPrinterTo("yaml", &buf).Report(r))

	var decoded map[string]map[string]string
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "success", decoded["a"]["global"])
	assert.Equal(t, [][]string{{"a", "global", "success"}}, r.Rows())
}

func TestTransitionReport(t *testing.T) {
	tr, ok := compat.LookupTransition(schema.ModeBackward, schema.ModeForward)
	require.True(t, ok)
	rows := TransitionReport{tr}.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "DANGEROUS", rows[0][2])
	assert.Equal(t, "true", rows[0][3])
}

func TestRegistryListPlain(t *testing.T) {
	r := RegistryList{{ID: "a", Type: schema.RegistryLocal, SupportedFormats: []schema.Format{schema.FormatAvro, schema.FormatJSONSchema}}}
	var buf bytes.Buffer
	require.NoError(t, NewPrinterTo("plain", &buf).Report(r))
	assert.Equal(t, "a\tlocal\t\tavro, json_schema\n", buf.String())
}

func TestFindReport(t *testing.T) {
	r := FindReport{"a": {Version: 2, ID: 7, Format: schema.FormatAvro}}
	assert.Equal(t, [][]string{{"a", "2", "7", "avro"}}, r.Rows())
}
