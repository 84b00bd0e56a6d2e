package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/schema"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formats(fs []schema.Format) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

// RegistryList renders ListRegistries.
type RegistryList []orchestrator.RegistryInfo

func (r RegistryList) Headers() []string { return []string{"ID", "Type", "URL", "Formats"} }
func (r RegistryList) Data() interface{} { return []orchestrator.RegistryInfo(r) }

func (r RegistryList) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, info := range r {
		rows = append(rows, []string{info.ID, string(info.Type), info.URL, formats(info.SupportedFormats)})
	}
	return rows
}

// HealthReport renders HealthCheckAll.
type HealthReport map[string]*schema.HealthStatus

func (r HealthReport) Headers() []string {
	return []string{"Registry", "Healthy", "Status", "Latency", "Message"}
}
func (r HealthReport) Data() interface{} { return map[string]*schema.HealthStatus(r) }

func (r HealthReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, id := range sortedKeys(r) {
		s := r[id]
		rows = append(rows, []string{
			id,
			YesNo(s.Healthy, "yes", "no"),
			fmt.Sprint(s.StatusCode),
			fmt.Sprintf("%.1fms", s.ResponseTimeMS),
			s.Message,
		})
	}
	return rows
}

// Unhealthy counts the unhealthy registries.
func (r HealthReport) Unhealthy() int {
	n := 0
	for _, s := range r {
		if !s.Healthy {
			n++
		}
	}
	return n
}

// FindReport renders FindSchema.
type FindReport map[string]*schema.Schema

func (r FindReport) Headers() []string { return []string{"Registry", "Version", "ID", "Format"} }
func (r FindReport) Data() interface{} { return map[string]*schema.Schema(r) }

func (r FindReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, id := range sortedKeys(r) {
		s := r[id]
		rows = append(rows, []string{id, fmt.Sprint(s.Version), fmt.Sprint(s.ID), string(s.Format)})
	}
	return rows
}

// ModesReport renders CompareCompatibilityModes. Each registry contributes
// a row for its global mode and one per subject override.
type ModesReport map[string]orchestrator.Outcome[orchestrator.ModeOverview]

func (r ModesReport) Headers() []string { return []string{"Registry", "Subject", "Mode"} }
func (r ModesReport) Data() interface{} {
	return map[string]orchestrator.Outcome[orchestrator.ModeOverview](r)
}

func (r ModesReport) Rows() [][]string {
	var rows [][]string
	for _, id := range sortedKeys(r) {
		out := r[id]
		if !out.OK() {
			rows = append(rows, []string{id, "-", Red("error: " + out.Error)})
			continue
		}
		rows = append(rows, []string{id, "(global)", string(out.Data.Global)})
		for _, subject := range sortedKeys(out.Data.Subjects) {
			rows = append(rows, []string{id, subject, string(out.Data.Subjects[subject])})
		}
	}
	return rows
}

// BulkCheckReport renders a bulk compatibility run.
type BulkCheckReport struct {
	Result *schema.BulkCheckResult
	// OnlyFailures drops compatible subjects from the rows.
	OnlyFailures bool
}

func (r BulkCheckReport) Headers() []string {
	return []string{"Registry", "Subject", "Compatible", "Details"}
}
func (r BulkCheckReport) Data() interface{} { return r.Result }

func (r BulkCheckReport) Rows() [][]string {
	results := append([]schema.SubjectCheck(nil), r.Result.Results...)
	sort.Slice(results, func(i, j int) bool {
		if results[i].RegistryID != results[j].RegistryID {
			return results[i].RegistryID < results[j].RegistryID
		}
		return results[i].Subject < results[j].Subject
	})

	rows := make([][]string, 0, len(results))
	for _, c := range results {
		verdict := YesNo(c.Compatible, "yes", "no")
		details := strings.Join(c.Messages, "; ")
		if len(c.Errors) > 0 {
			verdict = Yellow("error")
			details = strings.Join(c.Errors, "; ")
		} else if r.OnlyFailures && c.Compatible {
			continue
		}
		rows = append(rows, []string{c.RegistryID, c.Subject, verdict, details})
	}
	return rows
}

// Summary is the one-line totals of the run.
func (r BulkCheckReport) Summary() string {
	res := r.Result
	return fmt.Sprintf("%d checked under %s: %d compatible, %d incompatible, %d errors in %s",
		res.TotalChecked, res.TargetMode, res.Compatible, res.Incompatible, res.Errors,
		res.Duration.Round(time.Millisecond))
}

// BulkSetReport renders BulkSetCompatibility.
type BulkSetReport map[string]map[string]string

func (r BulkSetReport) Headers() []string { return []string{"Registry", "Subject", "Status"} }
func (r BulkSetReport) Data() interface{} { return map[string]map[string]string(r) }

func (r BulkSetReport) Rows() [][]string {
	var rows [][]string
	for _, id := range sortedKeys(r) {
		for _, subject := range sortedKeys(r[id]) {
			status := r[id][subject]
			if status == orchestrator.SetStatusSuccess {
				status = Green(status)
			} else {
				status = Red(status)
			}
			rows = append(rows, []string{id, subject, status})
		}
	}
	return rows
}

// TransitionReport renders risk classifications.
type TransitionReport []compat.Transition

func (r TransitionReport) Headers() []string {
	return []string{"From", "To", "Risk", "Validate", "Description"}
}
func (r TransitionReport) Data() interface{} { return []compat.Transition(r) }

func (r TransitionReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, t := range r {
		rows = append(rows, []string{
			string(t.From), string(t.To), colorRisk(t.Risk), fmt.Sprint(t.RequiresValidation), t.Description,
		})
	}
	return rows
}

func colorRisk(r compat.Risk) string {
	switch r {
	case compat.RiskSafe:
		return Green(string(r))
	case compat.RiskRisky:
		return Yellow(string(r))
	case compat.RiskDangerous:
		return Red(string(r))
	}
	return string(r)
}

// CheckReport renders a single subject check.
type CheckReport struct {
	RegistryID string                      `json:"registry_id" yaml:"registry_id"`
	Subject    string                      `json:"subject" yaml:"subject"`
	Result     *schema.CompatibilityResult `json:"result" yaml:"result"`
}

func (r CheckReport) Headers() []string {
	return []string{"Registry", "Subject", "Mode", "Compatible", "Message"}
}

func (r CheckReport) Data() interface{} { return r }

func (r CheckReport) Rows() [][]string {
	verdict := YesNo(r.Result.Compatible, "yes", "no")
	lines := append(append([]string(nil), r.Result.Messages...), r.Result.Errors...)
	if len(lines) == 0 {
		lines = []string{""}
	}
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, []string{r.RegistryID, r.Subject, string(r.Result.Level), verdict, line})
	}
	return rows
}
