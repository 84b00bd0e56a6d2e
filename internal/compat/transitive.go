package compat

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// Messages produced by the checker.
const (
	MsgSingleVersion  = "Single version - no compatibility check needed"
	MsgAllCompatible  = "All versions compatible"
	MsgModeNoneNoWork = "Compatibility mode NONE - no check required"
)

// Checker evaluates the latest schema of a subject against its history.
type Checker struct {
	// WalkAllVersions checks every prior version regardless of the target
	// mode's scope. Backends with native transitive semantics make this
	// redundant but harmless.
	WalkAllVersions bool

	Log *zap.Logger
}

// CheckSubject checks the latest version of subject against the prior
// versions selected by mode. Per-version failures are folded into the
// result; only a failure to read the history itself is returned as error.
func (c *Checker) CheckSubject(ctx context.Context, reg registry.Registry, subject string, mode schema.CompatibilityMode) (*schema.CompatibilityResult, error) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}

	if mode == schema.ModeNone {
		return &schema.CompatibilityResult{
			Compatible: true,
			Messages:   []string{MsgModeNoneNoWork},
			Level:      mode,
		}, nil
	}

	versions, err := reg.ListVersions(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", subject, err)
	}
	if len(versions) < 2 {
		return &schema.CompatibilityResult{
			Compatible: true,
			Messages:   []string{MsgSingleVersion},
			Level:      mode,
		}, nil
	}

	latest, err := reg.GetLatestSchema(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest schema of %s: %w", subject, err)
	}

	prior := priorVersions(versions, latest.Version)
	if !c.WalkAllVersions && !mode.Transitive() && len(prior) > 1 {
		prior = prior[len(prior)-1:]
	}

	result := &schema.CompatibilityResult{
		Compatible: true,
		Messages:   []string{},
		Level:      mode,
		Errors:     []string{},
	}
	for _, v := range prior {
		check, err := reg.CheckCompatibility(ctx, subject, latest.Content, latest.Format, v)
		if err != nil {
			log.Debug("version check failed",
				zap.String("subject", subject), zap.Int("version", v), zap.Error(err))
			result.Compatible = false
			result.Messages = append(result.Messages, fmt.Sprintf("Check failed for version %d: %v", v, err))
			continue
		}
		if check.Compatible && len(check.Errors) == 0 {
			continue
		}
		result.Compatible = false
		switch {
		case len(check.Messages) > 0:
			result.Messages = append(result.Messages, check.Messages...)
		case len(check.Errors) > 0:
			result.Messages = append(result.Messages, check.Errors...)
		default:
			result.Messages = append(result.Messages, fmt.Sprintf("Version %d is incompatible", v))
		}
	}

	if len(result.Messages) == 0 {
		result.Messages = append(result.Messages, MsgAllCompatible)
	}
	return result, nil
}

// priorVersions returns the versions older than latest, oldest first.
func priorVersions(versions []int, latest int) []int {
	out := make([]int, 0, len(versions))
	for _, v := range versions {
		if v < latest {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
