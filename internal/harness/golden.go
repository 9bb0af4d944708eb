package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/arroschaves/brandaocontador-e2e/internal/report"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Snapshot renders a result as a stable verbose text report. Durations are
// zeroed and replace is applied as old/new pairs (strings.NewReplacer), so
// random ports and timing never reach the snapshot.
func Snapshot(res scenario.ExecutionResult, replace ...string) ([]byte, error) {
	res.Duration = 0
	steps := make([]scenario.StepOutcome, len(res.Steps))
	for i, s := range res.Steps {
		s.Duration = 0
		steps[i] = s
	}
	res.Steps = steps

	var b strings.Builder
	if err := report.WriteText(&b, []scenario.ExecutionResult{res}, true); err != nil {
		return nil, err
	}
	out := b.String()
	if len(replace) > 0 {
		out = strings.NewReplacer(replace...).Replace(out)
	}
	return []byte(out), nil
}

// RunWithGolden runs s and compares its snapshot against
// testdata/golden/{s.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, r *Runner, s *scenario.Scenario, replace ...string) scenario.ExecutionResult {
	t.Helper()

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	AssertGolden(t, s.Name, res, replace...)
	return res
}

// AssertGolden compares an existing result against a golden file without
// re-running anything.
func AssertGolden(t *testing.T, name string, res scenario.ExecutionResult, replace ...string) {
	t.Helper()

	snap, err := Snapshot(res, replace...)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snap)
}
