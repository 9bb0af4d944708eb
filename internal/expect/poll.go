package expect

import (
	"context"
	"fmt"
	"time"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 200 * time.Millisecond

// Probe captures a fresh observation.
type Probe func(ctx context.Context) (*Observation, error)

// Poll evaluates preds against successive observations until they all hold
// or ceiling elapses. It returns the last verdict. A cancelled ctx is
// returned as an error alongside the last verdict; an elapsed ceiling is
// not an error, the failing verdict says it all.
//
// The probe is always called at least once, so a zero ceiling evaluates
// exactly once. Each call is bounded by the ceiling; a call still
// blocked when it elapses counts as a failed observation.
func Poll(ctx context.Context, probe Probe, preds []Predicate, ceiling, interval time.Duration) (Verdict, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.Now().Add(ceiling)

	var last Verdict
	for attempt := 0; ; attempt++ {
		obs, err := observe(ctx, probe, deadline, attempt == 0)
		if err != nil {
			last = Verdict{Mismatches: []Mismatch{{
				Predicate: "observe",
				Expected:  "observation",
				Actual:    fmt.Sprintf("probe failed: %v", err),
			}}}
		} else {
			last = Evaluate(preds, obs)
			if last.Pass {
				return last, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return last, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last, nil
		}

		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

func observe(ctx context.Context, probe Probe, deadline time.Time, first bool) (*Observation, error) {
	if first && !time.Now().Before(deadline) {
		return probe(ctx)
	}
	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return probe(pctx)
}
