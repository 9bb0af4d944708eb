package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
)

// DefaultInterval is the resolution polling interval.
const DefaultInterval = 200 * time.Millisecond

// Querier counts the matches of a locator in the live document and tags
// the first one with mark. A browser session implements it by evaluating
// Script.
type Querier interface {
	Mark(ctx context.Context, loc Locator, mark string, allowHidden bool) (int, error)
}

// Options control a single resolution.
type Options struct {
	// Timeout bounds the wait for a match.
	Timeout time.Duration

	// Interval is the delay between queries. Zero uses DefaultInterval.
	Interval time.Duration

	// Exact fails with AMBIGUOUS when more than one element matches.
	Exact bool

	// AllowHidden matches elements that are not visible (file inputs).
	AllowHidden bool
}

// Target is a resolved element.
type Target struct {
	Locator Locator

	// Selector addresses the marked element with plain CSS.
	Selector string

	// Matches is the number of elements the locator matched.
	Matches int
}

// nextMark returns a mark unique across sessions sharing a browser.
func nextMark() string {
	return uuid.NewString()
}

// Resolve waits until loc matches at least one element and returns the
// first one. It fails with RESOLUTION_TIMEOUT when nothing matches in
// time, AMBIGUOUS when Exact is set and several elements match, and
// UNREACHABLE when the document could not be queried at all. A cancelled
// ctx is returned as is.
func Resolve(ctx context.Context, q Querier, loc Locator, opts Options) (*Target, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	mark := nextMark()
	deadline := time.Now().Add(opts.Timeout)

	var lastErr error
	queried := false
	for attempt := 0; ; attempt++ {
		n, err := mark1(ctx, q, loc, mark, opts.AllowHidden, deadline, attempt == 0)
		switch {
		case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// The query itself outlived the window.
			return nil, failure.NewResolutionTimeout(loc.String(), opts.Timeout)
		case err != nil:
			lastErr = err
		case n > 1 && opts.Exact:
			return nil, failure.NewAmbiguous(loc.String(), n)
		case n > 0:
			return &Target{Locator: loc, Selector: MarkedSelector(mark), Matches: n}, nil
		default:
			queried = true
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if !queried && lastErr != nil {
		return nil, failure.Wrap(failure.CodeUnreachable, fmt.Sprintf("could not query %s", loc), lastErr)
	}
	return nil, failure.NewResolutionTimeout(loc.String(), opts.Timeout)
}

// mark1 runs one query bounded by deadline. The first query of a
// resolution always runs, even with a zero window.
func mark1(ctx context.Context, q Querier, loc Locator, mark string, allowHidden bool, deadline time.Time, first bool) (int, error) {
	if first && !time.Now().Before(deadline) {
		return q.Mark(ctx, loc, mark, allowHidden)
	}
	qctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return q.Mark(qctx, loc, mark, allowHidden)
}
