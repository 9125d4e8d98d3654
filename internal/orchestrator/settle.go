package orchestrator

import (
	"context"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// SubFetch is one independent fetch of a fan-out group
type SubFetch struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sub is shorthand for building a SubFetch
func Sub(name string, run func(ctx context.Context) error) SubFetch {
	return SubFetch{Name: name, Run: run}
}

// SettleAll is the best-effort settle-all policy: every sub-fetch is started
// (at most maxConcurrency at a time, unbounded when maxConcurrency <= 0) and
// SettleAll returns only after all of them finished. A sub-fetch that fails
// or panics does not cancel its siblings. onSettled, if set, is called once
// per sub-fetch as it finishes, from the sub-fetch's goroutine.
//
// The returned slice holds the error of subs[i] at index i.
func SettleAll(ctx context.Context, maxConcurrency int, subs []SubFetch, onSettled func(SubFetch, error)) []error {
	errs := make([]error, len(subs))
	if len(subs) == 0 {
		return errs
	}

	p := pool.New()
	if maxConcurrency > 0 {
		p = p.WithMaxGoroutines(maxConcurrency)
	}

	for i, sub := range subs {
		p.Go(func() {
			err := run(ctx, sub.Run)
			errs[i] = err
			if onSettled != nil {
				onSettled(sub, err)
			}
		})
	}
	p.Wait()

	return errs
}

// run calls fetch and turns a panic into its error so the caller always
// gets to settle the section
func run(ctx context.Context, fetch func(ctx context.Context) error) (err error) {
	if fetch == nil {
		return nil
	}

	var pc panics.Catcher
	pc.Try(func() {
		err = fetch(ctx)
	})
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}
