package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defisync/internal/backend"
	"defisync/internal/notify"
	"defisync/internal/status"
	"defisync/internal/testutil"
)

// transitions records every status a section passes through
type transitions struct {
	mu   sync.Mutex
	seen map[status.Section][]status.Status
}

func observe(r *status.Registry) *transitions {
	t := &transitions{seen: make(map[status.Section][]status.Status)}
	r.Subscribe(func(c status.Change) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.seen[c.Section] = append(t.seen[c.Section], c.To)
	})
	return t
}

func (t *transitions) of(section status.Section) []status.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]status.Status(nil), t.seen[section]...)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *status.Registry, *testutil.Recorder) {
	t.Helper()

	registry := status.NewRegistry()
	recorder := &testutil.Recorder{}
	return New(registry, recorder, WithLogger(testutil.QuietLogger())), registry, recorder
}

func TestLoad_FreshLoad(t *testing.T) {
	o, registry, recorder := newTestOrchestrator(t)
	seen := observe(registry)

	calls := 0
	ran := o.Load(context.Background(), status.SectionDefiBalances, false, Failure{Title: "DeFi balances"}, func(context.Context) error {
		calls++
		assert.Equal(t, status.StatusLoading, registry.Get(status.SectionDefiBalances))
		return nil
	})

	require.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []status.Status{status.StatusLoading, status.StatusLoaded}, seen.of(status.SectionDefiBalances))
	assert.Empty(t, recorder.Notifications())
}

func TestLoad_SuppressesLoadedWithoutRefresh(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t)
	registry.Set(status.StatusLoaded, status.SectionDefiAirdrops)
	seen := observe(registry)

	ran := o.Load(context.Background(), status.SectionDefiAirdrops, false, Failure{}, func(context.Context) error {
		t.Fatal("fetch must not run")
		return nil
	})

	assert.False(t, ran)
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiAirdrops))
	assert.Empty(t, seen.of(status.SectionDefiAirdrops))
}

func TestLoad_ForcedRefreshProceeds(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t)
	registry.Set(status.StatusLoaded, status.SectionDefiAirdrops)
	seen := observe(registry)

	ran := o.Load(context.Background(), status.SectionDefiAirdrops, true, Failure{}, func(context.Context) error {
		return nil
	})

	assert.True(t, ran)
	assert.Equal(t, []status.Status{status.StatusRefreshing, status.StatusLoaded}, seen.of(status.SectionDefiAirdrops))
}

func TestLoad_DeclinesWhileInFlight(t *testing.T) {
	for _, inFlight := range []status.Status{status.StatusLoading, status.StatusRefreshing, status.StatusPartiallyLoaded} {
		t.Run(inFlight.String(), func(t *testing.T) {
			o, registry, _ := newTestOrchestrator(t)
			registry.Set(inFlight, status.SectionDefiBalances)

			for _, refresh := range []bool{false, true} {
				ran := o.Load(context.Background(), status.SectionDefiBalances, refresh, Failure{}, func(context.Context) error {
					t.Fatal("fetch must not run")
					return nil
				})
				assert.False(t, ran)
				assert.Equal(t, inFlight, registry.Get(status.SectionDefiBalances))
			}
		})
	}
}

func TestLoad_FailureNotifiesAndSettles(t *testing.T) {
	o, registry, recorder := newTestOrchestrator(t)

	ran := o.Load(context.Background(), status.SectionDefiAirdrops, false,
		Failure{Title: "Airdrops", Description: "Failed to fetch airdrops: {error}"},
		func(context.Context) error {
			return backend.NewTaskFailedError(4, "etherscan unreachable")
		})

	require.True(t, ran)
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiAirdrops))

	notes := recorder.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Airdrops", notes[0].Title)
	assert.Equal(t, "Failed to fetch airdrops: etherscan unreachable", notes[0].Message)
	assert.Equal(t, notify.SeverityError, notes[0].Severity)
	assert.True(t, notes[0].Display)
}

func TestLoad_AtMostOneActiveFetch(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	done := make(chan bool)
	go func() {
		done <- o.Load(context.Background(), status.SectionDefiBalances, false, Failure{}, func(context.Context) error {
			calls.Add(1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(refresh bool) {
			defer wg.Done()
			ran := o.Load(context.Background(), status.SectionDefiBalances, refresh, Failure{}, func(context.Context) error {
				calls.Add(1)
				return nil
			})
			assert.False(t, ran)
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, status.StatusLoading, registry.Get(status.SectionDefiBalances))
	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiBalances))
}

func TestGuarded_ReturnsErrorWithoutNotifying(t *testing.T) {
	o, registry, recorder := newTestOrchestrator(t)
	boom := errors.New("boom")

	err := o.Guarded(context.Background(), status.SectionAaveBalances, false, func(context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionAaveBalances))
	assert.Empty(t, recorder.Notifications())

	// loaded and not refreshed: declined without error
	err = o.Guarded(context.Background(), status.SectionAaveBalances, false, func(context.Context) error {
		return boom
	})
	assert.NoError(t, err)
}

func TestLoad_PanicNotifiesAndSettles(t *testing.T) {
	o, registry, recorder := newTestOrchestrator(t)

	ran := o.Load(context.Background(), status.SectionDefiAirdrops, false,
		Failure{Title: "Airdrops", Description: "Failed to fetch airdrops: {error}"},
		func(context.Context) error {
			panic("decoder exploded")
		})

	require.True(t, ran)
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiAirdrops))

	notes := recorder.Notifications()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "decoder exploded")

	// the section is not stuck: a forced refresh runs again
	calls := 0
	ran = o.Load(context.Background(), status.SectionDefiAirdrops, true, Failure{}, func(context.Context) error {
		calls++
		return nil
	})
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
}

func TestGuarded_PanicReturnsErrorAndSettles(t *testing.T) {
	o, registry, recorder := newTestOrchestrator(t)

	err := o.Guarded(context.Background(), status.SectionAaveBalances, false, func(context.Context) error {
		panic("nil payload")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil payload")
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionAaveBalances))
	assert.Empty(t, recorder.Notifications())

	calls := 0
	err = o.Guarded(context.Background(), status.SectionAaveBalances, true, func(context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGroup_PanickingGuardedSubFetchSettlesBoth(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t)

	ran := o.Group(context.Background(), status.SectionDefiLending, false, []SubFetch{
		Sub("aave", func(ctx context.Context) error {
			return o.Guarded(ctx, status.SectionAaveBalances, false, func(context.Context) error {
				panic("index out of range")
			})
		}),
		Sub("compound", func(ctx context.Context) error {
			return o.Guarded(ctx, status.SectionCompoundBalances, false, func(context.Context) error {
				return nil
			})
		}),
	})

	require.True(t, ran)
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiLending))
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionAaveBalances))
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionCompoundBalances))
}

func TestGroup_FanOutIsolation(t *testing.T) {
	o, registry, recorder := newTestOrchestrator(t)
	seen := observe(registry)

	var applied atomic.Bool
	ran := o.Group(context.Background(), status.SectionDefiLending, false, []SubFetch{
		Sub("a", func(context.Context) error {
			applied.Store(true)
			return nil
		}),
		Sub("b", func(context.Context) error {
			return errors.New("rejected")
		}),
	})

	require.True(t, ran)
	assert.True(t, applied.Load())
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiLending))
	assert.Empty(t, recorder.Notifications())

	got := seen.of(status.SectionDefiLending)
	assert.Equal(t, []status.Status{status.StatusLoading, status.StatusPartiallyLoaded, status.StatusLoaded}, got)
}

func TestGroup_PartiallyLoadedVisibleBeforeSettling(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t)

	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		o.Group(context.Background(), status.SectionDefiBorrowing, false, []SubFetch{
			Sub("fast", func(context.Context) error { return nil }),
			Sub("slow", func(context.Context) error {
				<-release
				return nil
			}),
		})
	}()

	require.Eventually(t, func() bool {
		return registry.Get(status.SectionDefiBorrowing) == status.StatusPartiallyLoaded
	}, time.Second, time.Millisecond)
	close(release)
	<-done
	assert.Equal(t, status.StatusLoaded, registry.Get(status.SectionDefiBorrowing))
}

func TestGroup_Declined(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t)
	registry.Set(status.StatusLoaded, status.SectionDefiLending)

	ran := o.Group(context.Background(), status.SectionDefiLending, false, []SubFetch{
		Sub("a", func(context.Context) error {
			t.Fatal("sub-fetch must not run")
			return nil
		}),
	})
	assert.False(t, ran)
}

func TestFailure_Notification(t *testing.T) {
	err := errors.New("connection refused")

	n := Failure{Title: "Balances"}.Notification(err)
	assert.Equal(t, "connection refused", n.Message)

	n = Failure{Title: "Balances", Description: "no placeholder"}.Notification(err)
	assert.Equal(t, "no placeholder", n.Message)
}
