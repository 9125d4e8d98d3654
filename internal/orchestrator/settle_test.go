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
)

func TestSettleAll_RunsEverySubFetch(t *testing.T) {
	boom := errors.New("boom")

	var ran atomic.Int32
	subs := []SubFetch{
		Sub("ok", func(context.Context) error { ran.Add(1); return nil }),
		Sub("fails", func(context.Context) error { ran.Add(1); return boom }),
		Sub("panics", func(context.Context) error { ran.Add(1); panic("kaboom") }),
		Sub("ok too", func(context.Context) error { ran.Add(1); return nil }),
	}

	var mu sync.Mutex
	settled := make(map[string]error)
	errs := SettleAll(context.Background(), 0, subs, func(sub SubFetch, err error) {
		mu.Lock()
		defer mu.Unlock()
		settled[sub.Name] = err
	})

	require.Len(t, errs, 4)
	assert.Equal(t, int32(4), ran.Load())
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	require.Error(t, errs[2])
	assert.Contains(t, errs[2].Error(), "kaboom")
	assert.NoError(t, errs[3])
	assert.Len(t, settled, 4)
}

func TestSettleAll_FailureDoesNotCancelSiblings(t *testing.T) {
	slowDone := make(chan struct{})
	errs := SettleAll(context.Background(), 0, []SubFetch{
		Sub("fails fast", func(context.Context) error {
			return errors.New("rejected")
		}),
		Sub("slow", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(20 * time.Millisecond):
				close(slowDone)
				return nil
			}
		}),
	}, nil)

	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
	select {
	case <-slowDone:
	default:
		t.Fatal("slow sub-fetch did not finish")
	}
}

func TestSettleAll_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32

	subs := make([]SubFetch, 12)
	for i := range subs {
		subs[i] = Sub("sub", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}

	SettleAll(context.Background(), 3, subs, nil)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestSettleAll_Empty(t *testing.T) {
	assert.Empty(t, SettleAll(context.Background(), 4, nil, nil))
}

func TestSettleAll_NilRun(t *testing.T) {
	errs := SettleAll(context.Background(), 1, []SubFetch{{Name: "noop"}}, nil)
	assert.Equal(t, []error{nil}, errs)
}
