package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"defisync/internal/backend"
	"defisync/internal/defi"
	"defisync/internal/notify"
	"defisync/internal/orchestrator"
	"defisync/internal/protocol"
	"defisync/internal/ratelimit"
	"defisync/internal/status"
	"defisync/internal/testutil"
)

const (
	defiPath     = "/blockchains/ETH/defi"
	airdropsPath = "/blockchains/ETH/airdrops"
)

type harness struct {
	fake     *testutil.Backend
	client   *backend.Client
	registry *status.Registry
	center   *notify.Center
	svc      *defi.Service
}

func newHarness(t *testing.T, poll backend.PollConfig) *harness {
	t.Helper()

	fake := testutil.NewBackend(t)
	client := backend.NewClient(fake.URL(),
		backend.WithLimiter(ratelimit.Unlimited()),
		backend.WithPollConfig(poll),
		backend.WithHTTPClient(backend.NewHTTPClient(fake.URL(), backend.RetryConfig{})),
	)
	t.Cleanup(func() { _ = client.Close() })

	registry := status.NewRegistry()
	center := notify.NewCenter(20, testutil.QuietLogger())
	orch := orchestrator.New(registry, center, orchestrator.WithLogger(testutil.QuietLogger()))
	svc := defi.NewService(orch, client, defi.WithLogger(testutil.QuietLogger()))

	return &harness{fake: fake, client: client, registry: registry, center: center, svc: svc}
}

func fastPoll() backend.PollConfig {
	return backend.PollConfig{Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, Timeout: 5 * time.Second}
}

// answerBalances gives every non-premium store endpoint an outcome
func (h *harness) answerBalances(o testutil.Outcome) {
	for _, store := range h.svc.Stores() {
		for _, ep := range store.Definition().Endpoints {
			if !ep.Premium {
				h.fake.Handle(ep.Path, o)
			}
		}
	}
}

// TestIntegration_AllDefi runs the full overview against the fake backend
func TestIntegration_AllDefi(t *testing.T) {
	h := newHarness(t, fastPoll())
	h.fake.Handle(defiPath, testutil.Outcome{
		Result: map[string]any{
			"0xabc": []map[string]any{{
				"protocol":     map[string]any{"name": "Aave"},
				"balance_type": "Asset",
				"base_balance": map[string]any{
					"token_symbol": "aDAI",
					"balance":      map[string]any{"amount": "10", "usd_value": "10.02"},
				},
			}},
		},
		PendingPolls: 1,
	})
	h.answerBalances(testutil.Outcome{Result: map[string]any{}, PendingPolls: 1})

	if !h.svc.FetchAllDefi(context.Background(), false) {
		t.Fatal("FetchAllDefi() declined a fresh load")
	}

	if got := h.registry.Get(status.SectionDefiOverview); got != status.StatusLoaded {
		t.Errorf("overview status = %s, want loaded", got)
	}
	if got := h.fake.Submissions(defiPath); got != 1 {
		t.Errorf("defi balances submitted %d times, want 1", got)
	}
	// all-protocol balances plus seven protocol balances
	if got := h.fake.TotalSubmissions(); got != 8 {
		t.Errorf("total submissions = %d, want 8", got)
	}
	if notes := h.center.List(); len(notes) != 0 {
		t.Errorf("unexpected notifications: %v", notes)
	}
	if protocols := h.svc.Balances().Protocols(); len(protocols) != 1 || protocols[0] != "Aave" {
		t.Errorf("protocols = %v, want [Aave]", protocols)
	}
	if pending := h.client.Pending(); len(pending) != 0 {
		t.Errorf("tasks still tracked after completion: %v", pending)
	}
}

// TestIntegration_ConcurrentSubFetches checks that sub-fetches of a group
// are awaited concurrently
func TestIntegration_ConcurrentSubFetches(t *testing.T) {
	h := newHarness(t, backend.PollConfig{Interval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond, Timeout: 5 * time.Second})
	h.answerBalances(testutil.Outcome{Result: map[string]any{}, PendingPolls: 4})

	start := time.Now()
	if !h.svc.FetchLending(context.Background(), false) {
		t.Fatal("FetchLending() declined a fresh load")
	}
	duration := time.Since(start)

	// Five sub-fetches polled in sequence would take at least 500ms
	if duration > 450*time.Millisecond {
		t.Errorf("sub-fetches likely ran sequentially. Duration: %v", duration)
	}
	if got := h.fake.TotalSubmissions(); got != 5 {
		t.Errorf("total submissions = %d, want 5", got)
	}
}

// TestIntegration_PartialFailures checks that a failing sub-fetch does not
// affect its siblings
func TestIntegration_PartialFailures(t *testing.T) {
	h := newHarness(t, fastPoll())
	h.answerBalances(testutil.Outcome{Result: map[string]any{"ok": true}})
	h.fake.Handle("/blockchains/ETH/modules/compound/balances", testutil.Outcome{Message: "compound subgraph down"})

	h.svc.FetchLending(context.Background(), false)

	if got := h.registry.Get(status.SectionDefiLending); got != status.StatusLoaded {
		t.Errorf("lending status = %s, want loaded", got)
	}
	if got := h.registry.Get(status.SectionCompoundBalances); got != status.StatusLoaded {
		t.Errorf("compound status = %s, want loaded", got)
	}
	if _, ok := h.svc.Aave.Payload(protocol.KindBalances, protocol.VersionNone); !ok {
		t.Error("aave balances missing after a sibling failed")
	}
	if _, ok := h.svc.Compound.Payload(protocol.KindBalances, protocol.VersionNone); ok {
		t.Error("compound balances stored despite the failure")
	}
	// sub-fetch failures are logged, not notified
	if notes := h.center.List(); len(notes) != 0 {
		t.Errorf("unexpected notifications: %v", notes)
	}
}

// TestIntegration_SingleFlight triggers the same fetch from many callers
// while the first one is still awaiting its task
func TestIntegration_SingleFlight(t *testing.T) {
	h := newHarness(t, fastPoll())
	h.fake.Handle(airdropsPath, testutil.Outcome{Result: map[string]any{}, PendingPolls: 5})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.svc.FetchAirdrops(context.Background(), true) {
				mu.Lock()
				ran++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ran < 1 {
		t.Fatal("no caller ran the fetch")
	}
	if got := h.fake.Submissions(airdropsPath); got != ran {
		t.Errorf("submissions = %d, want one per admitted caller (%d)", got, ran)
	}
	if got := h.registry.Get(status.SectionDefiAirdrops); got != status.StatusLoaded {
		t.Errorf("airdrops status = %s, want loaded", got)
	}
}

// TestIntegration_TaskTimeout checks that a task that never completes ends
// in a notification and a settled section
func TestIntegration_TaskTimeout(t *testing.T) {
	h := newHarness(t, backend.PollConfig{Interval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond})
	h.fake.Handle(airdropsPath, testutil.Outcome{Result: map[string]any{}, PendingPolls: 1 << 20})

	start := time.Now()
	h.svc.FetchAirdrops(context.Background(), false)
	duration := time.Since(start)

	if duration > 2*time.Second {
		t.Errorf("task timeout not respected. Duration: %v", duration)
	}
	if got := h.registry.Get(status.SectionDefiAirdrops); got != status.StatusLoaded {
		t.Errorf("airdrops status = %s, want loaded", got)
	}
	notes := h.center.List()
	if len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	if !strings.HasPrefix(notes[0].Message, "Failed to fetch airdrops") {
		t.Errorf("notification message = %q", notes[0].Message)
	}
}

// TestIntegration_PurgeThenRefetch checks that a purged module is fetched
// again by the next trigger without refresh
func TestIntegration_PurgeThenRefetch(t *testing.T) {
	h := newHarness(t, fastPoll())
	h.answerBalances(testutil.Outcome{Result: map[string]any{}})
	ctx := context.Background()

	h.svc.FetchLending(ctx, false)
	if got := h.fake.TotalSubmissions(); got != 5 {
		t.Fatalf("total submissions = %d, want 5", got)
	}

	if err := h.svc.Purge(protocol.Aave); err != nil {
		t.Fatalf("Purge() failed: %v", err)
	}
	if got := h.registry.Get(status.SectionAaveBalances); got != status.StatusNone {
		t.Errorf("aave status after purge = %s, want none", got)
	}

	// The group is still loaded, so only the store itself refetches
	if err := h.svc.Aave.FetchBalances(ctx, false); err != nil {
		t.Fatalf("FetchBalances() failed: %v", err)
	}
	if got := h.fake.Submissions("/blockchains/ETH/modules/aave/balances"); got != 2 {
		t.Errorf("aave submissions = %d, want 2", got)
	}
	if got := h.fake.Submissions("/blockchains/ETH/modules/compound/balances"); got != 1 {
		t.Errorf("compound submissions = %d, want 1", got)
	}
}
