package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/promptrelay/promptrelay/automator"
	"github.com/promptrelay/promptrelay/provider"
)

func newTestManager(t *testing.T, f *automator.MockFactory, ids ...string) *Manager {
	t.Helper()
	providers := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		providers = append(providers, testProvider(id))
	}
	m := NewManager(providers, f.New, WithLogger(testLogger()), WithCooldown(0))
	t.Cleanup(m.Close)
	return m
}

func TestManager_DispatchUnknownProvider(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "chatgpt")

	_, err := m.Dispatch(context.Background(), "nope", Single("hello"))
	if !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	// Zero worker interactions.
	if got := f.Constructs("nope"); got != 0 {
		t.Errorf("expected no constructs, got %d", got)
	}
	if len(f.Calls()) != 0 {
		t.Errorf("expected no calls, got %d", len(f.Calls()))
	}
}

func TestManager_ResetUnknownProvider(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "chatgpt")

	if err := m.Reset(context.Background(), "nope"); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestManager_DispatchRoutesByProvider(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "chatgpt", "gemini")

	if _, err := m.Dispatch(context.Background(), "chatgpt", Single("to chatgpt")); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if _, err := m.Dispatch(context.Background(), "gemini", Single("to gemini")); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	for _, call := range f.Calls() {
		switch call.Prompts[0] {
		case "to chatgpt":
			if call.Provider != "chatgpt" {
				t.Errorf("misrouted: %+v", call)
			}
		case "to gemini":
			if call.Provider != "gemini" {
				t.Errorf("misrouted: %+v", call)
			}
		}
	}
	if f.Constructs("chatgpt") != 1 || f.Constructs("gemini") != 1 {
		t.Errorf("each provider should own one session")
	}
}

func TestManager_ResetThenAbsent(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "chatgpt")

	if _, err := m.Dispatch(context.Background(), "chatgpt", Single("hello")); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if err := m.Reset(context.Background(), "chatgpt"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if state := m.Status()["chatgpt"].State; state != StateAbsent {
		t.Errorf("expected absent after reset, got %v", state)
	}
}

func TestManager_ProvidersAndStatus(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "chatgpt", "gemini")

	ids := m.Providers()
	if len(ids) != 2 || ids[0] != "chatgpt" || ids[1] != "gemini" {
		t.Errorf("unexpected providers: %v", ids)
	}

	status := m.Status()
	if len(status) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(status))
	}
	for id, s := range status {
		if s.State != StateAbsent {
			t.Errorf("%s: expected absent, got %v", id, s.State)
		}
		if s.Depth != 0 {
			t.Errorf("%s: expected empty queue, got %d", id, s.Depth)
		}
	}
}

func TestManager_StartProbesAllBatches(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "a", "b", "c")

	if err := m.Start(context.Background(), [][]string{{"a", "b"}, {"c"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if f.Constructs(id) != 1 || f.Closes(id) != 1 {
			t.Errorf("%s: expected probe construct+close, got %d/%d",
				id, f.Constructs(id), f.Closes(id))
		}
	}
}

func TestManager_BatchOrdering(t *testing.T) {
	var mu sync.Mutex
	started := make(map[string]time.Time)
	finished := make(map[string]time.Time)

	f := automator.NewMockFactory()
	f.ConstructFunc = func(ctx context.Context, p provider.Provider) error {
		mu.Lock()
		started[p.ID] = time.Now()
		mu.Unlock()
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		finished[p.ID] = time.Now()
		mu.Unlock()
		return nil
	}

	providers := []provider.Provider{testProvider("a"), testProvider("b"), testProvider("c")}
	cooldown := 200 * time.Millisecond
	m := NewManager(providers, f.New, WithLogger(testLogger()), WithCooldown(cooldown))
	t.Cleanup(m.Close)

	if err := m.Start(context.Background(), [][]string{{"a", "b"}, {"c"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	// a and b probe concurrently: both must start before either finishes.
	firstFinish := finished["a"]
	if finished["b"].Before(firstFinish) {
		firstFinish = finished["b"]
	}
	if started["a"].After(firstFinish) || started["b"].After(firstFinish) {
		t.Error("batch members did not probe concurrently")
	}

	// c must wait for all of batch 1 plus the cooldown.
	lastFinish := finished["a"]
	if finished["b"].After(lastFinish) {
		lastFinish = finished["b"]
	}
	gap := started["c"].Sub(lastFinish)
	if gap < cooldown-20*time.Millisecond {
		t.Errorf("batch 2 started %v after batch 1 finished, want >= %v", gap, cooldown)
	}
}

func TestManager_ProbeFailureDoesNotAbortStartup(t *testing.T) {
	f := automator.NewMockFactory()
	f.ConstructFunc = func(ctx context.Context, p provider.Provider) error {
		if p.ID == "a" {
			return errors.New("login rejected")
		}
		return nil
	}
	m := newTestManager(t, f, "a", "b")

	if err := m.Start(context.Background(), [][]string{{"a"}, {"b"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if f.Constructs("b") != 1 {
		t.Error("later batch should still have probed")
	}
	if state := m.Status()["a"].State; state != StateAbsent {
		t.Errorf("failed provider should stay absent, got %v", state)
	}

	// The failed provider still works through lazy construction.
	f.ConstructFunc = nil
	if _, err := m.Dispatch(context.Background(), "a", Single("retry")); err != nil {
		t.Fatalf("lazy construction after probe failure failed: %v", err)
	}
}

func TestManager_StartSkipsUnknownBatchMember(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "a")

	if err := m.Start(context.Background(), [][]string{{"a", "ghost"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if f.Constructs("a") != 1 {
		t.Error("known provider should still probe")
	}
}

func TestManager_StartCancelled(t *testing.T) {
	f := automator.NewMockFactory()
	providers := []provider.Provider{testProvider("a"), testProvider("b")}
	m := NewManager(providers, f.New, WithLogger(testLogger()), WithCooldown(time.Hour))
	t.Cleanup(m.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := m.Start(ctx, [][]string{{"a"}, {"b"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded during cooldown, got %v", err)
	}
	if f.Constructs("b") != 0 {
		t.Error("second batch must not probe after cancellation")
	}
}

func TestManager_ConcurrentDispatch(t *testing.T) {
	f := automator.NewMockFactory()
	m := newTestManager(t, f, "chatgpt", "gemini")

	var wg sync.WaitGroup
	errCh := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "chatgpt"
			if i%2 == 0 {
				id = "gemini"
			}
			prompt := fmt.Sprintf("msg-%d", i)
			result, err := m.Dispatch(context.Background(), id, Single(prompt))
			if err != nil {
				errCh <- err
				return
			}
			// Each caller must receive its own outcome.
			if result.Text() != "re:"+prompt {
				errCh <- fmt.Errorf("wrong result for %s: %q", prompt, result.Text())
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	if f.MaxLive("chatgpt") != 1 || f.MaxLive("gemini") != 1 {
		t.Error("exclusive ownership violated under concurrent dispatch")
	}
}

func TestManager_CloseFailsLaterDispatch(t *testing.T) {
	f := automator.NewMockFactory()
	providers := []provider.Provider{testProvider("chatgpt")}
	m := NewManager(providers, f.New, WithLogger(testLogger()))
	m.Close()

	_, err := m.Dispatch(context.Background(), "chatgpt", Single("too late"))
	if !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}
