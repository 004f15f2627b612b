package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptrelay/promptrelay/automator"
	"github.com/promptrelay/promptrelay/httpapi"
	"github.com/promptrelay/promptrelay/provider"
	"github.com/promptrelay/promptrelay/session"
)

func TestServeAfterStartupGatesTraffic(t *testing.T) {
	factory := automator.NewMockFactory()
	gate := make(chan struct{})
	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	factory.ConstructFunc = func(ctx context.Context, p provider.Provider) error {
		record("construct " + p.ID)
		if p.ID == "slow" {
			<-gate
		}
		record("done " + p.ID)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := session.NewManager(
		[]provider.Provider{{ID: "slow"}, {ID: "fast"}}, factory.New,
		session.WithCooldown(0), session.WithLogger(logger))
	t.Cleanup(manager.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: httpapi.New(manager, logger).Handler()}
	t.Cleanup(func() { _ = srv.Close() })

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- serveAfterStartup(context.Background(), manager,
			[][]string{{"slow"}, {"fast"}}, srv, ln, logger)
	}()

	// Dispatch while the first batch is still probing: the request must not
	// reach a worker until every batch has finished.
	resp := make(chan error, 1)
	go func() {
		r, err := http.Post("http://"+ln.Addr().String()+"/generate",
			"application/json",
			strings.NewReader(`{"provider":"fast","prompt":"hi"}`))
		if err == nil {
			r.Body.Close()
		}
		resp <- err
	}()

	select {
	case <-resp:
		t.Fatal("request served before startup probing finished")
	case <-time.After(300 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-resp:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete after startup")
	}

	// No construction for the second provider may begin before the first
	// batch's probe has finished.
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, "construct slow", events[0])
	doneSlow, firstFast := -1, -1
	for i, ev := range events {
		if ev == "done slow" && doneSlow == -1 {
			doneSlow = i
		}
		if ev == "construct fast" && firstFast == -1 {
			firstFast = i
		}
	}
	require.GreaterOrEqual(t, doneSlow, 0)
	require.GreaterOrEqual(t, firstFast, 0)
	assert.Greater(t, firstFast, doneSlow, "second batch constructed during first batch's probe")
}
