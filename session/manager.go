package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/promptrelay/promptrelay/automator"
	"github.com/promptrelay/promptrelay/provider"
)

// Manager is the registry of provider workers. It owns no session resources
// itself; it creates one Worker per configured provider at construction,
// routes calls by provider ID, and orchestrates the staged startup.
type Manager struct {
	workers map[string]*Worker
	order   []string
	config  managerConfig

	closeOnce sync.Once
}

// WorkerStatus is a point-in-time view of one worker, for health reporting.
type WorkerStatus struct {
	State State `json:"state"`
	Depth int   `json:"queue_depth"`
}

// NewManager creates a manager with one worker per provider. Workers start
// their loops immediately; sessions stay absent until first use or until a
// startup probe runs.
func NewManager(providers []provider.Provider, factory automator.Factory, opts ...ManagerOption) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		workers: make(map[string]*Worker, len(providers)),
		config:  cfg,
	}
	for _, p := range providers {
		if _, exists := m.workers[p.ID]; exists {
			continue
		}
		m.workers[p.ID] = newWorker(p, factory, cfg.logger)
		m.order = append(m.order, p.ID)
	}
	return m
}

// Start runs startup probes batch by batch. Within a batch every provider is
// probed concurrently and the batch completes only when every probe has
// finished, success or failure; the cooldown then elapses before the next
// batch begins. A failed probe leaves its provider absent — it will attempt
// lazy construction on its first real job — and never aborts the sequence.
// Start returns early only if ctx is cancelled.
func (m *Manager) Start(ctx context.Context, batches [][]string) error {
	for i, batch := range batches {
		m.config.logger.Info("probing startup batch", "batch", i, "providers", batch)

		var wg sync.WaitGroup
		for _, id := range batch {
			w, ok := m.workers[id]
			if !ok {
				m.config.logger.Warn("batch names unknown provider", "batch", i, "provider", id)
				continue
			}
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				w.Probe(ctx)
			}(w)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}
		if i < len(batches)-1 && m.config.cooldown > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.config.cooldown):
			}
		}
	}
	return nil
}

// Dispatch submits a generate job to the provider's worker and awaits its
// outcome. An unregistered provider fails immediately without touching any
// worker.
func (m *Manager) Dispatch(ctx context.Context, providerID string, payload Payload) (Result, error) {
	w, ok := m.workers[providerID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerID)
	}
	job := newGenerateJob(payload)
	w.Submit(job)
	return job.bridge.Await(ctx)
}

// Reset submits a reset job, closing the provider's session if one is live.
// It succeeds for any registered provider regardless of current state.
func (m *Manager) Reset(ctx context.Context, providerID string) error {
	w, ok := m.workers[providerID]
	if !ok {
		return fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerID)
	}
	job := newResetJob()
	w.Submit(job)
	_, err := job.bridge.Await(ctx)
	return err
}

// Providers returns the registered provider IDs in registration order.
func (m *Manager) Providers() []string {
	return append([]string(nil), m.order...)
}

// Status returns the state and queue depth of every worker.
func (m *Manager) Status() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus, len(m.workers))
	for id, w := range m.workers {
		status[id] = WorkerStatus{State: w.State(), Depth: w.Depth()}
	}
	return status
}

// Close stops all workers and blocks until their loops have exited. Queued
// jobs are failed with ErrWorkerClosed; live sessions are closed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for _, w := range m.workers {
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				w.Close()
			}(w)
		}
		wg.Wait()
	})
}
