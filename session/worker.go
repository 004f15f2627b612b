package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/promptrelay/promptrelay/automator"
	"github.com/promptrelay/promptrelay/provider"
)

// State is the resource state of a worker, as seen by observers.
type State string

// Worker resource states. There are no others: a worker moves from absent to
// active on first use and back to absent on reset or generation failure.
const (
	StateAbsent State = "absent"
	StateActive State = "active"
)

// Worker owns one provider's automation session and processes jobs strictly
// in submission order on a single goroutine. The queue is unbounded and
// never applies backpressure; sustained oversubmission grows the queue
// rather than rejecting (watch Depth).
type Worker struct {
	provider provider.Provider
	factory  automator.Factory
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Job
	stopped bool

	// auto is touched only by the worker goroutine.
	auto  automator.Automator
	state atomic.Value // State
	done  chan struct{}
}

// newWorker creates a worker and starts its loop.
func newWorker(p provider.Provider, factory automator.Factory, logger *slog.Logger) *Worker {
	w := &Worker{
		provider: p,
		factory:  factory,
		logger:   logger.With("provider", p.ID),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.state.Store(StateAbsent)
	go w.run()
	return w
}

// Provider returns the worker's provider ID.
func (w *Worker) Provider() string {
	return w.provider.ID
}

// State returns the current resource state.
func (w *Worker) State() State {
	return w.state.Load().(State)
}

// Depth returns the number of queued, not yet started jobs.
func (w *Worker) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Submit enqueues a job. It never rejects while the worker is open; after
// Close the job is failed through its bridge with ErrWorkerClosed.
func (w *Worker) Submit(job *Job) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		job.bridge.Fail(&Error{Provider: w.provider.ID, Op: "submit", Err: ErrWorkerClosed})
		return
	}
	w.queue = append(w.queue, job)
	w.cond.Signal()
	w.mu.Unlock()
}

// Probe synchronously validates that a session can be constructed for this
// provider, closing it again immediately so only the persisted login
// artifacts remain. The construction runs through the worker's serialized
// queue, preserving exclusive ownership. Failures are logged and reported as
// false, never raised.
func (w *Worker) Probe(ctx context.Context) bool {
	job := newProbeJob()
	w.Submit(job)
	if _, err := job.bridge.Await(ctx); err != nil {
		return false
	}
	return true
}

// Close stops the worker deterministically: queued jobs are failed with
// ErrWorkerClosed, an in-flight job runs to completion, and any live session
// is closed. Close blocks until the loop has exited.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopped = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

// run is the worker loop. A single failing job never terminates it; every
// failure becomes a bridged outcome and the loop moves on.
func (w *Worker) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			pending := w.queue
			w.queue = nil
			w.mu.Unlock()
			for _, job := range pending {
				job.bridge.Fail(&Error{Provider: w.provider.ID, Op: "submit", Err: ErrWorkerClosed})
			}
			// Even a panicking Close must not stop done from closing.
			func() {
				defer func() {
					if r := recover(); r != nil {
						w.logger.Error("close panicked during shutdown", "panic", r)
					}
				}()
				w.dropSession("shutdown")
			}()
			close(w.done)
			return
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.process(job)
	}
}

// process executes one job, converting panics into bridged failures so a
// misbehaving automator cannot kill the loop.
func (w *Worker) process(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "panic", r)
			w.dropSession("panic")
			job.bridge.Fail(&Error{
				Provider: w.provider.ID,
				Op:       job.kind.op(),
				Err:      fmt.Errorf("%w: panic: %v", ErrGeneration, r),
			})
		}
	}()

	switch job.kind {
	case kindGenerate:
		w.generate(job)
	case kindReset:
		w.reset(job)
	case kindProbe:
		w.probe(job)
	}
}

// generate runs a prompt payload, constructing the session first if absent.
func (w *Worker) generate(job *Job) {
	if w.auto == nil {
		w.logger.Info("starting automation session")
		auto, err := w.factory(context.Background(), w.provider)
		if err != nil {
			w.logger.Error("session construction failed", "error", err)
			job.bridge.Fail(&Error{
				Provider: w.provider.ID,
				Op:       "construct",
				Err:      fmt.Errorf("%w: %w", ErrConstruction, err),
			})
			return
		}
		w.auto = auto
		w.state.Store(StateActive)
	}

	prompts := job.payload.Prompts()
	mode := job.payload.Mode()

	var output []string
	var err error
	switch mode {
	case ModeSingle:
		var text string
		text, err = w.auto.ProcessSingle(context.Background(), prompts[0])
		output = []string{text}
	case ModeChain:
		output, err = w.auto.ProcessChain(context.Background(), prompts)
	}
	if err != nil {
		// The session is now suspect; discard it and let the next job
		// rebuild from scratch. No partial retry within a job.
		w.logger.Error("generation failed", "mode", mode, "error", err)
		w.dropSession("generation failure")
		job.bridge.Fail(&Error{
			Provider: w.provider.ID,
			Op:       "generate",
			Err:      fmt.Errorf("%w: %w", ErrGeneration, err),
		})
		return
	}

	job.bridge.Deliver(Result{Status: StatusSuccess, Mode: mode, Output: output})
}

// reset closes the session if present. Reset on an absent session succeeds
// trivially without invoking Close.
func (w *Worker) reset(job *Job) {
	w.dropSession("reset")
	job.bridge.Deliver(Result{Status: StatusSuccess})
}

// probe constructs a session and immediately closes it again, validating
// credentials and persisting whatever login artifacts the automator writes
// to its storage directory. If a session is already live the probe has
// nothing to prove.
func (w *Worker) probe(job *Job) {
	if w.auto != nil {
		job.bridge.Deliver(Result{Status: StatusSuccess})
		return
	}

	auto, err := w.factory(context.Background(), w.provider)
	if err != nil {
		w.logger.Warn("startup probe failed", "error", err)
		job.bridge.Fail(&Error{
			Provider: w.provider.ID,
			Op:       "probe",
			Err:      fmt.Errorf("%w: %w", ErrConstruction, err),
		})
		return
	}
	if err := auto.Close(); err != nil {
		w.logger.Warn("close failed", "during", "probe", "error", err)
	}
	w.logger.Info("startup probe succeeded")
	job.bridge.Deliver(Result{Status: StatusSuccess})
}

// dropSession best-effort closes the live session, if any, and returns the
// worker to the absent state. Close errors are logged and swallowed by
// contract.
func (w *Worker) dropSession(reason string) {
	if w.auto == nil {
		return
	}
	// Clear the handle before closing: if Close panics, the recovery path
	// must not find a live handle and close it a second time.
	auto := w.auto
	w.auto = nil
	w.state.Store(StateAbsent)
	if err := auto.Close(); err != nil {
		w.logger.Warn("close failed", "during", reason, "error", err)
	}
	w.logger.Info("automation session closed", "reason", reason)
}
