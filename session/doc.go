// Package session is the dispatch and lifecycle core of promptrelay.
//
// Each configured provider gets exactly one Worker: a goroutine that owns the
// provider's automation session exclusively and processes jobs strictly in
// arrival order. The session resource is constructed lazily on the first
// generate job, survives across jobs so conversational context carries over,
// and is discarded on reset or on any generation failure; the next job
// reconstructs it from scratch. That discard-and-reconstruct cycle is the
// only recovery strategy.
//
// The Manager is the registry of workers. It routes dispatch and reset calls
// by provider ID and runs the staged startup: batches of providers are probed
// concurrently, batches themselves sequentially, with a cooldown in between
// so shared browser infrastructure is not instantiated all at once.
//
// Outcomes travel from a worker goroutine to the awaiting caller over a
// Bridge, a one-shot channel that delivers exactly one value or failure and
// silently discards outcomes whose caller has already given up.
package session
