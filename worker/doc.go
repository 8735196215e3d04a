// Package worker provides the execution substrates the scheduler
// places job bodies on: a bounded goroutine pool for thread-mode jobs
// and a subprocess runner for process-mode jobs.
package worker
