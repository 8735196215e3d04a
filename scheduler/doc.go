// Package scheduler owns the job table and the admission, placement,
// and completion of every job-wrapped call.
//
// Submission runs lock admission first: a job whose lock is free
// starts immediately, a job whose lock is held waits in that lock's
// FIFO queue, and a submission against a full queue coalesces onto
// the queue's tail job instead of creating a new one. Placement then
// hands the body to its execution mode: a goroutine for loop jobs,
// the bounded worker pool for thread jobs, or the subprocess runner
// for process jobs. Completion releases the lock, promotes the next
// waiter, announces the outcome, and evicts transient jobs from the
// table.
package scheduler
