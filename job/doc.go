// Package job defines the job model shared by the scheduler and the
// engine: the Job record with its state machine, per-method execution
// options, inter-job pipes, and the method registry that maps call
// names to handlers.
//
// A Job is created by the scheduler on submission and owned by it for
// the rest of its life. Method bodies interact with their job only
// through SetProgress, Pipes, and the log writer; every other field is
// mutated by the scheduler as the job moves WAITING -> RUNNING and on
// to one of the terminal states SUCCESS, FAILED, or ABORTED.
package job
