// Package schedule provides the in-process task scheduler at the heart of
// hueplan.
//
// # Overview
//
// The scheduler runs user-provided jobs against wall-clock time. Jobs are
// registered as one-shot (Once), fixed-interval (Periodic) or cron (Cron)
// entries, each owning a pure next/previous occurrence computation. Every
// registered task carries a human-readable alias (de-duplicated per scheduler
// instance) and an optional tag set used for closest-task lookups.
//
// # Execution model
//
// Run() promotes every pending registration into its own goroutine. A task's
// run loop sleeps until the next occurrence, executes the job through a
// retry wrapper (exponential backoff with jitter) and a deadline wrapper
// (bounded to just before the next occurrence), then reschedules. Tasks run
// independently: a slow or retried execution delays only its own next
// occurrence, never other tasks.
//
// # Failure handling
//
// Ordinary job failures are retried and ultimately swallowed by the retry
// wrapper; they never abort the scheduler. An error escaping both wrappers
// indicates a defect in the scheduling machinery itself and is returned from
// Run() after the remaining tasks are shut down.
//
// # Catch-up queries
//
// PreviousClosestTask/NextClosestTask answer "what should be running right
// now" for the plan layer, e.g. re-applying the most recent missed scene
// change right after a restart or a button press.
package schedule
