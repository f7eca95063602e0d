// Package scheduler turns named schedules into engine tasks.
//
// Recurring triggers (cron expressions, intervals, daily/weekly helpers) run
// on robfig/cron. One-shot triggers (AddOnce, AddAfter) are timers on the
// shared timing wheel. Either way the scheduler only decides when; the task
// engine runs the job.
package scheduler
