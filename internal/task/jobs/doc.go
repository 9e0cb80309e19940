// Package jobs is the in-memory job table: one entry per derived job id,
// armed as a one-shot timer or a recurring cron entry.
//
// The table only triggers. When a job fires it is handed to a Runner (the
// task engine) which runs the Handler on its single worker.
package jobs
