// Package scheduler triggers the poll job and one-shot startup tasks.
//
// Schedules are robfig/cron entries wrapped in a job chain that recovers
// panics and skips a trigger while the previous run is still in flight.
// Each run gets its own timeout derived from the service context.
package scheduler
