// Package scheduler registers named schedules (cron, interval, daily) and
// turns each trigger into a task on the task engine. It never runs jobs
// itself.
package scheduler
