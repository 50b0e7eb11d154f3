// Package scheduler registers named cron or interval triggers and enqueues
// their jobs into the task engine. It never executes jobs itself.
package scheduler
