// Package scheduler fires jobs at wall-clock times: recurring daily triggers
// through robfig/cron and one-shot timers through time.AfterFunc.
//
// Every run happens in its own supervised goroutine, so a slow or panicking
// job never delays other triggers.
package scheduler
