// Package release moves items from the queue to the channel.
//
// Pipeline runs one batch (select, publish, report). Registry tracks the
// one-shot jobs planned for today. AutoScheduler owns the enabled flag and
// turns the daily plan into registry jobs. StatusReporter summarizes all of it.
package release
