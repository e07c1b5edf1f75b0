// Package cron dispatches recurring CronJob rows and one-shot Reminder
// rows against the store, running each due row's Processor the same way
// the Delegation Planner and Subagent Worker do.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseCronExpr validates a cron expression without computing a next run,
// for callers (the delegate tool) that only need to reject bad input
// early.
func ParseCronExpr(expr string) error {
	_, err := cronParser.Parse(strings.TrimSpace(expr))
	return err
}

// NextRun returns the next time expr fires strictly after after.
func NextRun(expr string, after time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("cron: empty expression")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron: parse %q: %w", expr, err)
	}
	next := schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron: %q has no next run", expr)
	}
	return next, nil
}
