package verify

import "time"

// Cancel stops a scheduled step. Calling it after the step has fired is safe.
type Cancel func()

// Scheduler schedules a single deferred step. The engine keeps at most one
// pending step per group and cancels it on supersession, which is what keeps
// a group on one logical timeline.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Cancel
}

// TimerScheduler is the production scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

// Schedule implements Scheduler.
func (TimerScheduler) Schedule(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
