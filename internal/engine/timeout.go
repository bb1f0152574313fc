package engine

import (
	"sync"
	"time"
)

// watchdog is the single response deadline of one emit step. Stop is
// safe to call any number of times; a stopped watchdog never delivers.
type watchdog struct {
	timer *time.Timer
	stop  sync.Once
}

func newWatchdog(d time.Duration) *watchdog {
	return &watchdog{timer: time.NewTimer(d)}
}

// C delivers at most one tick, when the deadline passes.
func (w *watchdog) C() <-chan time.Time {
	return w.timer.C
}

// Stop cancels the deadline.
func (w *watchdog) Stop() {
	w.stop.Do(func() {
		w.timer.Stop()
	})
}
