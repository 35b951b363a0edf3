package engine

import (
	"sync"
	"time"
)

// Task is a single pending timer with an explicit cancellation handle, so
// every deferred transition (count-in, quantized record start/stop, recording
// ceiling) is trackable and cancellable as a unit instead of a closure
// capturing mutable flags.
type Task struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// schedule runs f after d unless the task is cancelled first. f runs on the
// timer goroutine and must take the engine lock itself (engine methods do).
func schedule(d time.Duration, f func()) *Task {
	t := &Task{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		f()
	})
	return t
}

// Cancel stops the task. Firing and cancellation are mutually exclusive: if
// Cancel wins, f never runs.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.timer.Stop()
}

// cancelPending cancels every pending transport timer. Must be called with
// the engine lock held.
func (e *Engine) cancelPending() {
	e.pendingCountIn.Cancel()
	e.pendingCountIn = nil
	e.pendingRecord.Cancel()
	e.pendingRecord = nil
	e.pendingStop.Cancel()
	e.pendingStop = nil
	e.recordCeiling.Cancel()
	e.recordCeiling = nil
}
