package engine

import "time"

// Clock maps wall-clock time to a playhead position in milliseconds. It is
// deliberately independent of the audio-thread sample counter: the player
// schedules sources against its own hardware clock, while this clock drives
// loop-wrap detection and UI redraw cadence. The two are kept consistent by
// the transport state machine restarting both from the same position, not by
// shared locking.
type Clock struct {
	running bool
	paused  bool
	baseMs  float64
	started time.Time

	// now is replaceable so tests can drive the clock deterministically.
	now func() time.Time
}

func (c *Clock) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Start begins advancing from the given position.
func (c *Clock) Start(fromMs float64) {
	c.running = true
	c.paused = false
	c.baseMs = fromMs
	c.started = c.timeNow()
}

// Pause freezes the playhead in place without losing the position.
func (c *Clock) Pause() {
	if !c.running {
		return
	}
	c.baseMs = c.Ms()
	c.running = false
	c.paused = true
}

// Resume continues from the paused position.
func (c *Clock) Resume() {
	if !c.paused {
		return
	}
	c.Start(c.baseMs)
}

// Stop halts the clock and resets the playhead to zero.
func (c *Clock) Stop() {
	c.running = false
	c.paused = false
	c.baseMs = 0
}

// Set jumps the playhead to the given position, keeping the running state.
// Used by loop wraps and scrubbing.
func (c *Clock) Set(ms float64) {
	c.baseMs = ms
	c.started = c.timeNow()
}

// Ms returns the current playhead position in milliseconds.
func (c *Clock) Ms() float64 {
	if !c.running {
		return c.baseMs
	}
	return c.baseMs + float64(c.timeNow().Sub(c.started))/float64(time.Millisecond)
}

// Running reports whether the playhead is advancing.
func (c *Clock) Running() bool { return c.running }

// Paused reports whether the clock is frozen mid-timeline.
func (c *Clock) Paused() bool { return c.paused }
