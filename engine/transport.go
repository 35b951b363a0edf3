package engine

import (
	"math"
	"time"

	"github.com/fxcircus/tapefour"
)

type (
	// TransportState is the top-level state of the transport state machine.
	// CountingIn, PendingRecord and PendingStop are transient states gated by
	// scheduled tasks; a competing transition cancels the task and leaves
	// them.
	TransportState int

	// RecordMode tells whether a recording replaces the armed track's take
	// (fresh) or splices into it (punch-in). Chosen at record start from the
	// playhead position.
	RecordMode int
)

const (
	StateStopped TransportState = iota
	StatePlaying
	StatePaused
	StateCountingIn
	StatePendingRecord
	StateRecording
	StatePendingStop
)

func (s TransportState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCountingIn:
		return "counting-in"
	case StatePendingRecord:
		return "pending-record"
	case StateRecording:
		return "recording"
	case StatePendingStop:
		return "pending-stop"
	}
	return "unknown"
}

const (
	RecordFresh RecordMode = iota
	RecordPunchIn
)

const (
	// scheduleLeadFrames gives the player lead time so every source of a
	// batch starts on the same future timestamp (~0.1 s).
	scheduleLeadFrames = tapefour.SampleRate / 10

	// monitoringGain is the reduced playback level of backing tracks while
	// recording, so the performer hears them without overwhelming the take.
	monitoringGain = 0.5

	// latencyCompensationMs is subtracted from nothing and added to fresh
	// recordStartTime to account for the capture pipeline delay.
	latencyCompensationMs = 0.0

	// quantizedStopToleranceMs: a quantized stop lands immediately when the
	// playhead is already this close to a bar boundary.
	quantizedStopToleranceMs = 50
)

// Play starts playback from the current playhead, or resumes from pause.
// While recording or waiting on a deferred record/stop, the request is
// ignored.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StatePaused:
		e.clock.Resume()
		e.setState(StatePlaying)
		e.startSources(e.clock.Ms())
	case StateStopped:
		e.clock.Start(e.clock.Ms())
		e.setState(StatePlaying)
		e.startSources(e.clock.Ms())
		if e.metronome != nil {
			e.metronome.Start()
		}
	}
}

// Pause freezes playback in place. Paused sources cannot be resumed; they are
// recreated from the unchanged playhead position on the next Play.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying {
		return
	}
	e.clock.Pause()
	e.setState(StatePaused)
	TrySend(e.broker.ToPlayer, any(stopSourcesMsg{}))
}

// Stop halts everything: pending timers, live sources, the clock and any
// active recording (forcing the recorder to flush its in-flight chunk so the
// capture is not lost). The playhead resets to zero.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	recording := e.state == StateRecording || e.state == StatePendingStop
	e.cancelPending()
	e.isStoppingRecording = false
	if recording {
		e.flushCapture()
	}
	TrySend(e.broker.ToPlayer, any(stopSourcesMsg{}))
	e.clock.Stop()
	e.setState(StateStopped)
	if e.metronome != nil {
		e.metronome.Stop()
	}
	e.notify(PlayheadMoved{Ms: 0})
	e.recomputeRouting()
}

// SetPlayhead scrubs the playhead. While playing, every scheduled source is
// hot-restarted from the new position against a shared batch start.
func (e *Engine) SetPlayhead(ms float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRecording || e.state == StatePendingStop {
		return
	}
	if ms < 0 {
		ms = 0
	}
	if ms > maxRecordingMs {
		ms = maxRecordingMs
	}
	e.clock.Set(ms)
	if e.state == StatePlaying {
		e.startSources(ms)
	}
	e.notify(PlayheadMoved{Ms: ms})
}

// Record starts recording on the armed track, or stops an active recording.
// Depending on the loop and count-in configuration the actual record start
// may be deferred to the next loop boundary or by one count-in bar.
func (e *Engine) Record() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateRecording, StatePendingStop:
		e.stopRecording()
		return
	case StateCountingIn, StatePendingRecord:
		return
	}
	armed := e.armedTrack()
	if armed == 0 {
		e.alert("RecordNoArm", Warning, "arm a track before recording")
		return
	}
	e.stateBeforeRecord = e.state
	if e.loop.Quantized && e.loop.Enabled && e.state == StatePlaying && e.firstTakeDone {
		// already looping over a take: defer the record start to the next
		// loop boundary for a seamless overdub
		loopDur := e.loop.End - e.loop.Start
		timeInLoop := e.clock.Ms()/1000 - e.loop.Start
		delay := loopDur - math.Mod(timeInLoop, loopDur)
		e.setState(StatePendingRecord)
		e.pendingRecord = schedule(time.Duration(delay*float64(time.Second)), func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.pendingRecord = nil
			if e.state == StatePendingRecord {
				e.recordNow(true)
			}
		})
		return
	}
	if !e.firstTakeDone && e.loop.Quantized && e.loop.Bars > 0 {
		// pre-establish the loop window so the user records into a visible,
		// already-quantized loop
		e.loop.Start = 0
		e.loop.End = float64(e.loop.Bars) * e.barDuration()
		e.loop.Enabled = true
		e.notify(LoopChanged{Start: e.loop.Start, End: e.loop.End, Enabled: true})
	}
	if e.tempo != nil && e.tempo.CountInEnabled() {
		if e.metronome != nil {
			e.metronome.Start()
		}
		e.setState(StateCountingIn)
		e.pendingCountIn = schedule(time.Duration(e.barDuration()*float64(time.Second)), func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.pendingCountIn = nil
			if e.state == StateCountingIn {
				e.recordNow(false)
			}
		})
		return
	}
	e.recordNow(false)
}

// recordNow performs the actual record start transition. quantized tells
// whether this start was deferred to a loop boundary, in which case the fresh
// record position snaps to the boundary instead of the raw playhead. Must be
// called with the engine lock held.
func (e *Engine) recordNow(quantized bool) {
	armed := e.armedTrack()
	if armed == 0 {
		// disarmed while the start was pending
		if e.clock.Running() {
			e.setState(StatePlaying)
		} else {
			e.setState(StateStopped)
		}
		return
	}
	playhead := e.clock.Ms()
	if quantized {
		playhead = e.loop.Start * 1000
		e.clock.Set(playhead)
	}
	if playhead > 0 {
		e.recordMode = RecordPunchIn
		e.punchInStartMs = playhead
	} else {
		e.recordMode = RecordFresh
		e.tracks[armed-1].RecordStartMs = playhead + latencyCompensationMs
		e.tracks[armed-1].clearUndo()
	}
	e.recordingTrack = armed
	TrySend(e.broker.ToRecorder, any(startCaptureMsg{DeviceID: e.settings.InputDevice()}))
	if !e.clock.Running() {
		e.clock.Start(playhead)
	}
	e.setState(StateRecording)
	// monitoring playback of the backing tracks, so the performer can play
	// along
	e.startSources(playhead)
	if e.metronome != nil {
		e.metronome.Start()
	}
	e.recordCeiling = schedule(maxRecordingMs*time.Millisecond, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.recordCeiling = nil
		e.stopRecordingNow()
	})
	e.recomputeRouting()
}

// stopRecording initiates the record stop. With quantized looping the actual
// stop defers to the next bar boundary for a loop-aligned take, unless the
// playhead is already within the tolerance of one. Must be called with the
// engine lock held.
func (e *Engine) stopRecording() {
	if e.isStoppingRecording {
		return
	}
	if e.loop.Quantized && e.loop.Enabled {
		toBoundary := e.msToNextBar(e.clock.Ms())
		if toBoundary > quantizedStopToleranceMs {
			e.isStoppingRecording = true
			e.setState(StatePendingStop)
			e.pendingStop = schedule(time.Duration(toBoundary*float64(time.Millisecond)), func() {
				e.mu.Lock()
				defer e.mu.Unlock()
				e.pendingStop = nil
				e.stopRecordingNow()
			})
			return
		}
	}
	e.stopRecordingNow()
}

// stopRecordingNow performs the actual record stop transition; the captured
// audio arrives later as a captureResultMsg once the recorder has flushed and
// assembled it. Must be called with the engine lock held.
func (e *Engine) stopRecordingNow() {
	if e.state != StateRecording && e.state != StatePendingStop {
		return
	}
	e.isStoppingRecording = false
	e.pendingStop.Cancel()
	e.pendingStop = nil
	e.recordCeiling.Cancel()
	e.recordCeiling = nil
	e.flushCapture()
	if e.clock.Running() {
		e.setState(StatePlaying)
	} else {
		e.setState(StateStopped)
	}
	e.recomputeRouting()
}

func (e *Engine) flushCapture() {
	TrySend(e.broker.ToRecorder, any(stopCaptureMsg{}))
}

// handleCaptureResult is the async completion of a recording, decoupled from
// the stop transition. Must be called with the engine lock held.
func (e *Engine) handleCaptureResult(buffer tapefour.AudioBuffer, err error) {
	if e.state == StateRecording || e.state == StatePendingStop {
		// the recorder stopped on its own (stream death); finish the
		// transition first
		e.stopRecordingNow()
	}
	if err != nil {
		e.alert("CaptureFailed", Error, "recording failed: %v", err)
		return
	}
	track := e.tracks[e.recordingTrack-1]
	switch e.recordMode {
	case RecordFresh:
		track.Buffer = buffer
		e.refreshTrackWaveform(track)
		e.notify(TrackClipChanged{Track: track.ID})
		if !e.firstTakeDone {
			e.firstTakeDone = true
			if !e.loop.Enabled {
				e.loop.Start = 0
				e.loop.End = buffer.DurationMs() / 1000
				e.loop.Enabled = true
			}
			e.notify(LoopChanged{Start: e.loop.Start, End: e.loop.End, Enabled: true})
			// restart playback from the loop start for an immediate overdub
			e.clock.Start(e.loop.Start * 1000)
			e.setState(StatePlaying)
			e.startSources(e.loop.Start * 1000)
		}
	case RecordPunchIn:
		offset := e.punchInStartMs - track.RecordStartMs
		if offset < 0 {
			offset = 0
		}
		track.pushUndo()
		track.Buffer = tapefour.PunchInMerge(track.Buffer, buffer, offset)
		e.refreshTrackWaveform(track)
		e.notify(TrackClipChanged{Track: track.ID})
	}
	if e.state == StatePlaying {
		e.startSources(e.clock.Ms())
	}
}

// handleCaptureOpenFailed is the recorder failing to open the microphone:
// the record transition is unwound back to the transport state the Record
// request found, and the user is alerted. Must be called with the engine
// lock held.
func (e *Engine) handleCaptureOpenFailed(err error) {
	if e.state != StateRecording && e.state != StatePendingStop {
		return
	}
	e.isStoppingRecording = false
	e.pendingStop.Cancel()
	e.pendingStop = nil
	e.recordCeiling.Cancel()
	e.recordCeiling = nil
	switch e.stateBeforeRecord {
	case StatePlaying:
		e.setState(StatePlaying)
	case StatePaused:
		e.clock.Pause()
		TrySend(e.broker.ToPlayer, any(stopSourcesMsg{}))
		e.setState(StatePaused)
	default:
		TrySend(e.broker.ToPlayer, any(stopSourcesMsg{}))
		e.clock.Stop()
		e.setState(StateStopped)
		if e.metronome != nil {
			e.metronome.Stop()
		}
		e.notify(PlayheadMoved{Ms: 0})
	}
	e.alert("MicrophoneFailed", Error, "could not start recording: %v", err)
	e.recomputeRouting()
}

// handleCaptureCeiling is the recorder hitting its accumulation ceiling. It
// forces a stop; not an error. Must be called with the engine lock held.
func (e *Engine) handleCaptureCeiling(reason string) {
	e.alert("CaptureCeiling", Info, "recording stopped: %v", reason)
	e.stopRecordingNow()
}

// UndoLastTake pops the armed track's most recent punch-in snapshot and makes
// it the live buffer. Silently a no-op when no track is armed or the history
// is empty.
func (e *Engine) UndoLastTake() {
	e.mu.Lock()
	defer e.mu.Unlock()
	armed := e.armedTrack()
	if armed == 0 {
		return
	}
	if e.tracks[armed-1].popUndo() {
		e.refreshTrackWaveform(e.tracks[armed-1])
		e.notify(TrackClipChanged{Track: armed})
		if e.state == StatePlaying {
			e.startSources(e.clock.Ms())
		}
	}
}

// CanUndo reports whether UndoLastTake would change anything.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	armed := e.armedTrack()
	return armed != 0 && e.tracks[armed-1].CanUndo()
}

// SetLooping toggles the loop window on or off.
func (e *Engine) SetLooping(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loop.Enabled = enabled && e.loop.End > e.loop.Start
	e.notify(LoopChanged{Start: e.loop.Start, End: e.loop.End, Enabled: e.loop.Enabled})
}

// SetQuantizedLooping switches bar-quantized looping with the given bar
// count. When enabling with an existing loop, both edges snap to bar
// boundaries.
func (e *Engine) SetQuantizedLooping(enabled bool, bars int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loop.Quantized = enabled
	if bars > 0 {
		e.loop.Bars = bars
	}
	if enabled && e.loop.End > e.loop.Start {
		bar := e.barDuration()
		e.loop.Start = math.Floor(e.loop.Start/bar) * bar
		e.loop.End = math.Ceil(e.loop.End/bar) * bar
		e.notify(LoopChanged{Start: e.loop.Start, End: e.loop.End, Enabled: e.loop.Enabled})
	}
}

// SetLoop sets the loop window in seconds, snapping to bar boundaries when
// quantized looping is active.
func (e *Engine) SetLoop(start, end float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loop.Quantized {
		bar := e.barDuration()
		start = math.Floor(start/bar) * bar
		end = math.Ceil(end/bar) * bar
	}
	if end <= start {
		return
	}
	e.loop.Start, e.loop.End = start, end
	e.notify(LoopChanged{Start: start, End: end, Enabled: e.loop.Enabled})
}

// ToggleReverse flips the track's buffer time direction. Refused unless the
// transport is fully stopped: a buffer that may be concurrently read by a
// scheduled source is never mutated.
func (e *Engine) ToggleReverse(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("ReverseWhileRunning", Warning, "stop the transport before reversing a track")
		return
	}
	t := e.tracks[id-1]
	if !t.HasAudio() {
		return
	}
	t.Buffer = tapefour.Reverse(t.Buffer)
	t.Reversed = !t.Reversed
	if t.originalForSpeed != nil {
		// keep the half-speed backup in the same time direction as the live
		// buffer, so un-toggling half-speed later restores correct audio
		t.originalForSpeed = tapefour.Reverse(t.originalForSpeed)
	}
	e.notify(TrackClipChanged{Track: id})
}

// ToggleHalfSpeed flips the track between normal and half playback rate.
// Refused unless the transport is fully stopped, for the same reason as
// ToggleReverse.
func (e *Engine) ToggleHalfSpeed(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("HalfSpeedWhileRunning", Warning, "stop the transport before changing track speed")
		return
	}
	t := e.tracks[id-1]
	if !t.HasAudio() {
		return
	}
	if !t.HalfSpeed {
		t.originalForSpeed = t.Buffer
		t.Buffer = tapefour.HalfSpeed(t.Buffer)
		t.HalfSpeed = true
	} else {
		if t.originalForSpeed == nil {
			return
		}
		t.Buffer = t.originalForSpeed
		t.originalForSpeed = nil
		t.HalfSpeed = false
	}
	e.notify(TrackClipChanged{Track: id})
}

// ClearTrack drops a track's take. Refused while the transport runs.
func (e *Engine) ClearTrack(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("ClearWhileRunning", Warning, "stop the transport before clearing a track")
		return
	}
	e.tracks[id-1].clear()
	if e.waveform != nil {
		e.waveform.Clear(id)
	}
	e.notify(TrackClipChanged{Track: id})
}

// ClearAll drops every take, the master buffer and the loop window.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("ClearWhileRunning", Warning, "stop the transport before clearing the session")
		return
	}
	for _, t := range e.tracks {
		t.clear()
		if e.waveform != nil {
			e.waveform.Clear(t.ID)
		}
		e.notify(TrackClipChanged{Track: t.ID})
	}
	e.master = nil
	e.loop = Loop{Quantized: e.loop.Quantized, Bars: e.loop.Bars}
	e.firstTakeDone = false
	if e.waveform != nil {
		e.waveform.Clear(0)
	}
	e.notify(MasterChanged{})
	e.notify(LoopChanged{})
}

// setState must be called with the engine lock held.
func (e *Engine) setState(s TransportState) {
	if e.state != s {
		e.state = s
		e.notify(TransportChanged{State: s})
	}
}

// startSources schedules every audible source against one shared batch start:
// all tracks with a take, plus the master buffer at offset zero. The same
// recomputed lead is used for every source of the batch; this is the
// transport's single most important timing invariant. Must be called with the
// engine lock held.
func (e *Engine) startSources(playheadMs float64) {
	var msg startSourcesMsg
	if len(e.master) > 0 {
		if delay, offset, ok := scheduleClip(0, e.master.DurationMs(), playheadMs); ok {
			msg.Sources = append(msg.Sources, playerSource{
				Track: 0, Buffer: e.master, DelayFrames: delay, OffsetFrames: offset,
			})
		}
	}
	for _, t := range e.tracks {
		if !t.HasAudio() {
			continue
		}
		delay, offset, ok := scheduleClip(t.RecordStartMs, t.Buffer.DurationMs(), playheadMs)
		if !ok {
			continue
		}
		msg.Sources = append(msg.Sources, playerSource{
			Track: t.ID, Buffer: t.Buffer, DelayFrames: delay, OffsetFrames: offset,
		})
	}
	TrySend(e.broker.ToPlayer, any(msg))
	e.recomputeRouting()
}

// scheduleClip computes how a clip at startMs with the given duration is
// scheduled against the current playhead. Three cases: playhead before the
// clip start delays the source; playhead within the clip span starts it
// immediately with a buffer-read offset; playhead past the clip end does not
// schedule it at all.
func scheduleClip(startMs, durationMs, playheadMs float64) (delayFrames, offsetFrames int, ok bool) {
	switch {
	case playheadMs < startMs:
		return tapefour.MsToSamples(startMs - playheadMs), 0, true
	case playheadMs < startMs+durationMs:
		return 0, tapefour.MsToSamples(playheadMs - startMs), true
	}
	return 0, 0, false
}

// barDuration returns the duration of one 4/4 bar in seconds at the current
// BPM.
func (e *Engine) barDuration() float64 {
	bpm := 120.0
	if e.tempo != nil {
		if b := e.tempo.BPM(); b > 0 {
			bpm = b
		}
	}
	return 4 * 60 / bpm
}

// msToNextBar returns the milliseconds from the playhead to the next bar
// boundary.
func (e *Engine) msToNextBar(playheadMs float64) float64 {
	barMs := e.barDuration() * 1000
	into := math.Mod(playheadMs, barMs)
	if into == 0 {
		return 0
	}
	return barMs - into
}
