package engine

import (
	"sync"
	"time"

	"github.com/fxcircus/tapefour"
)

type (
	// Engine owns every piece of mutable recorder state: the four tracks, the
	// transport state machine, the loop window, the master buffer and the
	// routing flags. All external triggers (UI events, timer callbacks,
	// device changes, MIDI) are method calls on the Engine, serialized by its
	// mutex; no state lives outside it. The engine talks to the player and
	// recorder goroutines only through the broker, and reports back to the
	// outside world only through typed Listener events.
	Engine struct {
		mu     sync.Mutex
		broker *Broker

		tracks [tapefour.NumTracks]*Track
		master tapefour.AudioBuffer

		state          TransportState
		recordMode     RecordMode
		punchInStartMs float64
		recordingTrack int // id of the armed track when recording started

		// transport state at the moment Record was requested, restored when
		// the microphone cannot be opened
		stateBeforeRecord TransportState

		clock Clock
		loop  Loop

		masterFader int

		// Snapshot of every track's manual mute, taken when a solo begins so
		// un-soloing can restore it. Valid only while soloSnapshotTaken.
		soloSnapshot      [tapefour.NumTracks]bool
		soloSnapshotTaken bool

		pendingCountIn *Task
		pendingRecord  *Task
		pendingStop    *Task
		recordCeiling  *Task

		// guards the quantized-stop timer against double-firing when the user
		// also stops manually
		isStoppingRecording bool

		firstTakeDone bool

		tempo     Tempo
		metronome Metronome
		listener  Listener
		waveform  WaveformConsumer
		settings  *Settings

		inputLevel float32

		// lazily started WAV-encode offload worker, see encodeWav
		encodeJobs chan encodeJob
		encodeOnce sync.Once
	}

	// Tempo is the narrow capability the engine polls at record start to
	// decide count-in and quantization durations.
	Tempo interface {
		BPM() float64
		CountInEnabled() bool
	}

	// Metronome is the narrow capability the engine drives at play/record
	// start and stop.
	Metronome interface {
		Start()
		Stop()
	}

	// Listener receives typed state-change events from the engine. The
	// engine holds no reference to any UI element; a presentation layer
	// subscribes here. May be nil.
	Listener func(Event)

	// WaveformConsumer receives peak points the player produces, keyed by
	// track id (0 = master bus), plus an explicit commit/clear lifecycle.
	// The engine does not know about pixels beyond this mapping. May be nil.
	WaveformConsumer interface {
		Render(track int, point PeakPoint)
		Commit(track int)
		Clear(track int)
	}

	// PeakPoint is one waveform sample frame: a timeline position and the
	// peak amplitude (0..1) observed around it.
	PeakPoint struct {
		PositionMs float64
		Peak       float32
	}

	// Loop is the quantized-looping window, in seconds on the project
	// timeline.
	Loop struct {
		Start     float64
		End       float64
		Enabled   bool
		Quantized bool
		Bars      int
	}

	// Event is a typed state-change notification. The concrete types below
	// are the full event vocabulary.
	Event any

	TrackArmed       struct{ Track int; Armed bool }
	TrackSoloChanged struct{ Track int; Solo bool }
	TrackMuteChanged struct {
		Track  int
		Muted  bool
		Manual bool
	}
	TrackParamsChanged struct{ Track int }
	TrackClipChanged   struct{ Track int }
	PlayheadMoved      struct{ Ms float64 }
	LoopChanged        struct {
		Start, End float64
		Enabled    bool
	}
	TransportChanged struct{ State TransportState }
	MasterChanged    struct{}
	InputLevelMoved  struct{ Level float32 }
	AlertRaised      struct{ Alert Alert }
)

// Options carries the injected collaborators. Tempo is required; the rest may
// be nil.
type Options struct {
	Tempo     Tempo
	Metronome Metronome
	Listener  Listener
	Waveform  WaveformConsumer
	Settings  *Settings
}

const (
	// uiTickInterval throttles playhead/redraw notifications to ~30 per
	// second.
	uiTickInterval = 33 * time.Millisecond

	// maxRecordingMs is the hard ceiling for a single recording and for the
	// playhead itself.
	maxRecordingMs = 10 * 60 * 1000
)

func NewEngine(broker *Broker, opts Options) *Engine {
	e := &Engine{
		broker:      broker,
		state:       StateStopped,
		masterFader: defaultFader,
		tempo:       opts.Tempo,
		metronome:   opts.Metronome,
		listener:    opts.Listener,
		waveform:    opts.Waveform,
		settings:    opts.Settings,
	}
	if e.settings == nil {
		e.settings = NewSettings()
	}
	for i := range e.tracks {
		e.tracks[i] = newTrack(i + 1)
	}
	if id := e.settings.ArmedTrack(); id >= 1 && id <= tapefour.NumTracks {
		e.tracks[id-1].Armed = true
	}
	return e
}

// Run is the engine reactor loop: it consumes messages from the player and
// recorder and drives the ~30 Hz UI tick. It returns when CloseEngine is
// signalled. Run the loop in its own goroutine.
func (e *Engine) Run() {
	defer close(e.broker.FinishedEngine)
	ticker := time.NewTicker(uiTickInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-e.broker.ToEngine:
			e.handleMessage(msg)
		case <-ticker.C:
			e.Tick()
		case <-e.broker.CloseEngine:
			return
		}
	}
}

// Close asks the reactor loop to stop and waits for it to finish.
func (e *Engine) Close() {
	TrySend(e.broker.CloseEngine, struct{}{})
	TimeoutReceive(e.broker.FinishedEngine, 3*time.Second)
}

func (e *Engine) handleMessage(msg MsgToEngine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if msg.HasInputLevel {
		e.inputLevel = msg.InputLevel
		e.notify(InputLevelMoved{Level: msg.InputLevel})
	}
	switch m := msg.Data.(type) {
	case captureResultMsg:
		e.handleCaptureResult(m.Buffer, m.Err)
	case captureCeilingMsg:
		e.handleCaptureCeiling(m.Reason)
	case captureOpenFailedMsg:
		e.handleCaptureOpenFailed(m.Err)
	case capturePeakMsg:
		if e.waveform != nil && (e.state == StateRecording || e.state == StatePendingStop) {
			e.waveform.Render(e.recordingTrack, PeakPoint{PositionMs: e.clock.Ms(), Peak: m.Peak})
		}
	case peakMsg:
		if e.waveform != nil {
			// stamped engine-side: the player counts frames, the timeline
			// position belongs to the clock
			e.waveform.Render(m.Track, PeakPoint{PositionMs: e.clock.Ms(), Peak: m.Peak})
		}
	}
}

// Tick advances the UI clock: it emits the playhead position, detects loop
// wraps and enforces the playhead ceiling. Called from the reactor loop, and
// directly by tests.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.clock.Running() {
		return
	}
	ms := e.clock.Ms()
	if e.loop.Enabled && ms/1000 >= e.loop.End {
		// jump exactly to the loop start, not loop start + overshoot, and
		// hot-restart every scheduled source from the new position
		ms = e.loop.Start * 1000
		e.clock.Set(ms)
		e.startSources(ms)
		e.notify(LoopChanged{Start: e.loop.Start, End: e.loop.End, Enabled: true})
	} else if ms >= maxRecordingMs {
		ms = maxRecordingMs
		e.clock.Set(ms)
	}
	e.notify(PlayheadMoved{Ms: ms})
}

// notify must be called with the engine lock held.
func (e *Engine) notify(ev Event) {
	if e.listener != nil {
		e.listener(ev)
	}
}

// PlayheadMs returns the current playhead position in milliseconds.
func (e *Engine) PlayheadMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Ms()
}

// State returns the current transport state.
func (e *Engine) State() TransportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// TrackState returns a copy of a track's state for inspection. id is 1..4.
func (e *Engine) TrackState(id int) Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.tracks[id-1]
}

// LoopState returns the current loop window.
func (e *Engine) LoopState() Loop {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop
}

// MasterBuffer returns the bounced master buffer, or nil when no bounce has
// happened.
func (e *Engine) MasterBuffer() tapefour.AudioBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// DurationMs returns the derived project duration: the maximum across all
// track end times and the master buffer duration. Recomputed on demand, never
// stored.
func (e *Engine) DurationMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationMs()
}

func (e *Engine) durationMs() float64 {
	max := e.master.DurationMs()
	for _, t := range e.tracks {
		if end := t.Clip().EndMs(); t.HasAudio() && end > max {
			max = end
		}
	}
	return max
}

// Settings exposes the persisted advisory settings.
func (e *Engine) Settings() *Settings {
	return e.settings
}

// InputLevel returns the most recent capture meter level in decibels.
func (e *Engine) InputLevel() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputLevel
}
