package engine

import (
	"github.com/fxcircus/tapefour"
)

// maxUndo bounds the per-track undo history; the oldest snapshot is evicted
// when a new one would exceed it.
const maxUndo = 10

// Track is the engine-side state of one of the four tracks. The audio buffer
// is owned by the track between transport runs; scheduled player sources hold
// their own reference, and all buffer transforms produce new buffers, so a
// buffer visible to the player is never mutated.
type Track struct {
	ID int // 1..4, fixed at startup

	Buffer        tapefour.AudioBuffer
	RecordStartMs float64 // timeline position of the buffer start; unchanged by punch-ins

	// Backup used to invert the lossy half-speed transform. Reverse needs
	// none: it is its own inverse. The backup is kept consistent with the
	// reverse flag so the two transforms compose in either order.
	originalForSpeed tapefour.AudioBuffer

	Armed         bool
	Solo          bool
	Muted         bool // effective mute: manual mute or some other track soloed
	ManuallyMuted bool // user intent, independent of solo
	Reversed      bool
	HalfSpeed     bool

	Fader int // 0..100, 80 = unity
	Pan   int // 0..100, 50 = center

	undo []tapefour.AudioBuffer
}

const (
	defaultFader = 80
	defaultPan   = 50
)

func newTrack(id int) *Track {
	return &Track{ID: id, Fader: defaultFader, Pan: defaultPan}
}

// Clip returns the track's buffer placed at its timeline position. Value
// receiver, so the copies TrackState hands out can be inspected directly.
func (t Track) Clip() tapefour.Clip {
	return tapefour.Clip{Buffer: t.Buffer, StartMs: t.RecordStartMs}
}

// HasAudio reports whether the track has a take to play.
func (t Track) HasAudio() bool {
	return len(t.Buffer) > 0
}

// pushUndo snapshots the current buffer before a punch-in merge overwrites
// it, evicting the oldest snapshot past maxUndo.
func (t *Track) pushUndo() {
	if len(t.undo) >= maxUndo {
		copy(t.undo, t.undo[len(t.undo)-maxUndo+1:])
		t.undo = t.undo[:maxUndo-1]
	}
	t.undo = append(t.undo, t.Buffer)
}

// popUndo restores the most recent snapshot; returns false if the history is
// empty.
func (t *Track) popUndo() bool {
	if len(t.undo) == 0 {
		return false
	}
	t.Buffer = t.undo[len(t.undo)-1]
	t.undo = t.undo[:len(t.undo)-1]
	return true
}

// CanUndo reports whether the track has punch-in snapshots to restore.
func (t Track) CanUndo() bool {
	return len(t.undo) > 0
}

func (t *Track) clearUndo() {
	t.undo = nil
}

// clear drops the take and every derived state, keeping the mix parameters.
func (t *Track) clear() {
	t.Buffer = nil
	t.RecordStartMs = 0
	t.originalForSpeed = nil
	t.Reversed = false
	t.HalfSpeed = false
	t.clearUndo()
}

// reset returns the track to its startup defaults, dropping audio and mix
// parameters alike. Used by the destructive bounce.
func (t *Track) reset() {
	t.clear()
	t.Armed = false
	t.Solo = false
	t.Muted = false
	t.ManuallyMuted = false
	t.Fader = defaultFader
	t.Pan = defaultPan
}

// gain returns the track's effective stereo gain from its fader, pan and mute
// state. Muted forces zero regardless of the fader.
func (t *Track) gain() stereoGain {
	if t.Muted {
		return stereoGain{}
	}
	return panGain(tapefour.FaderToGain(t.Fader), tapefour.PanToCoefficient(t.Pan))
}

// panGain converts a linear gain and a pan coefficient in [-1, 1] into
// per-channel gains: panning right attenuates the left channel and vice
// versa, center leaves both at the fader gain.
func panGain(gain, pan float64) stereoGain {
	l, r := gain, gain
	if pan > 0 {
		l = gain * (1 - pan)
	} else if pan < 0 {
		r = gain * (1 + pan)
	}
	return stereoGain{L: float32(l), R: float32(r)}
}
