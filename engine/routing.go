package engine

import "github.com/fxcircus/tapefour"

// Routing: solo/mute precedence and input-monitoring gain switching. Solo and
// arm are both exclusive across tracks; solo overrides manual mute while it
// is active and restores the manual-mute snapshot when released.

// Arm marks the track as the recording target, disarming all others first.
// id is 1..4.
func (e *Engine) Arm(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tracks {
		if t.ID != id && t.Armed {
			t.Armed = false
			e.notify(TrackArmed{Track: t.ID, Armed: false})
		}
	}
	t := e.tracks[id-1]
	if !t.Armed {
		t.Armed = true
		e.notify(TrackArmed{Track: id, Armed: true})
	}
	e.settings.SetArmedTrack(id)
	e.recomputeRouting()
}

// Disarm removes the track from recording duty.
func (e *Engine) Disarm(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tracks[id-1]
	if t.Armed {
		t.Armed = false
		e.notify(TrackArmed{Track: id, Armed: false})
	}
	e.settings.SetArmedTrack(0)
	e.recomputeRouting()
}

// ArmedTrack returns the id of the armed track, or 0 when none is armed.
func (e *Engine) ArmedTrack() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armedTrack()
}

func (e *Engine) armedTrack() int {
	for _, t := range e.tracks {
		if t.Armed {
			return t.ID
		}
	}
	return 0
}

func (e *Engine) soloedTrack() int {
	for _, t := range e.tracks {
		if t.Solo {
			return t.ID
		}
	}
	return 0
}

// SetSolo solos or un-solos a track. Soloing stores the current manual-mute
// snapshot of all tracks (only when no track is already soloed, so switching
// solo between tracks does not clobber it), then mutes everything else.
// Un-soloing restores the snapshot into both the effective and manual mutes.
func (e *Engine) SetSolo(id int, solo bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tracks[id-1]
	if solo {
		if !e.soloSnapshotTaken {
			for i, other := range e.tracks {
				e.soloSnapshot[i] = other.ManuallyMuted
			}
			e.soloSnapshotTaken = true
		}
		for _, other := range e.tracks {
			if other.Solo && other.ID != id {
				other.Solo = false
				e.notify(TrackSoloChanged{Track: other.ID, Solo: false})
			}
			other.setEffectiveMute(e, other.ID != id)
		}
		if !t.Solo {
			t.Solo = true
			e.notify(TrackSoloChanged{Track: id, Solo: true})
		}
	} else {
		if t.Solo {
			t.Solo = false
			e.notify(TrackSoloChanged{Track: id, Solo: false})
		}
		if e.soloSnapshotTaken {
			for i, other := range e.tracks {
				other.ManuallyMuted = e.soloSnapshot[i]
				other.setEffectiveMute(e, e.soloSnapshot[i])
			}
			e.soloSnapshotTaken = false
		}
	}
	e.recomputeRouting()
}

// SetManualMute mutes or unmutes a track by user intent. The request is
// rejected while any track is soloed; solo takes routing precedence.
func (e *Engine) SetManualMute(id int, muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.soloedTrack() != 0 {
		// reverted no-op; re-notify so a UI toggle snaps back
		t := e.tracks[id-1]
		e.notify(TrackMuteChanged{Track: id, Muted: t.Muted, Manual: t.ManuallyMuted})
		return
	}
	t := e.tracks[id-1]
	t.ManuallyMuted = muted
	t.setEffectiveMute(e, muted)
	e.recomputeRouting()
}

func (t *Track) setEffectiveMute(e *Engine, muted bool) {
	if t.Muted != muted {
		t.Muted = muted
		e.notify(TrackMuteChanged{Track: t.ID, Muted: muted, Manual: t.ManuallyMuted})
	}
}

// SetFader sets a track's fader position (0..100).
func (e *Engine) SetFader(id, value int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks[id-1].Fader = clampParam(value)
	e.notify(TrackParamsChanged{Track: id})
	e.recomputeRouting()
}

// SetPan sets a track's pan position (0..100, 50 = center).
func (e *Engine) SetPan(id, value int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks[id-1].Pan = clampParam(value)
	e.notify(TrackParamsChanged{Track: id})
	e.recomputeRouting()
}

// SetMasterFader sets the master bus fader position (0..100).
func (e *Engine) SetMasterFader(value int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterFader = clampParam(value)
	e.recomputeRouting()
}

func clampParam(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// recomputeRouting pushes the effective per-track and master gains to the
// player and switches input monitoring. Called after every arm, solo, mute or
// fader change; must be called with the engine lock held.
func (e *Engine) recomputeRouting() {
	var msg sourceGainsMsg
	masterGain := float32(tapefour.FaderToGain(e.masterFader))
	msg.Gains[0] = stereoGain{L: masterGain, R: masterGain}
	reduce := float32(1)
	if e.state == StateRecording {
		reduce = monitoringGain
	}
	for _, t := range e.tracks {
		g := t.gain()
		if e.state == StateRecording {
			// backing tracks play at reduced monitoring gain while the
			// performer records; in punch-in mode that includes the armed
			// track itself
			if t.ID != e.recordingTrack || e.recordMode == RecordPunchIn {
				g.L *= reduce
				g.R *= reduce
			}
			if t.ID == e.recordingTrack && e.recordMode == RecordFresh {
				g = stereoGain{}
			}
		}
		msg.Gains[t.ID] = g
	}
	TrySend(e.broker.ToPlayer, any(msg))
	// input stays audible iff a track is armed
	TrySend(e.broker.ToPlayer, any(inputMonitorMsg{On: e.armedTrack() != 0, Gain: 1}))
}
