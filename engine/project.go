package engine

import (
	"fmt"

	"github.com/fxcircus/tapefour"
)

// ApplyProject replaces the whole engine state with a loaded project.
// Refused while the transport runs.
func (e *Engine) ApplyProject(p *tapefour.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("LoadWhileRunning", Warning, "stop the transport before loading a project")
		return fmt.Errorf("cannot load a project while %v", e.state)
	}
	e.firstTakeDone = false
	for i, pt := range p.Tracks {
		t := e.tracks[i]
		armed := t.Armed
		t.reset()
		t.Armed = armed
		t.Buffer = pt.Clip.Copy()
		t.RecordStartMs = pt.StartMs
		t.Fader = clampParam(pt.Fader)
		t.Pan = clampParam(pt.Pan)
		t.Reversed = pt.Reversed
		t.HalfSpeed = pt.HalfSpeed
		if t.HasAudio() {
			e.firstTakeDone = true
		}
	}
	e.soloSnapshotTaken = false
	e.master = p.Master.Copy()
	e.masterFader = clampParam(p.MasterFader)
	e.loop = Loop{
		Start:     p.LoopStart,
		End:       p.LoopEnd,
		Enabled:   p.Looping,
		Quantized: p.QuantizedLooping,
		Bars:      p.LoopBars,
	}
	e.clock.Stop()
	e.refreshWaveforms()
	for _, t := range e.tracks {
		e.notify(TrackClipChanged{Track: t.ID})
		e.notify(TrackParamsChanged{Track: t.ID})
	}
	e.notify(MasterChanged{})
	e.notify(LoopChanged{Start: e.loop.Start, End: e.loop.End, Enabled: e.loop.Enabled})
	e.notify(PlayheadMoved{Ms: 0})
	return nil
}

// SnapshotProject captures the savable state. The tempo is passed in because
// the engine only ever reads it through the Tempo capability.
func (e *Engine) SnapshotProject(bpm int) *tapefour.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &tapefour.Project{
		BPM:              bpm,
		LoopStart:        e.loop.Start,
		LoopEnd:          e.loop.End,
		Looping:          e.loop.Enabled,
		QuantizedLooping: e.loop.Quantized,
		LoopBars:         e.loop.Bars,
		MasterFader:      e.masterFader,
		Master:           e.master.Copy(),
		Tracks:           make([]tapefour.ProjectTrack, tapefour.NumTracks),
	}
	for i, t := range e.tracks {
		p.Tracks[i] = tapefour.ProjectTrack{
			Fader:     t.Fader,
			Pan:       t.Pan,
			Reversed:  t.Reversed,
			HalfSpeed: t.HalfSpeed,
			StartMs:   t.RecordStartMs,
			Clip:      t.Buffer.Copy(),
		}
	}
	return p
}

// ImportClip places an already decoded buffer on a track at the playhead,
// as if it had just been recorded there. Refused while the transport runs.
func (e *Engine) ImportClip(id int, buffer tapefour.AudioBuffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("ImportWhileRunning", Warning, "stop the transport before importing")
		return fmt.Errorf("cannot import while %v", e.state)
	}
	if len(buffer) == 0 {
		return fmt.Errorf("nothing to import")
	}
	t := e.tracks[id-1]
	t.clear()
	t.Buffer = buffer
	t.RecordStartMs = e.clock.Ms()
	e.firstTakeDone = true
	e.refreshTrackWaveform(t)
	e.notify(TrackClipChanged{Track: id})
	return nil
}

// refreshWaveforms regenerates every waveform from the loaded buffers.
// Must be called with the engine lock held.
func (e *Engine) refreshWaveforms() {
	if e.waveform == nil {
		return
	}
	for _, t := range e.tracks {
		e.refreshTrackWaveform(t)
	}
	e.renderMasterWaveform()
}

func (e *Engine) refreshTrackWaveform(t *Track) {
	if e.waveform == nil {
		return
	}
	e.waveform.Clear(t.ID)
	for _, p := range bufferPeaks(t.Buffer, 512) {
		p.PositionMs += t.RecordStartMs
		e.waveform.Render(t.ID, p)
	}
	e.waveform.Commit(t.ID)
}
