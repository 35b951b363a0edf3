package engine

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"github.com/fxcircus/tapefour"
	"github.com/viterin/vek/vek32"
)

// Offline rendering: bounce and export build a non-real-time mix of the
// current multitrack state. Each included track's buffer runs through its
// fader gain and pan into the master gain; the existing master buffer, if
// any, is included as an additional source at offset zero, which makes
// bounce additive across generations.

// TracksForMixdown applies the solo precedence once, at selection: if any
// track is soloed only soloed tracks are included, otherwise every track
// with a take.
func (e *Engine) TracksForMixdown() []*Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracksForMixdown()
}

func (e *Engine) tracksForMixdown() []*Track {
	var ret []*Track
	soloed := e.soloedTrack() != 0
	for _, t := range e.tracks {
		if !t.HasAudio() {
			continue
		}
		if soloed && !t.Solo {
			continue
		}
		ret = append(ret, t)
	}
	return ret
}

// renderOffline mixes the given tracks (and optionally the master buffer)
// into a fresh stereo buffer of the given duration. Must be called with the
// engine lock held.
func (e *Engine) renderOffline(tracks []*Track, includeMaster bool, durationSec float64) tapefour.AudioBuffer {
	frames := tapefour.MsToSamples(durationSec * 1000)
	accL := make([]float32, frames)
	accR := make([]float32, frames)
	scratch := make([]float32, frames)
	if includeMaster && len(e.master) > 0 {
		g := float32(1) // a previous bounce already has the master gain baked in
		mixChannel(accL, scratch, e.master, 0, 0, g)
		mixChannel(accR, scratch, e.master, 1, 0, g)
	}
	for _, t := range tracks {
		g := panGain(tapefour.FaderToGain(t.Fader), tapefour.PanToCoefficient(t.Pan))
		at := tapefour.MsToSamples(t.RecordStartMs)
		mixChannel(accL, scratch, t.Buffer, 0, at, g.L)
		mixChannel(accR, scratch, t.Buffer, 1, at, g.R)
	}
	masterGain := float32(tapefour.FaderToGain(e.masterFader))
	vek32.MulNumber_Inplace(accL, masterGain)
	vek32.MulNumber_Inplace(accR, masterGain)
	ret := make(tapefour.AudioBuffer, frames)
	for i := range ret {
		ret[i] = [2]float32{accL[i], accR[i]}
	}
	return ret
}

// mixChannel adds one channel of src, scaled by gain, into acc starting at
// the given frame offset, using the vectorized kernels via the scratch
// buffer.
func mixChannel(acc, scratch []float32, src tapefour.AudioBuffer, channel, at int, gain float32) {
	if at >= len(acc) || gain == 0 {
		return
	}
	n := len(src)
	if at+n > len(acc) {
		n = len(acc) - at
	}
	s := scratch[:n]
	for i := 0; i < n; i++ {
		s[i] = src[i][channel]
	}
	vek32.MulNumber_Inplace(s, gain)
	vek32.Add_Inplace(acc[at:at+n], s)
}

// Bounce destructively renders the current tracks into the master buffer:
// after the render all four tracks are cleared and every mix parameter
// resets to its default, the master absorbing them. Refused while the
// transport runs.
func (e *Engine) Bounce() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.alert("BounceWhileRunning", Warning, "stop the transport before bouncing")
		return fmt.Errorf("cannot bounce while %v", e.state)
	}
	tracks := e.tracksForMixdown()
	if len(tracks) == 0 && len(e.master) == 0 {
		e.alert("BounceEmpty", Warning, "nothing to bounce")
		return fmt.Errorf("nothing to bounce")
	}
	rendered := e.renderOffline(tracks, true, e.durationMs()/1000)
	for _, t := range e.tracks {
		t.reset()
		e.notify(TrackClipChanged{Track: t.ID})
		e.notify(TrackParamsChanged{Track: t.ID})
		if e.waveform != nil {
			e.waveform.Clear(t.ID)
		}
	}
	e.soloSnapshotTaken = false
	e.masterFader = defaultFader
	e.master = rendered
	e.notify(MasterChanged{})
	e.renderMasterWaveform()
	return nil
}

// renderMasterWaveform regenerates the master waveform from the rendered
// buffer. Must be called with the engine lock held.
func (e *Engine) renderMasterWaveform() {
	if e.waveform == nil {
		return
	}
	e.waveform.Clear(0)
	for _, p := range bufferPeaks(e.master, 512) {
		e.waveform.Render(0, p)
	}
	e.waveform.Commit(0)
}

// ExportMaster writes a single WAV mixdown. An existing bounce is preferred;
// without one the current tracks are live-mixed on the fly, skipping muted
// tracks. Non-destructive.
func (e *Engine) ExportMaster(w io.Writer) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.alert("ExportWhileRunning", Warning, "stop the transport before exporting")
		e.mu.Unlock()
		return fmt.Errorf("cannot export while transport is running")
	}
	buffer := e.master
	if len(buffer) == 0 {
		buffer = e.renderOffline(e.exportTracks(), false, e.durationMs()/1000)
	}
	e.mu.Unlock()
	if len(buffer) == 0 {
		return fmt.Errorf("nothing to export")
	}
	data, err := e.encodeWav(buffer)
	if err != nil {
		return fmt.Errorf("could not encode master: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("could not write master: %w", err)
	}
	return nil
}

// exportTracks re-filters the mixdown selection by the mute flags; the solo
// precedence was already applied once at selection.
func (e *Engine) exportTracks() []*Track {
	var ret []*Track
	for _, t := range e.tracksForMixdown() {
		if t.Muted {
			continue
		}
		ret = append(ret, t)
	}
	return ret
}

// ExportMultitrack writes a zip archive holding each track rendered
// individually plus the master mix. Non-destructive.
func (e *Engine) ExportMultitrack(w io.Writer) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.alert("ExportWhileRunning", Warning, "stop the transport before exporting")
		e.mu.Unlock()
		return fmt.Errorf("cannot export while transport is running")
	}
	duration := e.durationMs() / 1000
	type stem struct {
		name   string
		buffer tapefour.AudioBuffer
	}
	var stems []stem
	for _, t := range e.exportTracks() {
		stems = append(stems, stem{
			name:   fmt.Sprintf("track%d.wav", t.ID),
			buffer: e.renderOffline([]*Track{t}, false, duration),
		})
	}
	master := e.master
	if len(master) == 0 {
		master = e.renderOffline(e.exportTracks(), false, duration)
	}
	stems = append(stems, stem{name: "master.wav", buffer: master})
	e.mu.Unlock()

	zw := zip.NewWriter(w)
	for _, s := range stems {
		if len(s.buffer) == 0 {
			continue
		}
		data, err := e.encodeWav(s.buffer)
		if err != nil {
			return fmt.Errorf("could not encode %v: %w", s.name, err)
		}
		f, err := zw.Create(s.name)
		if err != nil {
			return fmt.Errorf("could not create zip entry %v: %w", s.name, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("could not write zip entry %v: %w", s.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finalize zip: %w", err)
	}
	return nil
}

// ExportName returns a timestamped default file name for an export artifact.
func ExportName(multitrack bool) string {
	stamp := time.Now().Format("2006-01-02-150405")
	if multitrack {
		return fmt.Sprintf("tapefour-export-%s.zip", stamp)
	}
	return fmt.Sprintf("tapefour-export-%s.wav", stamp)
}

// Encoding offload: WAV encoding of long buffers runs on the engine's
// lazily started background worker with a per-task timeout; on timeout or a
// busy worker the caller falls back to synchronous encoding on its own
// goroutine.

const (
	offloadThresholdMs = 10 * 1000
	offloadTimeout     = 30 * time.Second
)

type encodeJob struct {
	buffer tapefour.AudioBuffer
	result chan encodeResult
}

type encodeResult struct {
	data []byte
	err  error
}

func (e *Engine) encodeWorker() {
	for job := range e.encodeJobs {
		data, err := tapefour.Wav(job.buffer, true)
		job.result <- encodeResult{data: data, err: err}
	}
}

func (e *Engine) encodeWav(buffer tapefour.AudioBuffer) ([]byte, error) {
	if buffer.DurationMs() < offloadThresholdMs {
		return tapefour.Wav(buffer, true)
	}
	e.encodeOnce.Do(func() {
		e.encodeJobs = make(chan encodeJob)
		go e.encodeWorker()
	})
	job := encodeJob{buffer: buffer, result: make(chan encodeResult, 1)}
	select {
	case e.encodeJobs <- job:
	default:
		return tapefour.Wav(buffer, true) // worker busy
	}
	if res, ok := TimeoutReceive(job.result, offloadTimeout); ok {
		return res.data, res.err
	}
	return tapefour.Wav(buffer, true) // worker timed out
}
