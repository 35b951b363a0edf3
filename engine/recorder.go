package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxcircus/tapefour"
)

// Recorder is the capture pipeline: it owns the single microphone stream,
// reads it in chunks, feeds the input meter and the monitoring path, and
// accumulates the chunks of an active capture. There is exactly one stream;
// it is reused across arm/disarm cycles and recreated only when the device
// selection changes or the stream has died.
type Recorder struct {
	broker *Broker
	input  tapefour.InputContext

	source   tapefour.AudioSource
	deviceID string

	capturing bool
	chunks    [][]float32
	frames    int

	peakAcc    float32
	peakFrames int

	meter levelMeter
}

const (
	// maxCaptureBytes is the accumulation ceiling; hitting it force-stops the
	// recording (a forced transition, not an error).
	maxCaptureBytes  = 500 * 1000 * 1000
	maxCaptureFrames = maxCaptureBytes / 4 // mono float32

	meterMinDb = -60
)

// levelMeter smooths the capture level into decibels with separate attack
// and release time constants, for the input volume meter.
type levelMeter struct {
	level        float32
	alphaAttack  float32
	alphaRelease float32
}

func newLevelMeter(attack, release float64) levelMeter {
	// from https://en.wikipedia.org/wiki/Exponential_smoothing
	return levelMeter{
		level:        meterMinDb,
		alphaAttack:  1 - float32(math.Exp(-1.0/(attack*tapefour.SampleRate))),
		alphaRelease: 1 - float32(math.Exp(-1.0/(release*tapefour.SampleRate))),
	}
}

func (m *levelMeter) update(frames []float32) float32 {
	for _, s := range frames {
		sample2 := float64(s * s)
		dB := float32(10 * math.Log10(sample2))
		if dB < meterMinDb || math.IsNaN(float64(dB)) {
			dB = meterMinDb
		}
		a := m.alphaAttack
		if dB < m.level {
			a = m.alphaRelease
		}
		m.level += (dB - m.level) * a
	}
	return m.level
}

func NewRecorder(broker *Broker, input tapefour.InputContext) *Recorder {
	return &Recorder{
		broker: broker,
		input:  input,
		meter:  newLevelMeter(1.5e-3, 1.5),
	}
}

// Run is the recorder goroutine: it alternates between draining control
// messages and blocking reads of the input stream. It returns when
// CloseRecorder is signalled.
func (r *Recorder) Run() {
	defer close(r.broker.FinishedRecorder)
	defer r.closeStream()
	buf := make([]float32, recorderChunkFrames)
	for {
		select {
		case msg := <-r.broker.ToRecorder:
			r.handleMessage(msg)
			continue
		case <-r.broker.CloseRecorder:
			return
		default:
		}
		if r.source == nil {
			// idle; block on control messages only
			select {
			case msg := <-r.broker.ToRecorder:
				r.handleMessage(msg)
			case <-r.broker.CloseRecorder:
				return
			}
			continue
		}
		n, err := r.source.ReadAudio(buf)
		if err != nil {
			r.streamDied(err)
			continue
		}
		r.consume(buf[:n])
	}
}

// Close asks the recorder goroutine to stop and waits for it to finish.
func (r *Recorder) Close() {
	TrySend(r.broker.CloseRecorder, struct{}{})
	TimeoutReceive(r.broker.FinishedRecorder, 3*time.Second)
}

func (r *Recorder) handleMessage(msg any) {
	switch m := msg.(type) {
	case startCaptureMsg:
		if err := r.ensureStream(m.DeviceID); err != nil {
			TrySend(r.broker.ToEngine, MsgToEngine{Data: captureOpenFailedMsg{Err: err}})
			return
		}
		r.capturing = true
		r.chunks = r.chunks[:0]
		r.frames = 0
		r.peakAcc = 0
		r.peakFrames = 0
	case stopCaptureMsg:
		if !r.capturing {
			return
		}
		r.capturing = false
		TrySend(r.broker.ToEngine, MsgToEngine{Data: captureResultMsg{Buffer: r.assemble()}})
		r.chunks = r.chunks[:0]
		r.frames = 0
	}
}

// ensureStream opens the microphone if needed, reusing the existing stream
// unless the device selection changed.
func (r *Recorder) ensureStream(deviceID string) error {
	if r.source != nil && r.deviceID == deviceID {
		return nil
	}
	r.closeStream()
	if r.input == nil {
		return errors.New("no input context configured")
	}
	source, err := r.input.Open(deviceID)
	if err != nil {
		return fmt.Errorf("could not open input device: %w", err)
	}
	r.source = source
	r.deviceID = deviceID
	return nil
}

func (r *Recorder) closeStream() {
	if r.source != nil {
		r.source.Close() // best effort; a dead stream errors here and that is fine
		r.source = nil
	}
}

func (r *Recorder) streamDied(err error) {
	r.closeStream()
	if r.capturing {
		r.capturing = false
		// deliver what was captured so far along with the error; the engine
		// drops the take and alerts
		TrySend(r.broker.ToEngine, MsgToEngine{Data: captureResultMsg{Err: fmt.Errorf("input stream failed: %w", err)}})
		r.chunks = r.chunks[:0]
		r.frames = 0
	}
}

func (r *Recorder) consume(frames []float32) {
	level := r.meter.update(frames)
	TrySend(r.broker.ToEngine, MsgToEngine{HasInputLevel: true, InputLevel: level})

	// feed the input-monitoring path through the pool to avoid sharing buf
	chunk := r.broker.GetChunk()
	*chunk = append(*chunk, frames...)
	if !TrySend(r.broker.ToPlayer, any(monitorChunkMsg{Frames: *chunk})) {
		r.broker.PutChunk(chunk)
	}

	if !r.capturing {
		return
	}
	captured := make([]float32, len(frames))
	copy(captured, frames)
	r.chunks = append(r.chunks, captured)
	r.frames += len(frames)
	r.feedCapturePeaks(frames)
	if r.frames >= maxCaptureFrames {
		r.capturing = false
		TrySend(r.broker.ToEngine, MsgToEngine{Data: captureCeilingMsg{Reason: "capture buffer limit reached"}})
		TrySend(r.broker.ToEngine, MsgToEngine{Data: captureResultMsg{Buffer: r.assemble()}})
		r.chunks = r.chunks[:0]
		r.frames = 0
	}
}

// feedCapturePeaks pushes one live waveform point of the take per ~23 ms
// window, mirroring the player's master-bus peak cadence. Sends are
// non-blocking; a slow engine just misses points.
func (r *Recorder) feedCapturePeaks(frames []float32) {
	for _, s := range frames {
		if s < 0 {
			s = -s
		}
		if s > r.peakAcc {
			r.peakAcc = s
		}
	}
	r.peakFrames += len(frames)
	if r.peakFrames >= tapefour.SampleRate/43 {
		TrySend(r.broker.ToEngine, MsgToEngine{Data: capturePeakMsg{Peak: peakClamp(r.peakAcc)}})
		r.peakAcc = 0
		r.peakFrames = 0
	}
}

// assemble decodes the captured mono chunks into a stereo AudioBuffer,
// duplicating the mono signal to both channels.
func (r *Recorder) assemble() tapefour.AudioBuffer {
	ret := make(tapefour.AudioBuffer, 0, r.frames)
	for _, chunk := range r.chunks {
		for _, s := range chunk {
			ret = append(ret, [2]float32{s, s})
		}
	}
	return ret
}
