package tapefour

import (
	"math"
)

// SampleRate is the fixed sample rate of the whole engine. Capture, playback
// and offline rendering all run at this rate; imported WAV files at other
// rates are rejected rather than resampled.
const SampleRate = 44100

type (
	// AudioBuffer is a buffer of stereo audio samples of the form
	// [[l0, r0], [l1, r1], [l2, r2] ...]. It is in a machine native format,
	// and only encoded to interleaved PCM at the I/O boundaries.
	AudioBuffer [][2]float32

	// Clip is a recorded take placed on the project timeline. StartMs is the
	// absolute position where the first sample of the buffer plays; it is set
	// once per fresh recording and left untouched by punch-ins.
	Clip struct {
		Buffer  AudioBuffer
		StartMs float64
	}

	// AudioProcessor fills buffers with audio. The playback context calls
	// Process from its own hardware-clocked thread, so implementations must
	// never block.
	AudioProcessor interface {
		Process(buffer AudioBuffer)
	}

	// AudioContext is the playback side of the sound card. Start begins
	// pulling audio from the processor until Close is called.
	AudioContext interface {
		Start(processor AudioProcessor) error
		Close() error
	}

	// AudioSource produces mono float32 frames, typically from a microphone.
	// ReadAudio blocks until at least one frame is available.
	AudioSource interface {
		ReadAudio(buffer []float32) (n int, err error)
		Close() error
	}

	// DeviceInfo describes one capture device of an InputContext.
	DeviceInfo struct {
		ID               string
		Name             string
		MaxInputChannels int
		IsDefault        bool
	}

	// InputContext is the capture side of the sound card. Open with an empty
	// device id opens the system default input.
	InputContext interface {
		Devices() ([]DeviceInfo, error)
		Open(deviceID string) (AudioSource, error)
		Close() error
	}
)

// Copy makes a deep copy of the buffer.
func (b AudioBuffer) Copy() AudioBuffer {
	ret := make(AudioBuffer, len(b))
	copy(ret, b)
	return ret
}

// DurationMs returns the length of the buffer in milliseconds.
func (b AudioBuffer) DurationMs() float64 {
	return float64(len(b)) / SampleRate * 1000
}

// Interleave copies the buffer into an interleaved []float32, allocating only
// when dst is too small, and returns the result.
func (b AudioBuffer) Interleave(dst []float32) []float32 {
	if cap(dst) < len(b)*2 {
		dst = make([]float32, len(b)*2)
	}
	dst = dst[:len(b)*2]
	for i, frame := range b {
		dst[i*2] = frame[0]
		dst[i*2+1] = frame[1]
	}
	return dst
}

// Deinterleave fills the buffer from an interleaved []float32. The source must
// hold exactly len(b)*2 samples.
func (b AudioBuffer) Deinterleave(src []float32) {
	for i := range b {
		b[i][0] = src[i*2]
		b[i][1] = src[i*2+1]
	}
}

// EndMs returns the position on the timeline where the clip ends.
func (c Clip) EndMs() float64 {
	return c.StartMs + c.Buffer.DurationMs()
}

// MsToSamples converts a timeline position in milliseconds to a sample frame
// count, flooring like the punch-in arithmetic expects.
func MsToSamples(ms float64) int {
	return int(math.Floor(ms / 1000 * SampleRate))
}

// SamplesToMs converts a sample frame count to milliseconds.
func SamplesToMs(samples int) float64 {
	return float64(samples) / SampleRate * 1000
}
