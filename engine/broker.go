package engine

import (
	"sync"
	"time"

	"github.com/fxcircus/tapefour"
)

type (
	// Broker is the centralized message hub of the recorder. It connects the
	// three actors: the Engine (reactor goroutine owning all transport
	// state), the Player (runs on the audio thread, mixes scheduled sources)
	// and the Recorder (capture goroutine reading the microphone stream).
	// Communication is many-to-one, one channel per recipient. The broker
	// also has a sync.Pool of float32 chunks so the recorder can pass capture
	// and monitoring data around without allocating on every block.
	//
	// For closing goroutines, the broker has two channels per goroutine:
	// CloseXXX has a capacity of 1, so a struct{}{} can always be sent to it
	// without blocking; if it is already full, someone else already requested
	// the closure and dropping the message is fine. FinishedXXX is never sent
	// to, only closed, so "<-FinishedXXX" waits until the goroutine has
	// cleaned up, usually combined with a timeout to avoid deadlocks.
	Broker struct {
		ToEngine   chan MsgToEngine
		ToPlayer   chan any
		ToRecorder chan any

		CloseEngine   chan struct{}
		CloseRecorder chan struct{}

		FinishedEngine   chan struct{}
		FinishedRecorder chan struct{}

		chunkPool sync.Pool
	}

	// MsgToEngine is a message sent to the engine reactor. The frequently
	// sent input level is not boxed to avoid allocations; infrequent
	// messages travel boxed in Data.
	MsgToEngine struct {
		HasInputLevel bool
		InputLevel    float32

		Data any
	}

	// MsgToPlayer messages; all consumed by the Player in its processMessages
	// loop, which runs at the start of every audio block.
	startSourcesMsg struct {
		Sources []playerSource
	}
	stopSourcesMsg struct{}
	sourceGainsMsg struct {
		Gains [tapefour.NumTracks + 1]stereoGain // index 0 is the master bus
	}
	inputMonitorMsg struct {
		On   bool
		Gain float32
	}
	monitorChunkMsg struct {
		Frames []float32 // mono capture frames, returned to the pool after mixing
	}
	metronomeMsg struct {
		On bool
	}

	// MsgToRecorder messages.
	startCaptureMsg struct {
		DeviceID string
	}
	stopCaptureMsg struct{}

	// Messages from the recorder back to the engine, boxed in
	// MsgToEngine.Data.
	captureResultMsg struct {
		Buffer tapefour.AudioBuffer
		Err    error
	}
	captureCeilingMsg struct {
		Reason string
	}
	captureOpenFailedMsg struct {
		Err error
	}

	// capturePeakMsg carries one live waveform point of the take being
	// captured. The engine maps it to the recording track and stamps the
	// timeline position when forwarding to the consumer.
	capturePeakMsg struct {
		Peak float32
	}

	// peakMsg carries one waveform point from the player to the engine. The
	// engine stamps the timeline position when forwarding to the consumer.
	peakMsg struct {
		Track int // 0 = master bus
		Peak  float32
	}

	stereoGain struct {
		L, R float32
	}
)

const recorderChunkFrames = 1024

func NewBroker() *Broker {
	return &Broker{
		ToEngine:         make(chan MsgToEngine, 1024),
		ToPlayer:         make(chan any, 1024),
		ToRecorder:       make(chan any, 64),
		CloseEngine:      make(chan struct{}, 1),
		CloseRecorder:    make(chan struct{}, 1),
		FinishedEngine:   make(chan struct{}),
		FinishedRecorder: make(chan struct{}),
		chunkPool: sync.Pool{New: func() any {
			s := make([]float32, 0, recorderChunkFrames)
			return &s
		}},
	}
}

// GetChunk returns a float32 chunk from the pool, with length zero. After the
// consumer is done with the chunk, it should be returned with PutChunk.
func (b *Broker) GetChunk() *[]float32 {
	return b.chunkPool.Get().(*[]float32)
}

// PutChunk returns a chunk to the pool, resetting its length but keeping the
// capacity.
func (b *Broker) PutChunk(chunk *[]float32) {
	*chunk = (*chunk)[:0]
	b.chunkPool.Put(chunk)
}

// TrySend is a helper function to send a value to a channel if it is not
// full. It is guaranteed to be non-blocking. Returns true if the value was
// sent, false otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received from a channel, or times
// out after t. ok is false if the timeout occurred or the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
