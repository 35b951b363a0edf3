package engine

import (
	"math"

	"github.com/fxcircus/tapefour"
)

type (
	// Player mixes the scheduled sources into the output buffers the audio
	// context pulls. It runs on the audio thread: Process is called from the
	// hardware-clocked playback callback, so everything here is non-blocking
	// and allocation-shy. The player is controlled purely by messages from
	// the engine via the broker and never touches engine state.
	Player struct {
		broker  *Broker
		sources []playerSource
		gains   [tapefour.NumTracks + 1]stereoGain
		playing bool

		monitorOn    bool
		monitorGain  float32
		monitorRing  []float32 // mono capture frames queued for input monitoring
		monitorRead  int
		monitorWrite int

		aux AuxSource

		peakAcc    [tapefour.NumTracks + 1]float32
		peakFrames int
	}

	// playerSource is one scheduled buffer: a track take or the master bus
	// (Track 0). DelayFrames counts down before the first sample plays;
	// OffsetFrames is the buffer-read position. Both were computed by the
	// engine against the shared batch start.
	playerSource struct {
		Track        int
		Buffer       tapefour.AudioBuffer
		DelayFrames  int
		OffsetFrames int
	}

	// AuxSource is an extra generator mixed after the track sources,
	// used by the metronome. Render must be non-blocking.
	AuxSource interface {
		Render(buffer tapefour.AudioBuffer)
	}
)

const monitorRingSize = tapefour.SampleRate // one second of slack

func NewPlayer(broker *Broker, aux AuxSource) *Player {
	return &Player{
		broker:      broker,
		monitorRing: make([]float32, monitorRingSize),
		monitorGain: 1,
		aux:         aux,
	}
}

// Process fills the buffer with the mixed output of every scheduled source,
// the input-monitoring path and the aux source. Called from the audio thread.
func (p *Player) Process(buffer tapefour.AudioBuffer) {
	p.processMessages()
	for i := range buffer {
		buffer[i] = [2]float32{}
	}
	if p.playing {
		p.mixSources(buffer)
	}
	if p.monitorOn {
		p.mixMonitor(buffer)
	}
	if p.aux != nil {
		p.aux.Render(buffer)
	}
	master := p.gains[0]
	for i := range buffer {
		buffer[i][0] *= master.L
		buffer[i][1] *= master.R
	}
	p.accumulatePeaks(buffer)
}

func (p *Player) mixSources(buffer tapefour.AudioBuffer) {
	for s := range p.sources {
		src := &p.sources[s]
		g := p.gains[src.Track]
		for i := range buffer {
			if src.DelayFrames > 0 {
				src.DelayFrames--
				continue
			}
			if src.OffsetFrames >= len(src.Buffer) {
				break // ended naturally; the engine prunes it on next batch
			}
			frame := src.Buffer[src.OffsetFrames]
			src.OffsetFrames++
			buffer[i][0] += frame[0] * g.L
			buffer[i][1] += frame[1] * g.R
		}
	}
}

func (p *Player) mixMonitor(buffer tapefour.AudioBuffer) {
	for i := range buffer {
		if p.monitorRead == p.monitorWrite {
			break
		}
		s := p.monitorRing[p.monitorRead] * p.monitorGain
		p.monitorRead = (p.monitorRead + 1) % monitorRingSize
		buffer[i][0] += s
		buffer[i][1] += s
	}
}

// accumulatePeaks tracks the master-bus peak over ~23 ms windows and pushes
// one waveform point per window. Sends are non-blocking; a slow consumer
// just misses points.
func (p *Player) accumulatePeaks(buffer tapefour.AudioBuffer) {
	for i := range buffer {
		a := float32(math.Abs(float64(buffer[i][0])))
		if b := float32(math.Abs(float64(buffer[i][1]))); b > a {
			a = b
		}
		if a > p.peakAcc[0] {
			p.peakAcc[0] = a
		}
	}
	p.peakFrames += len(buffer)
	if p.peakFrames >= tapefour.SampleRate/43 {
		TrySend(p.broker.ToEngine, MsgToEngine{Data: peakMsg{
			Track: 0,
			Peak:  peakClamp(p.peakAcc[0]),
		}})
		p.peakAcc[0] = 0
		p.peakFrames = 0
	}
}

func peakClamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	return v
}

func (p *Player) processMessages() {
loop:
	for {
		select {
		case msg := <-p.broker.ToPlayer:
			switch m := msg.(type) {
			case startSourcesMsg:
				// one shared lead for the whole batch approximates a
				// simultaneous start of every source
				p.sources = p.sources[:0]
				for _, src := range m.Sources {
					src.DelayFrames += scheduleLeadFrames
					p.sources = append(p.sources, src)
				}
				p.playing = true
			case stopSourcesMsg:
				// stopping sources that already ended is fine; they are
				// simply dropped
				p.sources = p.sources[:0]
				p.playing = false
			case sourceGainsMsg:
				p.gains = m.Gains
			case inputMonitorMsg:
				p.monitorOn = m.On
				p.monitorGain = m.Gain
				if !m.On {
					p.monitorRead = p.monitorWrite
				}
			case monitorChunkMsg:
				p.queueMonitor(m.Frames)
				p.broker.PutChunk(&m.Frames)
			case metronomeMsg:
				// aux sources manage their own run state; kept for
				// symmetry with the engine's metronome callbacks
			default:
				// ignore unknown messages
			}
		default:
			break loop
		}
	}
}

func (p *Player) queueMonitor(frames []float32) {
	for _, f := range frames {
		next := (p.monitorWrite + 1) % monitorRingSize
		if next == p.monitorRead {
			return // ring full, drop the rest
		}
		p.monitorRing[p.monitorWrite] = f
		p.monitorWrite = next
	}
}
