// Package metronome synthesizes the count-in and recording click. It renders
// additively into the master output, after the track mix but before the
// master gain, so the click is audible regardless of fader positions.
package metronome

import (
	"math"
	"sync"

	"github.com/fxcircus/tapefour"
)

const (
	beatsPerBar   = 4
	clickHz       = 880.0
	accentHz      = 1760.0
	clickDecay    = 60.0 // amplitude decays to ~5% in 50 ms
	clickFrames   = tapefour.SampleRate / 20
	clickPeakGain = 0.4
)

// Metronome ticks on quarter notes with an accent on beat one. Render is
// called from the audio goroutine; Start and Stop from the engine. The bpm
// and volume callbacks are read once per beat and per render respectively.
type Metronome struct {
	mu      sync.Mutex
	running bool
	bpm     func() float64
	volume  func() float64

	toBeat     int
	beat       int
	clickFrame int
	clickHz    float64
}

func New(bpm, volume func() float64) *Metronome {
	return &Metronome{bpm: bpm, volume: volume}
}

func (m *Metronome) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.toBeat = 0
	m.beat = 0
	m.clickFrame = clickFrames
}

func (m *Metronome) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.clickFrame = clickFrames
}

func (m *Metronome) Render(buffer tapefour.AudioBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	vol := m.volume()
	if vol <= 0 {
		m.advance(len(buffer))
		return
	}
	for i := range buffer {
		if m.toBeat <= 0 {
			m.clickFrame = 0
			m.clickHz = clickHz
			if m.beat%beatsPerBar == 0 {
				m.clickHz = accentHz
			}
			m.beat++
			m.toBeat = m.beatInterval()
		}
		m.toBeat--
		if m.clickFrame < clickFrames {
			t := float64(m.clickFrame) / tapefour.SampleRate
			v := float32(clickPeakGain * vol * math.Exp(-clickDecay*t) * math.Sin(2*math.Pi*m.clickHz*t))
			buffer[i][0] += v
			buffer[i][1] += v
			m.clickFrame++
		}
	}
}

// advance keeps the beat counter moving while the click is muted.
func (m *Metronome) advance(frames int) {
	for m.toBeat < frames {
		frames -= m.toBeat
		m.beat++
		m.toBeat = m.beatInterval()
	}
	m.toBeat -= frames
}

func (m *Metronome) beatInterval() int {
	bpm := m.bpm()
	if bpm <= 0 {
		bpm = 120
	}
	return int(60.0 / bpm * tapefour.SampleRate)
}
