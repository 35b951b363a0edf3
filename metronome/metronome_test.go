package metronome

import (
	"testing"

	"github.com/fxcircus/tapefour"
)

func silent(buffer tapefour.AudioBuffer, from, to int) bool {
	for i := from; i < to; i++ {
		if buffer[i][0] != 0 || buffer[i][1] != 0 {
			return false
		}
	}
	return true
}

func TestClickPositions(t *testing.T) {
	m := New(func() float64 { return 120 }, func() float64 { return 1 })
	m.Start()
	buffer := make(tapefour.AudioBuffer, tapefour.SampleRate)
	m.Render(buffer)
	// 120 BPM puts beats at frames 0 and 22050, each click 2205 frames long
	if buffer[1][0] == 0 {
		t.Errorf("expected a click at the first beat")
	}
	if buffer[1][0] != buffer[1][1] {
		t.Errorf("click should be centered")
	}
	if !silent(buffer, 2205, 22050) {
		t.Errorf("expected silence between clicks")
	}
	if buffer[22051][0] == 0 {
		t.Errorf("expected a click at the second beat")
	}
	if !silent(buffer, 22050+2205, len(buffer)) {
		t.Errorf("expected silence after the second click")
	}
}

func TestRenderBeforeStartIsSilent(t *testing.T) {
	m := New(func() float64 { return 120 }, func() float64 { return 1 })
	buffer := make(tapefour.AudioBuffer, 4096)
	m.Render(buffer)
	if !silent(buffer, 0, len(buffer)) {
		t.Errorf("metronome rendered before Start")
	}
}

func TestStopSilences(t *testing.T) {
	m := New(func() float64 { return 120 }, func() float64 { return 1 })
	m.Start()
	m.Stop()
	buffer := make(tapefour.AudioBuffer, 4096)
	m.Render(buffer)
	if !silent(buffer, 0, len(buffer)) {
		t.Errorf("metronome rendered after Stop")
	}
}

func TestZeroVolumeKeepsTheBeat(t *testing.T) {
	vol := 0.0
	m := New(func() float64 { return 120 }, func() float64 { return vol })
	m.Start()
	first := make(tapefour.AudioBuffer, 33075) // 0.75 s: beats at 0 and 22050 pass silently
	m.Render(first)
	if !silent(first, 0, len(first)) {
		t.Errorf("muted metronome rendered audio")
	}
	vol = 1
	second := make(tapefour.AudioBuffer, tapefour.SampleRate)
	m.Render(second)
	// the third beat lands at absolute frame 44100, 11025 frames in
	if !silent(second, 0, 11025) {
		t.Errorf("expected silence before the third beat")
	}
	if second[11026][0] == 0 {
		t.Errorf("expected the third beat on time after the muted stretch")
	}
}
