package engine

import (
	"archive/zip"
	"bytes"
	"math"
	"testing"

	"github.com/fxcircus/tapefour"
)

// pcm16Tolerance covers the quantization error of the 16-bit export path.
const pcm16Tolerance = 1.5 / 32768

func TestTracksForMixdownSoloPrecedence(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.1), 0)
	e.setTakeForTest(2, constantBuffer(1000, 0.1), 0)
	e.setTakeForTest(3, constantBuffer(1000, 0.1), 0)
	e.SetSolo(2, true)
	tracks := e.TracksForMixdown()
	if len(tracks) != 1 || tracks[0].ID != 2 {
		t.Errorf("mixdown with solo includes %v tracks, expected only track 2", len(tracks))
	}
	e.SetSolo(2, false)
	if got := len(e.TracksForMixdown()); got != 3 {
		t.Errorf("mixdown without solo includes %v tracks, expected 3", got)
	}
}

func TestBounceIsAdditive(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(tapefour.SampleRate, 0.5), 0)
	if err := e.Bounce(); err != nil {
		t.Fatalf("first bounce: %v", err)
	}
	master := e.MasterBuffer()
	if len(master) != tapefour.SampleRate {
		t.Fatalf("master length = %v, expected %v", len(master), tapefour.SampleRate)
	}
	if got := float64(master[100][0]); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("master sample = %v, expected 0.5 at unity gain", got)
	}
	// a second generation mixes on top of the existing master
	e.setTakeForTest(2, constantBuffer(tapefour.SampleRate, 0.25), 0)
	if err := e.Bounce(); err != nil {
		t.Fatalf("second bounce: %v", err)
	}
	master = e.MasterBuffer()
	if got := float64(master[100][0]); math.Abs(got-0.75) > 1e-6 {
		t.Errorf("second-generation master sample = %v, expected 0.75", got)
	}
}

func TestBounceResetsTracksAndMasterFader(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	e.SetFader(1, 40)
	e.SetPan(1, 0)
	e.SetManualMute(2, true)
	e.SetMasterFader(60)
	if err := e.Bounce(); err != nil {
		t.Fatalf("bounce: %v", err)
	}
	for id := 1; id <= tapefour.NumTracks; id++ {
		state := e.TrackState(id)
		if state.HasAudio() {
			t.Errorf("track %v kept audio through the bounce", id)
		}
		if state.Fader != defaultFader || state.Pan != defaultPan {
			t.Errorf("track %v mix parameters survived the bounce", id)
		}
		if state.Muted || state.ManuallyMuted {
			t.Errorf("track %v mute survived the bounce", id)
		}
	}
	e.mu.Lock()
	masterFader := e.masterFader
	e.mu.Unlock()
	if masterFader != defaultFader {
		t.Errorf("master fader = %v after bounce, expected %v", masterFader, defaultFader)
	}
}

func TestBounceIgnoresMuteFlag(t *testing.T) {
	// mute/solo precedence is applied once, at mixdown selection; the bounce
	// render itself does not re-check mute. Only exports re-filter by it.
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	e.setTakeForTest(2, constantBuffer(1000, 0.25), 0)
	e.SetManualMute(2, true)
	if err := e.Bounce(); err != nil {
		t.Fatalf("bounce: %v", err)
	}
	if got := float64(e.MasterBuffer()[100][0]); math.Abs(got-0.75) > 1e-6 {
		t.Errorf("master sample = %v, expected the muted track to be rendered", got)
	}
}

func TestBounceRefusedWhilePlaying(t *testing.T) {
	e, log, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	e.Play()
	if err := e.Bounce(); err == nil {
		t.Errorf("expected an error bouncing while playing")
	}
	if log.alerts("BounceWhileRunning") == 0 {
		t.Errorf("expected a BounceWhileRunning alert")
	}
	if len(e.MasterBuffer()) != 0 {
		t.Errorf("master changed despite the refused bounce")
	}
}

func TestBounceEmptySession(t *testing.T) {
	e, log, _ := newTestEngine(t, &testTempo{bpm: 120})
	if err := e.Bounce(); err == nil {
		t.Errorf("expected an error bouncing an empty session")
	}
	if log.alerts("BounceEmpty") == 0 {
		t.Errorf("expected a BounceEmpty alert")
	}
}

func TestExportMasterLiveMix(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(tapefour.SampleRate/2, 0.5), 0)
	var buf bytes.Buffer
	if err := e.ExportMaster(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	decoded, err := tapefour.ReadWav(buf.Bytes())
	if err != nil {
		t.Fatalf("decoding the export: %v", err)
	}
	if len(decoded) != tapefour.SampleRate/2 {
		t.Fatalf("exported %v frames, expected %v", len(decoded), tapefour.SampleRate/2)
	}
	if got := float64(decoded[100][0]); math.Abs(got-0.5) > pcm16Tolerance {
		t.Errorf("exported sample = %v, expected 0.5", got)
	}
}

func TestExportMasterPrefersBounce(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	if err := e.Bounce(); err != nil {
		t.Fatalf("bounce: %v", err)
	}
	// a post-bounce take must not leak into the master export
	e.setTakeForTest(2, constantBuffer(1000, 0.25), 0)
	var buf bytes.Buffer
	if err := e.ExportMaster(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	decoded, err := tapefour.ReadWav(buf.Bytes())
	if err != nil {
		t.Fatalf("decoding the export: %v", err)
	}
	if got := float64(decoded[100][0]); math.Abs(got-0.5) > pcm16Tolerance {
		t.Errorf("exported sample = %v, expected the bounced master only", got)
	}
}

func TestExportSkipsMutedTracks(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	e.setTakeForTest(2, constantBuffer(1000, 0.25), 0)
	e.SetManualMute(2, true)
	var buf bytes.Buffer
	if err := e.ExportMaster(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	decoded, err := tapefour.ReadWav(buf.Bytes())
	if err != nil {
		t.Fatalf("decoding the export: %v", err)
	}
	if got := float64(decoded[100][0]); math.Abs(got-0.5) > pcm16Tolerance {
		t.Errorf("exported sample = %v, muted track should be excluded", got)
	}
}

func TestExportMasterRefusedWhilePlaying(t *testing.T) {
	e, log, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	e.Play()
	var buf bytes.Buffer
	if err := e.ExportMaster(&buf); err == nil {
		t.Errorf("expected an error exporting while playing")
	}
	if log.alerts("ExportWhileRunning") == 0 {
		t.Errorf("expected an ExportWhileRunning alert")
	}
	if buf.Len() != 0 {
		t.Errorf("export wrote %v bytes despite the refusal", buf.Len())
	}
}

func TestExportMultitrackZip(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	e.setTakeForTest(1, constantBuffer(1000, 0.5), 0)
	e.setTakeForTest(3, constantBuffer(1000, 0.25), 0)
	var buf bytes.Buffer
	if err := e.ExportMultitrack(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("opening the archive: %v", err)
	}
	want := map[string]bool{"track1.wav": false, "track3.wav": false, "master.wav": false}
	for _, f := range zr.File {
		if _, ok := want[f.Name]; !ok {
			t.Errorf("unexpected archive entry %v", f.Name)
			continue
		}
		want[f.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("archive is missing %v", name)
		}
	}
}

func TestEncodeOffloadLongBuffer(t *testing.T) {
	e, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	buffer := constantBuffer(11*tapefour.SampleRate, 0.25) // past the offload threshold
	data, err := e.encodeWav(buffer)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := tapefour.ReadWav(data)
	if err != nil {
		t.Fatalf("decoding the offloaded encode: %v", err)
	}
	if len(decoded) != len(buffer) {
		t.Errorf("decoded %v frames, expected %v", len(decoded), len(buffer))
	}
	if got := float64(decoded[100][0]); math.Abs(got-0.25) > pcm16Tolerance {
		t.Errorf("decoded sample = %v, expected 0.25", got)
	}
	// each engine owns its worker; a second engine encodes independently
	e2, _, _ := newTestEngine(t, &testTempo{bpm: 120})
	if _, err := e2.encodeWav(buffer); err != nil {
		t.Errorf("second engine encode: %v", err)
	}
}

func TestExportNameExtension(t *testing.T) {
	if name := ExportName(false); len(name) == 0 || name[len(name)-4:] != ".wav" {
		t.Errorf("single export name = %v, expected a .wav suffix", name)
	}
	if name := ExportName(true); len(name) == 0 || name[len(name)-4:] != ".zip" {
		t.Errorf("multitrack export name = %v, expected a .zip suffix", name)
	}
}
