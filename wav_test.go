package tapefour_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/fxcircus/tapefour"
)

func testSignal(frames int) tapefour.AudioBuffer {
	ret := make(tapefour.AudioBuffer, frames)
	for i := range ret {
		phase := float64(i) / tapefour.SampleRate
		ret[i] = [2]float32{
			float32(0.5 * math.Sin(2*math.Pi*440*phase)),
			float32(0.25 * math.Sin(2*math.Pi*220*phase)),
		}
	}
	return ret
}

func TestWavFloatRoundtrip(t *testing.T) {
	buffer := testSignal(4410)
	data, err := tapefour.Wav(buffer, false)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	decoded, err := tapefour.ReadWav(data)
	if err != nil {
		t.Fatalf("ReadWav failed: %v", err)
	}
	if len(decoded) != len(buffer) {
		t.Fatalf("decoded %v frames, expected %v", len(decoded), len(buffer))
	}
	for i := range buffer {
		if decoded[i] != buffer[i] {
			t.Fatalf("frame %v = %v, expected %v", i, decoded[i], buffer[i])
		}
	}
}

func TestWavPcm16Roundtrip(t *testing.T) {
	buffer := testSignal(4410)
	data, err := tapefour.Wav(buffer, true)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	decoded, err := tapefour.ReadWav(data)
	if err != nil {
		t.Fatalf("ReadWav failed: %v", err)
	}
	if len(decoded) != len(buffer) {
		t.Fatalf("decoded %v frames, expected %v", len(decoded), len(buffer))
	}
	const tolerance = 1.5 / math.MaxInt16 // quantization noise
	for i := range buffer {
		for ch := 0; ch < 2; ch++ {
			if diff := math.Abs(float64(decoded[i][ch] - buffer[i][ch])); diff > tolerance {
				t.Fatalf("frame %v channel %v differs by %v", i, ch, diff)
			}
		}
	}
}

func TestWavHeader(t *testing.T) {
	buffer := testSignal(100)
	data, err := tapefour.Wav(buffer, true)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Errorf("bad RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != tapefour.SampleRate {
		t.Errorf("header sample rate %v, expected %v", rate, tapefour.SampleRate)
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		t.Errorf("header format %v, expected 1 (PCM)", format)
	}
}

func TestReadWavRejectsWrongRate(t *testing.T) {
	data, err := tapefour.Wav(testSignal(100), true)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	binary.LittleEndian.PutUint32(data[24:28], 48000)
	if _, err := tapefour.ReadWav(data); err == nil {
		t.Errorf("expected an error for a 48 kHz file")
	}
}

func TestReadWavRejectsGarbage(t *testing.T) {
	if _, err := tapefour.ReadWav([]byte("not a wav file at all")); err == nil {
		t.Errorf("expected an error for garbage input")
	}
}

func TestRawHasNoHeader(t *testing.T) {
	buffer := testSignal(100)
	data, err := tapefour.Raw(buffer, true)
	if err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	if len(data) != len(buffer)*2*2 {
		t.Errorf("raw length %v, expected %v", len(data), len(buffer)*2*2)
	}
}
