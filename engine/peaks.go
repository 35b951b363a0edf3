package engine

import (
	"github.com/fxcircus/tapefour"
	"github.com/viterin/vek/vek32"
)

// bufferPeaks reduces a buffer to at most points peak samples, each the
// absolute maximum over its window across both channels. Used to regenerate
// a waveform for a buffer that never went through the live peak feed.
func bufferPeaks(buffer tapefour.AudioBuffer, points int) []PeakPoint {
	if len(buffer) == 0 || points <= 0 {
		return nil
	}
	window := (len(buffer) + points - 1) / points
	scratch := make([]float32, 2*window)
	var ret []PeakPoint
	for from := 0; from < len(buffer); from += window {
		to := from + window
		if to > len(buffer) {
			to = len(buffer)
		}
		s := scratch[:2*(to-from)]
		buffer[from:to].Interleave(s)
		vek32.Abs_Inplace(s)
		ret = append(ret, PeakPoint{
			PositionMs: tapefour.SamplesToMs(from),
			Peak:       vek32.Max(s),
		})
	}
	return ret
}
