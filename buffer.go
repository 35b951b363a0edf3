package tapefour

// Reverse returns a copy of the buffer with the samples in reverse order. The
// input is left untouched, so a scheduled source holding the old buffer can
// keep reading it safely.
func Reverse(buffer AudioBuffer) AudioBuffer {
	ret := make(AudioBuffer, len(buffer))
	for i, frame := range buffer {
		ret[len(buffer)-1-i] = frame
	}
	return ret
}

// HalfSpeed renders the buffer at half playback rate: the result is twice as
// long, lasts twice as much and sounds one octave lower. The pitch drop is the
// natural consequence of the rate change and is deliberately not corrected.
// Odd output frames are linearly interpolated between their neighbours.
func HalfSpeed(buffer AudioBuffer) AudioBuffer {
	ret := make(AudioBuffer, len(buffer)*2)
	for i, frame := range buffer {
		ret[i*2] = frame
		next := frame
		if i+1 < len(buffer) {
			next = buffer[i+1]
		}
		ret[i*2+1] = [2]float32{
			(frame[0] + next[0]) / 2,
			(frame[1] + next[1]) / 2,
		}
	}
	return ret
}

// PunchInMerge splices a fresh recording into an existing buffer at an
// arbitrary millisecond offset. The region before the punch and any region
// past the punch-out point are preserved verbatim; the punch region is
// replaced, not mixed. Regions covered by neither buffer stay silent. The
// splice boundaries are hard cuts with no crossfade, so a click at the seam is
// possible when the takes do not line up.
func PunchInMerge(existing, fresh AudioBuffer, punchInStartMs float64) AudioBuffer {
	punchInStart := MsToSamples(punchInStartMs)
	punchOut := punchInStart + len(fresh)
	finalLength := punchOut
	if len(existing) > finalLength {
		finalLength = len(existing)
	}
	ret := make(AudioBuffer, finalLength)
	n := punchInStart
	if n > len(existing) {
		n = len(existing)
	}
	copy(ret[:n], existing[:n])
	copy(ret[punchInStart:punchOut], fresh)
	if len(existing) > punchOut {
		copy(ret[punchOut:], existing[punchOut:])
	}
	return ret
}
