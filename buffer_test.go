package tapefour_test

import (
	"testing"

	"github.com/fxcircus/tapefour"
)

// ramp makes a buffer whose sample values encode their own index, so merges
// and reversals can be checked by value.
func ramp(frames int, offset float32) tapefour.AudioBuffer {
	ret := make(tapefour.AudioBuffer, frames)
	for i := range ret {
		v := offset + float32(i)
		ret[i] = [2]float32{v, -v}
	}
	return ret
}

func TestReverse(t *testing.T) {
	buffer := ramp(1000, 0)
	reversed := tapefour.Reverse(buffer)
	if len(reversed) != len(buffer) {
		t.Fatalf("reversed length %v, expected %v", len(reversed), len(buffer))
	}
	for i := range buffer {
		if reversed[i] != buffer[len(buffer)-1-i] {
			t.Fatalf("reversed[%v] = %v, expected %v", i, reversed[i], buffer[len(buffer)-1-i])
		}
	}
	if buffer[0] != (([2]float32{0, 0})) {
		t.Errorf("input buffer was mutated")
	}
	again := tapefour.Reverse(reversed)
	for i := range buffer {
		if again[i] != buffer[i] {
			t.Fatalf("double reverse changed frame %v: %v != %v", i, again[i], buffer[i])
		}
	}
}

func TestHalfSpeed(t *testing.T) {
	buffer := ramp(500, 1)
	slow := tapefour.HalfSpeed(buffer)
	if len(slow) != 2*len(buffer) {
		t.Fatalf("half speed length %v, expected %v", len(slow), 2*len(buffer))
	}
	for i, frame := range buffer {
		if slow[2*i] != frame {
			t.Fatalf("even frame %v = %v, expected %v", 2*i, slow[2*i], frame)
		}
	}
	// odd frames interpolate between neighbours
	expected := (buffer[0][0] + buffer[1][0]) / 2
	if slow[1][0] != expected {
		t.Errorf("interpolated frame = %v, expected %v", slow[1][0], expected)
	}
	// the last odd frame has no right neighbour and repeats the final frame
	if slow[len(slow)-1] != buffer[len(buffer)-1] {
		t.Errorf("final frame = %v, expected %v", slow[len(slow)-1], buffer[len(buffer)-1])
	}
}

func TestPunchInMergeMiddle(t *testing.T) {
	existing := ramp(tapefour.MsToSamples(2000), 0)
	fresh := ramp(tapefour.MsToSamples(500), 1e6)
	merged := tapefour.PunchInMerge(existing, fresh, 500)
	if len(merged) != len(existing) {
		t.Fatalf("merged length %v, expected %v", len(merged), len(existing))
	}
	at := tapefour.MsToSamples(500)
	if merged[at-1] != existing[at-1] {
		t.Errorf("frame before punch-in changed")
	}
	if merged[at] != fresh[0] {
		t.Errorf("punch region start = %v, expected fresh %v", merged[at], fresh[0])
	}
	out := at + len(fresh)
	if merged[out-1] != fresh[len(fresh)-1] {
		t.Errorf("punch region end = %v, expected fresh %v", merged[out-1], fresh[len(fresh)-1])
	}
	if merged[out] != existing[out] {
		t.Errorf("frame after punch-out = %v, expected preserved %v", merged[out], existing[out])
	}
}

func TestPunchInMergeExtends(t *testing.T) {
	existing := ramp(tapefour.MsToSamples(1000), 0)
	fresh := ramp(tapefour.MsToSamples(1000), 1e6)
	merged := tapefour.PunchInMerge(existing, fresh, 500)
	expected := tapefour.MsToSamples(500) + len(fresh)
	if len(merged) != expected {
		t.Fatalf("merged length %v, expected %v", len(merged), expected)
	}
	if merged[len(merged)-1] != fresh[len(fresh)-1] {
		t.Errorf("extended tail should come from the fresh take")
	}
}

func TestPunchInMergeGapStaysSilent(t *testing.T) {
	existing := ramp(tapefour.MsToSamples(500), 1)
	fresh := ramp(tapefour.MsToSamples(500), 1e6)
	merged := tapefour.PunchInMerge(existing, fresh, 1000)
	gapStart := len(existing)
	gapEnd := tapefour.MsToSamples(1000)
	for i := gapStart; i < gapEnd; i++ {
		if merged[i] != ([2]float32{}) {
			t.Fatalf("gap frame %v = %v, expected silence", i, merged[i])
		}
	}
	if merged[gapEnd] != fresh[0] {
		t.Errorf("punch region should start right after the gap")
	}
}

func TestPunchInMergeAtZeroReplaces(t *testing.T) {
	existing := ramp(100, 1)
	fresh := ramp(200, 1e6)
	merged := tapefour.PunchInMerge(existing, fresh, 0)
	if len(merged) != len(fresh) {
		t.Fatalf("merged length %v, expected %v", len(merged), len(fresh))
	}
	for i := range fresh {
		if merged[i] != fresh[i] {
			t.Fatalf("frame %v = %v, expected fresh %v", i, merged[i], fresh[i])
		}
	}
}
