package speakwatch

import "math"

// PeakLevel returns the largest absolute sample value in buf, or 0 for an
// empty buffer. Values above 1.0 from clipped input are returned as is.
func PeakLevel(buf []float32) float32 {
	var peak float32
	for _, s := range buf {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Classify reports whether level counts as speech for threshold.
func Classify(level, threshold float32) bool {
	return level > threshold
}

const activeBit = uint64(1) << 32

func packReading(r Reading) uint64 {
	v := uint64(math.Float32bits(r.Level))
	if r.Active {
		v |= activeBit
	}
	return v
}

func unpackReading(v uint64) Reading {
	return Reading{
		Level:  math.Float32frombits(uint32(v)),
		Active: v&activeBit != 0,
	}
}
