package projection

import (
	"math"

	"hesxrd/pkg/experiment"
)

// Sample is one detector pixel in reciprocal space.
type Sample struct {
	H, K float64
	I    float64
}

// Line holds the samples of one detector row of one image. Functions in
// this package never modify a Line in place.
type Line []Sample

// NewLine pairs reciprocal coordinates with pixel intensities.
func NewLine(hkl []experiment.HKL, intensities []float64) Line {
	n := min(len(hkl), len(intensities))
	line := make(Line, n)
	for i := range line {
		line[i] = Sample{H: hkl[i].H(), K: hkl[i].K(), I: intensities[i]}
	}
	return line
}

// Rotate returns line turned by stepDeg degrees about L, the change of
// (H,K) between two consecutive images of the scan.
func Rotate(line Line, stepDeg float64) Line {
	s, c := math.Sincos(stepDeg * math.Pi / 180)
	out := make(Line, len(line))
	for i, p := range line {
		out[i] = Sample{
			H: c*p.H + s*p.K,
			K: -s*p.H + c*p.K,
			I: p.I,
		}
	}
	return out
}

// WithIntensities returns a copy of line carrying new intensities.
func (line Line) WithIntensities(intensities []float64) Line {
	out := make(Line, len(line))
	copy(out, line)
	for i := range out {
		if i < len(intensities) {
			out[i].I = intensities[i]
		} else {
			out[i].I = 0
		}
	}
	return out
}
