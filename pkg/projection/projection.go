// Package projection builds in-plane (H,K) maps of a rocking scan at
// fixed L.
//
// Every image contributes one detector row per requested L. The first
// image is transformed to reciprocal space with the full geometry, later
// images by rotating the previous samples by the azimuthal step. Each
// (H,K) bin keeps the brightest sample it receives.
package projection

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"hesxrd/pkg/experiment"
)

// DefaultResolution is the number of bins per reciprocal lattice unit.
const DefaultResolution = 300

// ErrShapeMismatch is returned when projections with different grids are
// summed.
var ErrShapeMismatch = errors.New("projection: grids differ in size")

// Projection is the (H,K) intensity map at one L. The grid never changes
// size after New.
type Projection struct {
	l           float64
	resolution  int
	overmeasure int
	limits      [6]int // quantized HMin HMax KMin KMax LMin LMax
	grid        [][]int32
}

// New returns an empty projection at l covering bounds with resolution
// bins per reciprocal unit.
func New(bounds experiment.Bounds, l float64, resolution int) *Projection {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	p := &Projection{l: l, resolution: resolution}
	p.overmeasure = int(float64(resolution) * 0.1)
	if p.overmeasure%2 != 0 {
		p.overmeasure++
	}
	for i, v := range []float64{bounds.HMin, bounds.HMax, bounds.KMin, bounds.KMax, bounds.LMin, bounds.LMax} {
		p.limits[i] = int(math.Round(v * float64(resolution)))
	}
	hBins := abs(p.limits[0]) + p.limits[1] + p.overmeasure + 1
	kBins := abs(p.limits[2]) + p.limits[3] + p.overmeasure + 1
	p.grid = make([][]int32, hBins)
	for i := range p.grid {
		p.grid[i] = make([]int32, kBins)
	}
	return p
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// L returns the out-of-plane coordinate of the projection.
func (p *Projection) L() float64 { return p.l }

func (p *Projection) Resolution() int { return p.resolution }

// Dims returns the number of H and K bins.
func (p *Projection) Dims() (hBins, kBins int) { return len(p.grid), len(p.grid[0]) }

// At returns the value of bin (h, k).
func (p *Projection) At(h, k int) int32 { return p.grid[h][k] }

// Bin returns the grid indices of (H, K) and whether they fall on the grid.
func (p *Projection) Bin(h, k float64) (int, int, bool) {
	hi := int(math.Round(h*float64(p.resolution))) + abs(p.limits[0]) + p.overmeasure/2
	ki := int(math.Round(k*float64(p.resolution))) + abs(p.limits[2]) + p.overmeasure/2
	hBins, kBins := p.Dims()
	if hi < 0 || hi >= hBins || ki < 0 || ki >= kBins {
		return hi, ki, false
	}
	return hi, ki, true
}

// Add folds line into the projection, keeping the per-bin maximum of the
// rounded intensities. It returns the number of samples off the grid.
func (p *Projection) Add(line Line) (dropped int) {
	for _, s := range line {
		h, k, ok := p.Bin(s.H, s.K)
		if !ok {
			dropped++
			continue
		}
		v := int32(math.Round(s.I))
		if v > p.grid[h][k] {
			p.grid[h][k] = v
		}
	}
	return dropped
}

// Sum returns a new projection at l whose bins are the sums of the bins
// of ps. The inputs are not modified.
func Sum(ps []*Projection, l float64) (*Projection, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("projection: nothing to sum")
	}
	first := ps[0]
	out := &Projection{
		l:           l,
		resolution:  first.resolution,
		overmeasure: first.overmeasure,
		limits:      first.limits,
		grid:        make([][]int32, len(first.grid)),
	}
	for i, col := range first.grid {
		out.grid[i] = append([]int32(nil), col...)
	}
	hBins, kBins := first.Dims()
	for _, p := range ps[1:] {
		if h, k := p.Dims(); h != hBins || k != kBins {
			return nil, fmt.Errorf("%w: %dx%d and %dx%d", ErrShapeMismatch, hBins, kBins, h, k)
		}
		for i, col := range p.grid {
			for j, v := range col {
				out.grid[i][j] += v
			}
		}
	}
	return out, nil
}

// Mean returns the mean intensity over the occupied (positive) bins, or 0
// for an empty projection.
func (p *Projection) Mean() float64 {
	var sum float64
	n := 0
	for _, col := range p.grid {
		for _, v := range col {
			if v > 0 {
				sum += float64(v)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Render returns the projection as a row-major width x height raster with
// H along x and +K pointing up. Bins below the mean are zeroed.
func (p *Projection) Render() (pix []float64, width, height int) {
	width, height = p.Dims()
	pix = make([]float64, width*height)
	mean := p.Mean()
	for h, col := range p.grid {
		for k, v := range col {
			if float64(v) < mean {
				continue
			}
			pix[(height-1-k)*width+h] = float64(v)
		}
	}
	return pix, width, height
}

// Image renders the projection to a 16-bit grayscale image scaled so the
// brightest bin is white.
func (p *Projection) Image() *image.Gray16 {
	pix, w, h := p.Render()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	var top float64
	for _, v := range pix {
		top = math.Max(top, v)
	}
	if top == 0 {
		return img
	}
	for i, v := range pix {
		img.SetGray16(i%w, i/w, color.Gray16{Y: uint16(math.Round(v / top * math.MaxUint16))})
	}
	return img
}
