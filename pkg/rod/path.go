package rod

import "image"

const defaultLineWidth = 18

// Region is the detector area a rod is extracted from: a Line or a Rect.
type Region interface {
	path() []image.Point
	defaultWidth() int
}

// Line is a segment between two pixels. The rod is sampled at one point
// per detector row between the end points.
type Line struct {
	X1, Y1, X2, Y2 int
}

// Rect is a rectangle whose vertical centerline is sampled, rows Y to
// Y+H-1.
type Rect struct {
	X, Y, W, H int
}

// Path returns the sampled pixels of r from top to bottom.
func Path(r Region) []image.Point {
	if r == nil {
		return nil
	}
	return r.path()
}

func (l Line) defaultWidth() int { return defaultLineWidth }

func (l Line) path() []image.Point {
	x1, y1, x2, y2 := l.X1, l.Y1, l.X2, l.Y2
	if y1 > y2 {
		x1, y1, x2, y2 = x2, y2, x1, y1
	}
	dy := y2 - y1
	if dy == 0 {
		return []image.Point{{X: (x1 + x2) / 2, Y: y1}}
	}
	pts := make([]image.Point, dy+1)
	for i := range pts {
		// Nearest pixel on the segment, rounding half away from x1.
		num := 2*i*(x2-x1) + sign(x2-x1)*dy
		pts[i] = image.Point{X: x1 + num/(2*dy), Y: y1 + i}
	}
	return pts
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func (r Rect) defaultWidth() int { return r.W }

func (r Rect) path() []image.Point {
	if r.H < 1 {
		return nil
	}
	cx := r.X + (r.W+1)/2
	return Line{X1: cx, Y1: r.Y, X2: cx, Y2: r.Y + r.H - 1}.path()
}
