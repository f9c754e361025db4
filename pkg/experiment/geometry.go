package experiment

import (
	"math"

	"hesxrd/pkg/matrix"
)

// Axis selects a detector axis.
type Axis int

const (
	AxisX Axis = iota // horizontal, left to right
	AxisZ             // vertical, image row 0 at the top
)

// minL is the lowest L a projection may be requested at.
const minL = 0.01

// HKL is a point in reciprocal space in reciprocal lattice units.
type HKL [3]float64

func (v HKL) H() float64 { return v[0] }
func (v HKL) K() float64 { return v[1] }
func (v HKL) L() float64 { return v[2] }

// Bounds is the reciprocal-space box seen by the detector over a full
// azimuthal rotation.
type Bounds struct {
	HMin, HMax float64
	KMin, KMax float64
	LMin, LMax float64
}

// PixelToMm returns the signed distance in mm between pixel and the
// detector center along axis. Vertical distances grow upwards.
func (e *Experiment) PixelToMm(axis Axis, pixel int) float64 {
	if axis == AxisZ {
		return (e.center[1] - float64(pixel)) * e.pixelSize[1]
	}
	return (float64(pixel) - e.center[0]) * e.pixelSize[0]
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// rotationXY rotates by deg degrees in the horizontal scattering plane.
func rotationXY(deg float64) *matrix.Matrix {
	s, c := math.Sincos(radians(deg))
	m, _ := matrix.New(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
	return m
}

// incidence tilts the sample by the incident angle about the beam axis.
func (e *Experiment) incidence() *matrix.Matrix {
	s, c := math.Sincos(radians(e.incidentAngle))
	m, _ := matrix.New(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
	return m
}

// orientation returns S_mu * S_omega * U * B for sample rotation omega.
func (e *Experiment) orientation(omega float64) (*matrix.Matrix, error) {
	b := matrix.Diagonal(
		2*math.Pi/e.lattice[0],
		2*math.Pi/e.lattice[1],
		2*math.Pi/e.lattice[2],
	)
	ub, err := matrix.Multiply(rotationXY(e.omegaShift), b)
	if err != nil {
		return nil, err
	}
	sub, err := matrix.Multiply(rotationXY(omega), ub)
	if err != nil {
		return nil, err
	}
	return matrix.Multiply(e.incidence(), sub)
}

// momentumTransfer returns the scattering vector q in the lab frame for
// the beam travelling along +y and hitting pixel (x, z).
func (e *Experiment) momentumTransfer(x, z int) *matrix.Matrix {
	dx := e.PixelToMm(AxisX, x)
	dz := e.PixelToMm(AxisZ, z)
	d := e.detectorDistance
	norm := math.Sqrt(dx*dx + d*d + dz*dz)
	k := 2 * math.Pi / e.wavelength
	return matrix.Column(k*dx/norm, k*(d/norm-1), k*dz/norm)
}

// LabToHKL transforms detector pixel (x, z) at sample rotation omega
// (degrees) into reciprocal-space coordinates.
func (e *Experiment) LabToHKL(x, z int, omega float64) (HKL, error) {
	ub, err := e.orientation(omega)
	if err != nil {
		return HKL{}, &GeometryError{X: x, Z: z, Omega: omega, Err: err}
	}
	hkl, err := matrix.LeftDivide(ub, e.momentumTransfer(x, z))
	if err != nil {
		return HKL{}, &GeometryError{X: x, Z: z, Omega: omega, Err: err}
	}
	return HKL{hkl.At(0, 0), hkl.At(1, 0), hkl.At(2, 0)}, nil
}

// RowHKL transforms the first width pixels of detector row z at rotation
// omega. It is equivalent to calling LabToHKL for every pixel but inverts
// the orientation system only once.
func (e *Experiment) RowHKL(z, width int, omega float64) ([]HKL, error) {
	ub, err := e.orientation(omega)
	if err != nil {
		return nil, &GeometryError{X: 0, Z: z, Omega: omega, Err: err}
	}
	inv, err := matrix.Inverse(ub)
	if err != nil {
		return nil, &GeometryError{X: 0, Z: z, Omega: omega, Err: err}
	}
	out := make([]HKL, width)
	for x := range out {
		hkl, err := matrix.Multiply(inv, e.momentumTransfer(x, z))
		if err != nil {
			return nil, &GeometryError{X: x, Z: z, Omega: omega, Err: err}
		}
		out[x] = HKL{hkl.At(0, 0), hkl.At(1, 0), hkl.At(2, 0)}
	}
	return out, nil
}

// TotalCorrectionFactor returns the factor converting the intensity
// integrated at pixel (x, z) of a rocking scan into |F|^2:
//
//	C = Lorentz * polarization * Crod * Cd * Ci
//
// with the area, detector acceptance and beam profile terms equal to 1
// for open slits. The factor is infinite on the vertical line through the
// detector center, where the Lorentz factor diverges.
func (e *Experiment) TotalCorrectionFactor(x, z int) float64 {
	dx := e.PixelToMm(AxisX, x)
	dz := e.PixelToMm(AxisZ, z)
	d2 := e.detectorDistance * e.detectorDistance
	dx2, dz2 := dx*dx, dz*dz
	sinMu, cosMu := math.Sincos(radians(e.incidentAngle))

	lorentz := (1 / cosMu) * math.Sqrt((1+dz2/d2)*(1+d2/dx2))

	pVer := (1 - e.horizontalPolarization) * (1 - 1/((1+d2/dx2)*(1+dz2/d2)))
	s := sinMu/math.Sqrt((1+dx2/d2)*(1+dz2/d2)) + cosMu/math.Sqrt(1+d2/dz2)
	pHor := e.horizontalPolarization * (1 - s*s)

	cRod := 1 / math.Sqrt(1+dz2/d2)
	cD := (dx2 + dz2 + d2) / d2
	cI := math.Sqrt(1 + (dx2+dz2)/d2)

	return lorentz * (pVer + pHor) * cRod * cD * cI
}

func (e *Experiment) computeBounds(top HKL) (Bounds, error) {
	b := Bounds{LMin: minL, LMax: top.L()}
	sizeX, _ := e.DetectorResolution()
	_, cz := e.CenterPixel()

	corners := []struct {
		x     int
		omega float64
		dst   *float64
		idx   int
	}{
		{0, -e.omegaShift, &b.HMin, 0},
		{sizeX, -e.omegaShift, &b.HMax, 0},
		{sizeX, -e.omegaShift + 90, &b.KMin, 1},
		{0, -e.omegaShift + 90, &b.KMax, 1},
	}
	for _, c := range corners {
		hkl, err := e.LabToHKL(c.x, cz, c.omega)
		if err != nil {
			return Bounds{}, err
		}
		*c.dst = hkl[c.idx]
	}
	return b, nil
}

// RowForL returns the detector row that samples L, interpolating linearly
// between the center row (L = 0) and row 0 (L = LMax). The result is
// clamped to the detector.
func (e *Experiment) RowForL(l float64) int {
	_, cz := e.CenterPixel()
	_, sizeZ := e.DetectorResolution()
	row := int(float64(cz) - l*float64(cz)/e.bounds.LMax)
	return clamp(row, 0, sizeZ-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
