// Package experiment holds the calibrated parameters of a HESXRD experiment
// and the geometry derived from them: pixel to millimetre conversion, the
// pixel + sample rotation to (H,K,L) transform and the intensity correction
// factor.
//
// An Experiment is built once from an experiment file and never changes
// afterwards, so a single value can be shared by any number of extractors.
//
// The experiment file is line oriented. Blank lines and lines starting with
// '%' are ignored, every other line is a keyword followed by its values:
//
//	% Beamline calibration
//	PHOTONENERGY            85000
//	HORIZONTALPOLARIZATION  0.98
//	INITIALAZIMUTHALSHIFT   0
//	INCIDENTANGLE           0.04
//	DETECTORDISTANCE        1750
//	LATTICEPARAMETERS       2.75 2.75 3.89
//	LATTICEANGLES           90 90 90
//	DETECTORSIZE            410 410
//	DETECTORRESOLUTION      2048 2048
//	CENTERPIXELCOORDINATES  1050 1009
package experiment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hesxrd/internal/logging"
)

const commentMarker = "%"

// hc in eV*Angstrom, as speed of light times Planck's constant in eV*s
// scaled to Angstrom.
const hc = 299792458 * 0.00004136

// keyword describes one recognized experiment file entry.
type keyword struct {
	name     string
	arity    int
	required bool
	set      func(p *parameters, v []float64)
}

// parameters are the raw values read from the experiment file.
type parameters struct {
	photonEnergy           float64
	horizontalPolarization float64
	omegaShift             float64
	incidentAngle          float64
	detectorDistance       float64
	lattice                [3]float64
	latticeAngles          [3]float64
	detectorSize           [2]float64
	detectorResolution     [2]float64
	center                 [2]float64
}

var keywords = []keyword{
	{"PHOTONENERGY", 1, true, func(p *parameters, v []float64) { p.photonEnergy = v[0] }},
	{"HORIZONTALPOLARIZATION", 1, false, func(p *parameters, v []float64) { p.horizontalPolarization = v[0] }},
	{"INITIALAZIMUTHALSHIFT", 1, false, func(p *parameters, v []float64) { p.omegaShift = v[0] }},
	{"INCIDENTANGLE", 1, false, func(p *parameters, v []float64) { p.incidentAngle = v[0] }},
	{"DETECTORDISTANCE", 1, true, func(p *parameters, v []float64) { p.detectorDistance = v[0] }},
	{"LATTICEPARAMETERS", 3, true, func(p *parameters, v []float64) { copy(p.lattice[:], v) }},
	{"LATTICEANGLES", 3, false, func(p *parameters, v []float64) { copy(p.latticeAngles[:], v) }},
	{"DETECTORSIZE", 2, true, func(p *parameters, v []float64) { copy(p.detectorSize[:], v) }},
	{"DETECTORRESOLUTION", 2, true, func(p *parameters, v []float64) { copy(p.detectorResolution[:], v) }},
	{"CENTERPIXELCOORDINATES", 2, true, func(p *parameters, v []float64) { copy(p.center[:], v) }},
}

func lookupKeyword(name string) (keyword, bool) {
	for _, k := range keywords {
		if strings.EqualFold(k.name, name) {
			return k, true
		}
	}
	return keyword{}, false
}

// Experiment is the immutable experiment geometry. Use Load or Parse to
// construct one.
type Experiment struct {
	parameters

	wavelength   float64
	pixelSize    [2]float64
	pixelSizeRLU float64
	bounds       Bounds
}

// Load reads and parses the experiment file at path.
func Load(path string) (*Experiment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("experiment: open %s: %w", path, err)
	}
	defer f.Close()

	e, err := Parse(f)
	if err != nil {
		return nil, err
	}
	logging.Logger().Debug("experiment loaded", "path", path,
		"wavelength", e.wavelength, "pixelSizeRLU", e.pixelSizeRLU)
	return e, nil
}

// Parse reads an experiment file from r, validates it and computes the
// derived geometry.
func Parse(r io.Reader) (*Experiment, error) {
	p := parameters{latticeAngles: [3]float64{90, 90, 90}}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, commentMarker) {
			continue
		}
		fields := strings.Fields(text)
		kw, ok := lookupKeyword(fields[0])
		if !ok {
			return nil, &ConfigError{Line: lineNo, Text: text, Err: ErrUnknownKeyword}
		}
		if seen[kw.name] {
			return nil, &ConfigError{Line: lineNo, Text: text, Err: ErrDuplicate}
		}
		if len(fields)-1 != kw.arity {
			return nil, &ConfigError{Line: lineNo, Text: text,
				Err: fmt.Errorf("%w: %s takes %d, got %d", ErrArgumentCount, kw.name, kw.arity, len(fields)-1)}
		}
		values := make([]float64, kw.arity)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, &ConfigError{Line: lineNo, Text: text, Err: fmt.Errorf("%w: %q", ErrBadNumber, s)}
			}
			values[i] = v
		}
		kw.set(&p, values)
		seen[kw.name] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("experiment: read: %w", err)
	}

	for _, kw := range keywords {
		if kw.required && !seen[kw.name] {
			return nil, &ConfigError{Err: fmt.Errorf("%w: %s", ErrMissingKeyword, kw.name)}
		}
	}
	return New(p.toConfig())
}

// Config is the plain set of experiment parameters, used to build an
// Experiment programmatically.
type Config struct {
	PhotonEnergy           float64    // eV
	HorizontalPolarization float64    // fraction of horizontally polarized beam, [0,1]
	OmegaShift             float64    // initial azimuthal offset, degrees
	IncidentAngle          float64    // degrees
	DetectorDistance       float64    // mm
	Lattice                [3]float64 // a1, a2, a3 in Angstrom
	LatticeAngles          [3]float64 // alpha, beta, gamma in degrees
	DetectorSize           [2]float64 // mm, x and z
	DetectorResolution     [2]float64 // pixels, x and z
	Center                 [2]float64 // pixels, x and z
}

func (p parameters) toConfig() Config {
	return Config{
		PhotonEnergy:           p.photonEnergy,
		HorizontalPolarization: p.horizontalPolarization,
		OmegaShift:             p.omegaShift,
		IncidentAngle:          p.incidentAngle,
		DetectorDistance:       p.detectorDistance,
		Lattice:                p.lattice,
		LatticeAngles:          p.latticeAngles,
		DetectorSize:           p.detectorSize,
		DetectorResolution:     p.detectorResolution,
		Center:                 p.center,
	}
}

// New validates cfg and computes the derived geometry. It fails with a
// *GeometryError if the transform of the top-left detector pixel, which
// fixes the reciprocal pixel size, cannot be evaluated.
func New(cfg Config) (*Experiment, error) {
	if err := cfg.validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	e := &Experiment{parameters: parameters{
		photonEnergy:           cfg.PhotonEnergy,
		horizontalPolarization: cfg.HorizontalPolarization,
		omegaShift:             cfg.OmegaShift,
		incidentAngle:          cfg.IncidentAngle,
		detectorDistance:       cfg.DetectorDistance,
		lattice:                cfg.Lattice,
		latticeAngles:          cfg.LatticeAngles,
		detectorSize:           cfg.DetectorSize,
		detectorResolution:     cfg.DetectorResolution,
		center:                 cfg.Center,
	}}
	e.wavelength = hc / e.photonEnergy
	e.pixelSize = [2]float64{
		e.detectorSize[0] / e.detectorResolution[0],
		e.detectorSize[1] / e.detectorResolution[1],
	}

	top, err := e.LabToHKL(0, 0, 0)
	if err != nil {
		return nil, err
	}
	e.pixelSizeRLU = top.L() / e.center[1]

	if e.bounds, err = e.computeBounds(top); err != nil {
		return nil, err
	}
	return e, nil
}

func (c Config) validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"PHOTONENERGY", c.PhotonEnergy},
		{"DETECTORDISTANCE", c.DetectorDistance},
		{"LATTICEPARAMETERS a1", c.Lattice[0]},
		{"LATTICEPARAMETERS a2", c.Lattice[1]},
		{"LATTICEPARAMETERS a3", c.Lattice[2]},
		{"DETECTORSIZE x", c.DetectorSize[0]},
		{"DETECTORSIZE z", c.DetectorSize[1]},
		{"DETECTORRESOLUTION x", c.DetectorResolution[0]},
		{"DETECTORRESOLUTION z", c.DetectorResolution[1]},
	}
	for _, p := range positive {
		if !(p.v > 0) {
			return fmt.Errorf("%w: %s must be > 0, got %g", ErrInvalidValue, p.name, p.v)
		}
	}
	if c.HorizontalPolarization < 0 || c.HorizontalPolarization > 1 {
		return fmt.Errorf("%w: HORIZONTALPOLARIZATION must be within [0,1], got %g", ErrInvalidValue, c.HorizontalPolarization)
	}
	for i, a := range c.LatticeAngles {
		if !(a > 0 && a < 180) {
			return fmt.Errorf("%w: LATTICEANGLES[%d] must be within (0,180), got %g", ErrInvalidValue, i, a)
		}
	}
	for i := 0; i < 2; i++ {
		if c.Center[i] <= 0 || c.Center[i] >= c.DetectorResolution[i] {
			return fmt.Errorf("%w: CENTERPIXELCOORDINATES[%d] = %g lies outside the detector", ErrInvalidValue, i, c.Center[i])
		}
	}
	return nil
}

// Config returns a copy of the parameters the experiment was built from.
func (e *Experiment) Config() Config { return e.parameters.toConfig() }

// Wavelength returns the X-ray wavelength in Angstrom.
func (e *Experiment) Wavelength() float64 { return e.wavelength }

// PixelSize returns the horizontal and vertical pixel size in mm.
func (e *Experiment) PixelSize() (x, z float64) { return e.pixelSize[0], e.pixelSize[1] }

// PixelSizeRLU returns the vertical size of one detector pixel in
// reciprocal lattice units of L.
func (e *Experiment) PixelSizeRLU() float64 { return e.pixelSizeRLU }

// DetectorResolution returns the detector size in pixels.
func (e *Experiment) DetectorResolution() (x, z int) {
	return int(e.detectorResolution[0]), int(e.detectorResolution[1])
}

// CenterPixel returns the pixel hit by the direct beam, truncated to
// integer coordinates.
func (e *Experiment) CenterPixel() (x, z int) { return int(e.center[0]), int(e.center[1]) }

// OmegaShift returns the initial azimuthal offset in degrees.
func (e *Experiment) OmegaShift() float64 { return e.omegaShift }

// Bounds returns the reciprocal-space box covered by the detector.
func (e *Experiment) Bounds() Bounds { return e.bounds }

// Format writes the experiment in the experiment file format accepted by
// Parse.
func (e *Experiment) Format(w io.Writer) error {
	c := e.Config()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%% HESXRD experiment\n")
	fmt.Fprintf(bw, "PHOTONENERGY %g\n", c.PhotonEnergy)
	fmt.Fprintf(bw, "HORIZONTALPOLARIZATION %g\n", c.HorizontalPolarization)
	fmt.Fprintf(bw, "INITIALAZIMUTHALSHIFT %g\n", c.OmegaShift)
	fmt.Fprintf(bw, "INCIDENTANGLE %g\n", c.IncidentAngle)
	fmt.Fprintf(bw, "DETECTORDISTANCE %g\n", c.DetectorDistance)
	fmt.Fprintf(bw, "LATTICEPARAMETERS %g %g %g\n", c.Lattice[0], c.Lattice[1], c.Lattice[2])
	fmt.Fprintf(bw, "LATTICEANGLES %g %g %g\n", c.LatticeAngles[0], c.LatticeAngles[1], c.LatticeAngles[2])
	fmt.Fprintf(bw, "DETECTORSIZE %g %g\n", c.DetectorSize[0], c.DetectorSize[1])
	fmt.Fprintf(bw, "DETECTORRESOLUTION %g %g\n", c.DetectorResolution[0], c.DetectorResolution[1])
	fmt.Fprintf(bw, "CENTERPIXELCOORDINATES %g %g\n", c.Center[0], c.Center[1])
	return bw.Flush()
}
