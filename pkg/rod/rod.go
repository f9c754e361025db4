// Package rod extracts crystal truncation rods and surface rods from a
// rocking scan and holds the resulting structure factor profiles.
package rod

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownChannel = errors.New("rod: unknown channel")
	ErrChannelCount   = errors.New("rod: wrong number of channel values")
	ErrRowIndex       = errors.New("rod: row index out of range")
	ErrProfileWidth   = errors.New("rod: profile width does not match image count")
)

// Channel identifies one per-row value of a rod.
type Channel int

const (
	H Channel = iota
	K
	L
	Intensity
	StructureFactor
	Error

	numChannels
)

var channelNames = [numChannels]string{"H", "K", "L", "INT", "STR", "ERR"}

// Channels lists every channel in storage order.
func Channels() []Channel {
	out := make([]Channel, numChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel returns the channel with the given name, ignoring case.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if strings.EqualFold(n, name) {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// Rod is the table produced by one extraction. It has a fixed capacity of
// Size() rows, of which the first Len() were accepted by the fit.
//
// X, Z and Profiles are indexed by sampled path block, the channels,
// Functions and Fitted by accepted row.
type Rod struct {
	channels [numChannels][]float64

	// X and Z hold the representative pixel of each path block.
	X, Z []int

	// Functions holds the fitted expression of each accepted row.
	Functions []string

	// Profiles holds, per path block, L followed by the summed intensity
	// of every image.
	Profiles [][]float64

	// Fitted holds the profiles of the accepted rows.
	Fitted [][]float64

	images   int
	accepted int
	failures []RowFailure
}

// RowFailure records a path block whose rocking curve was skipped.
type RowFailure struct {
	Block int
	L     float64
	Err   error
}

// New allocates a rod for n path blocks over a scan of images frames.
func New(n, images int) *Rod {
	r := &Rod{
		X:         make([]int, n),
		Z:         make([]int, n),
		Functions: make([]string, n),
		Profiles:  make([][]float64, n),
		Fitted:    make([][]float64, n),
		images:    images,
	}
	for c := range r.channels {
		r.channels[c] = make([]float64, n)
	}
	for i := range r.Profiles {
		r.Profiles[i] = make([]float64, images+1)
		r.Fitted[i] = make([]float64, images+1)
	}
	return r
}

// Size returns the row capacity.
func (r *Rod) Size() int { return len(r.X) }

// Len returns the number of accepted rows.
func (r *Rod) Len() int { return r.accepted }

// Images returns the number of frames each profile spans.
func (r *Rod) Images() int { return r.images }

// Failures returns the skipped blocks in path order.
func (r *Rod) Failures() []RowFailure { return append([]RowFailure(nil), r.failures...) }

func (r *Rod) checkRow(row int) error {
	if row < 0 || row >= r.Size() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrRowIndex, row, r.Size())
	}
	return nil
}

// Write stores v in channel c of row.
func (r *Rod) Write(c Channel, row int, v float64) error {
	if c < 0 || c >= numChannels {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, int(c))
	}
	if err := r.checkRow(row); err != nil {
		return err
	}
	r.channels[c][row] = v
	return nil
}

// WriteRow stores all channels of row at once, in Channels() order.
func (r *Rod) WriteRow(row int, values []float64) error {
	if len(values) != int(numChannels) {
		return fmt.Errorf("%w: got %d, want %d", ErrChannelCount, len(values), numChannels)
	}
	if err := r.checkRow(row); err != nil {
		return err
	}
	for c, v := range values {
		r.channels[c][row] = v
	}
	return nil
}

// Value returns channel c of row, or 0 when either is out of range.
func (r *Rod) Value(c Channel, row int) float64 {
	if c < 0 || c >= numChannels || row < 0 || row >= r.Size() {
		return 0
	}
	return r.channels[c][row]
}

// Values returns a copy of channel c over the accepted rows.
func (r *Rod) Values(c Channel) []float64 {
	if c < 0 || c >= numChannels {
		return nil
	}
	return append([]float64(nil), r.channels[c][:r.accepted]...)
}

// Append adds an accepted row after the last one, as when a rod is
// restored from an archive. A nil profile leaves the fitted profile zero.
func (r *Rod) Append(values []float64, function string, profile []float64) error {
	if profile == nil {
		profile = make([]float64, r.images+1)
	}
	return r.accept(values, function, profile)
}

// accept stores an accepted row after the last one.
func (r *Rod) accept(values []float64, function string, profile []float64) error {
	row := r.accepted
	if err := r.WriteRow(row, values); err != nil {
		return err
	}
	if len(profile) != r.images+1 {
		return fmt.Errorf("%w: %d values for %d images", ErrProfileWidth, len(profile), r.images)
	}
	r.Functions[row] = function
	copy(r.Fitted[row], profile)
	r.accepted++
	return nil
}
