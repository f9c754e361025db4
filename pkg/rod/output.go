package rod

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// ErrRange is returned by SelectRange for bounds outside the rod.
var ErrRange = errors.New("rod: L range outside the extracted rod")

// negligible is the magnitude below which L and structure factor are
// treated as an unset row.
const negligible = 1e-4

// WriteProfiles writes the fitted rocking curves of r: for every accepted
// row one line with L and the per-image intensities separated by ", ",
// then the fitted expression. Output stops at the first row whose images
// are all zero.
func WriteProfiles(w io.Writer, r *Rod) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < r.Len(); i++ {
		p := r.Fitted[i]
		if allZero(p[1:]) {
			break
		}
		vals := make([]string, len(p))
		for j, v := range p {
			vals[j] = fmt.Sprintf("%.3f", v)
		}
		bw.WriteString(strings.Join(vals, ", "))
		bw.WriteString("\n")
		bw.WriteString(r.Functions[i])
		bw.WriteString("\n")
	}
	return bw.Flush()
}

func allZero(vs []float64) bool {
	for _, v := range vs {
		if v != 0 {
			return false
		}
	}
	return true
}

// TableRow is one line of the results table.
type TableRow struct {
	L               float64
	Intensity       float64
	StructureFactor float64
	Error           float64
}

// isSpike reports whether sf[i] is ten times above or below both
// neighbours, which marks a misfit.
func isSpike(sf []float64, i int) bool {
	if i == 0 || i == len(sf)-1 {
		return false
	}
	high := sf[i] > 10*sf[i+1] && sf[i] > 10*sf[i-1]
	low := 10*sf[i] < sf[i+1] && 10*sf[i] < sf[i-1]
	return high || low
}

// Table returns the accepted rows without empty rows and isolated
// structure factor spikes or dips.
func (r *Rod) Table() []TableRow {
	l := r.Values(L)
	sf := r.Values(StructureFactor)
	var out []TableRow
	for i := range l {
		if math.Abs(l[i]) < negligible && math.Abs(sf[i]) < negligible {
			continue
		}
		if isSpike(sf, i) {
			continue
		}
		out = append(out, TableRow{
			L:               l[i],
			Intensity:       r.Value(Intensity, i),
			StructureFactor: sf[i],
			Error:           r.Value(Error, i),
		})
	}
	return out
}

// SelectRange returns the L and structure factor series of the accepted
// rows with L between a and b, in either order, dropping interior spikes.
func (r *Rod) SelectRange(a, b float64) (l, sf []float64, err error) {
	lo, hi := math.Min(a, b), math.Max(a, b)
	all := r.Values(L)
	allSF := r.Values(StructureFactor)
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%w: rod is empty", ErrRange)
	}
	minL, maxL := all[0], all[0]
	for _, v := range all {
		minL, maxL = math.Min(minL, v), math.Max(maxL, v)
	}
	if lo < minL || hi > maxL {
		return nil, nil, fmt.Errorf("%w: [%.3f, %.3f] not within [%.3f, %.3f]", ErrRange, lo, hi, minL, maxL)
	}

	var idx []int
	for i, v := range all {
		if v >= lo && v <= hi {
			idx = append(idx, i)
		}
	}
	sel := make([]float64, len(idx))
	for k, i := range idx {
		sel[k] = allSF[i]
	}
	for k, i := range idx {
		if isSpike(sel, k) {
			continue
		}
		l = append(l, all[i])
		sf = append(sf, allSF[i])
	}
	return l, sf, nil
}
