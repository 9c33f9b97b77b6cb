// Package histogram bins dataset intensities.
package histogram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidParameter is returned for a malformed Descriptor.
var ErrInvalidParameter = errors.New("invalid histogram parameter")

// Descriptor selects the binning.
type Descriptor struct {
	// BinCount is the number of equal-width bins, at least 1
	BinCount int

	// Min and Max bound the binned intensity range, inclusive
	Min float64
	Max float64

	// Normalize turns counts into frequencies summing to 1
	Normalize bool
}

// Validate checks the descriptor before any work is done.
func (d Descriptor) Validate() error {
	if d.BinCount <= 0 {
		return fmt.Errorf("%w: bin count %d", ErrInvalidParameter, d.BinCount)
	}
	if math.IsNaN(d.Min) || math.IsNaN(d.Max) || d.Max <= d.Min {
		return fmt.Errorf("%w: range [%g, %g]", ErrInvalidParameter, d.Min, d.Max)
	}
	return nil
}

// Dividers returns the BinCount+1 bin edges.
func (d Descriptor) Dividers() []float64 {
	div := make([]float64, d.BinCount+1)
	floats.Span(div, d.Min, d.Max)
	return div
}

// Compute bins values. Values outside [Min, Max] are not counted; Max falls
// in the last bin. With Normalize set and nothing counted every bin is 0.
func Compute(ctx context.Context, values []float64, d Descriptor) ([]float64, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	inRange := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= d.Min && v <= d.Max {
			inRange = append(inRange, v)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Float64s(inRange)

	// stat.Histogram uses half-open bins, so the top edge is nudged up to
	// keep Max in the last bin.
	div := d.Dividers()
	div[len(div)-1] = math.Nextafter(d.Max, math.Inf(1))

	counts := make([]float64, d.BinCount)
	if len(inRange) > 0 {
		counts = stat.Histogram(counts, div, inRange, nil)
	}

	if d.Normalize {
		if total := floats.Sum(counts); total > 0 {
			floats.Scale(1/total, counts)
		}
	}
	return counts, nil
}
