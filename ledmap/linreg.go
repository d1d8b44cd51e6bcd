package ledmap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	executor "github.com/vearne/frameexecutor"
)

// LinReg fits x = a + b*y by least squares over mapped LED positions and returns b.
// With LEDs along a strip, b is how far the strip moves sideways per row.
func LinReg(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d x values for %d y values", executor.ErrMalformedInput, len(x), len(y))
	}
	if len(x) < 2 {
		return 0, fmt.Errorf("%w: need at least 2 points, got %d", executor.ErrMalformedInput, len(x))
	}
	_, slope := stat.LinearRegression(y, x, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, fmt.Errorf("%w: y values do not vary", executor.ErrMalformedInput)
	}
	return slope, nil
}
