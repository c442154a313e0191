// Package verify checks device results against a host reference.
package verify

import (
	"errors"
	"fmt"
	"math"
)

// ErrMismatch is matched by every *MismatchError.
var ErrMismatch = errors.New("verify: device result differs from host reference")

// Tolerance bounds the difference accepted between two float32 values. A
// pair passes when it is within AbsTol or within RelTol of the larger
// magnitude.
type Tolerance struct {
	AbsTol float32
	RelTol float32
}

// DefaultTolerance accepts an absolute error below 1e-6, enough for one
// float32 addition of values of order 1.
func DefaultTolerance() Tolerance {
	return Tolerance{AbsTol: 1e-6}
}

// NearEqual reports whether a and b agree within tol. Equal infinities and
// two NaNs compare equal.
func NearEqual(a, b float32, tol Tolerance) bool {
	fa, fb := float64(a), float64(b)
	if math.IsNaN(fa) && math.IsNaN(fb) {
		return true
	}
	if a == b {
		return true
	}
	if math.IsInf(fa, 0) || math.IsInf(fb, 0) {
		return false
	}
	diff := math.Abs(fa - fb)
	if diff <= float64(tol.AbsTol) {
		return true
	}
	larger := math.Max(math.Abs(fa), math.Abs(fb))
	return diff <= larger*float64(tol.RelTol)
}

// Add is the host reference for the ADD kernel.
func Add(a, b []float32) []float32 {
	n := min(len(a), len(b))
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] + b[i]
	}
	return out
}

// MismatchError describes the first element outside tolerance.
type MismatchError struct {
	Index    int
	Got      float32
	Want     float32
	AbsError float64
	// Count is the number of elements outside tolerance.
	Count int
	Total int
}

func (e *MismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("verify: result has %d elements, reference has %d", e.Count, e.Total)
	}
	return fmt.Sprintf("verify: %d/%d elements differ, first at c[%d]: got %g, want %g (abs error %.3g)",
		e.Count, e.Total, e.Index, e.Got, e.Want, e.AbsError)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Compare checks got against want element by element. It returns nil when
// every element is within tol, and a *MismatchError otherwise.
func Compare(got, want []float32, tol Tolerance) error {
	if len(got) != len(want) {
		return &MismatchError{Index: -1, Count: len(got), Total: len(want)}
	}

	var mm *MismatchError
	for i := range want {
		if NearEqual(got[i], want[i], tol) {
			continue
		}
		if mm == nil {
			mm = &MismatchError{
				Index:    i,
				Got:      got[i],
				Want:     want[i],
				AbsError: math.Abs(float64(got[i]) - float64(want[i])),
				Total:    len(want),
			}
		}
		mm.Count++
	}
	if mm != nil {
		return mm
	}
	return nil
}
