package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Exit codes beyond the per-stage ones.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitMismatch = 6
	ExitUsage    = 7
)

// ExitCode maps a Run error to a process exit code: the failing stage's
// number for runtime failures, ExitUsage for invalid jobs and ExitFailure
// for anything else, including cancellation.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrInvalidJob) {
		return ExitUsage
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitFailure
	}
	if s := StageOf(err); s != StageUnknown {
		return int(s)
	}
	return ExitFailure
}

// WriteResults writes one "c[i] = v" line per element in index order.
// Values use six significant digits, so 0.65f prints as 0.65.
func WriteResults(w io.Writer, c []float32) error {
	for i, v := range c {
		if _, err := fmt.Fprintf(w, "c[%d] = %s\n", i, strconv.FormatFloat(float64(v), 'g', 6, 32)); err != nil {
			return err
		}
	}
	return nil
}

// Describe renders err for the diagnostics sink: the error kind on the
// first line and the compiler log, if any, after it.
func Describe(err error) string {
	var de *Error
	if !errors.As(err, &de) {
		return err.Error()
	}
	msg := fmt.Sprintf("%s: %s returned %s (%d)", de.Kind, de.Op, de.Code, int32(de.Code))
	if de.Diagnostic != "" {
		msg += "\n" + de.Diagnostic
	}
	return msg
}
