// Command cldispatch runs an elementwise vector kernel on an OpenCL device.
//
// Usage:
//
//	cldispatch run [flags]
//	cldispatch devices
//	cldispatch history [--limit n]
//
// The run command enumerates the first platform, builds the kernel for every
// matching device, dispatches it over the input vectors on the first device
// and prints one "c[i] = v" line per element.
//
// Exit codes:
//
//	0  success
//	1  discovery failure (no platforms, no devices) or unclassified error
//	2  context or command queue creation failed
//	3  buffer allocation or upload failed
//	4  program creation, compilation, kernel lookup or argument binding failed
//	5  kernel launch, finish or readback failed
//	6  device result differs from the host reference
//	7  invalid configuration or usage
//
// Build with -tags opencl to link against the system OpenCL ICD loader.
// Without the tag the binary reports no platforms.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/cldispatch/pkg/config"
	"github.com/orneryd/cldispatch/pkg/dispatch"
	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
	"github.com/orneryd/cldispatch/pkg/verify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, opencl.NewRuntime())
	stop()
	os.Exit(code)
}

// app carries what every subcommand needs.
type app struct {
	rt     opencl.Runtime
	stdout io.Writer
	stderr io.Writer
}

// execute runs the CLI with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, rt opencl.Runtime) int {
	a := &app{rt: rt, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return dispatch.ExitOK
	}
	var rep *reportedError
	if !errors.As(err, &rep) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cldispatch",
		Short:         "Run a vector kernel on an OpenCL device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.AddCommand(a.runCmd(), a.devicesCmd(), a.historyCmd())
	return root
}

// usageError marks bad flags or configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// reportedError wraps an error that has already been written to stderr.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue *usageError
	switch {
	case errors.As(err, &ue), errors.Is(err, config.ErrInvalid):
		return dispatch.ExitUsage
	case errors.Is(err, verify.ErrMismatch):
		return dispatch.ExitMismatch
	default:
		return dispatch.ExitCode(err)
	}
}
