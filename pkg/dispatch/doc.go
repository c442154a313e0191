// Package dispatch drives one vector computation through an OpenCL device.
//
// A run walks a fixed sequence of stages, each consuming the handles the
// previous one produced:
//
//	platform → devices → context → queue → buffers → upload →
//	program → build → kernel → arguments → launch → finish → readback
//
// Every runtime call is passed through Check, which turns a non-success
// status into a *Error carrying the failing operation, the raw code and the
// pipeline stage. Errors match per-kind sentinels with errors.Is:
//
//	res, err := dispatch.New(opencl.NewRuntime()).Run(ctx, dispatch.Job{
//		A:      a,
//		B:      b,
//		Source: kernelsrc.Default(),
//	})
//	if errors.Is(err, dispatch.ErrKernelCompilation) {
//		var de *dispatch.Error
//		errors.As(err, &de)
//		fmt.Println(de.Diagnostic) // compiler log
//	}
//
// Acquired resources are tracked by a Scope and released newest first on
// every exit path. A release failure is logged and never replaces the
// error that ended the run.
//
// The building blocks (ListPlatforms, CreateContext, Allocate, Build,
// EnqueueKernel and so on) are exported for callers that need a different
// sequence; Pipeline is the fixed one.
package dispatch
