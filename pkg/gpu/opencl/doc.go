// Package opencl is the raw OpenCL runtime boundary used by the dispatch
// pipeline.
//
// The package exposes a single interface, Runtime, whose methods map one to
// one onto the OpenCL C entry points the pipeline needs (platform and device
// queries, context and queue creation, buffers, programs, kernels, enqueue,
// finish and release). Methods return the raw cl_int as a Status and never
// interpret it; classifying failures is the caller's job (see pkg/dispatch).
//
// # Requirements
//
// For AMD GPUs on Linux:
//   - ROCm (Radeon Open Compute): https://rocm.docs.amd.com/
//   - Or AMD GPU drivers with OpenCL support
//
// For Intel GPUs and CPUs:
//   - Intel oneAPI or Intel OpenCL runtime
//
// For NVIDIA GPUs:
//   - NVIDIA drivers with OpenCL support
//
// CPU-only machines can use PoCL (http://portablecl.org/).
//
// # Build Tags
//
// The cgo bridge is only compiled when the "opencl" build tag is present:
//
//	go build -tags opencl
//
// Without the tag NewRuntime returns a stub that behaves like an ICD loader
// with no installed platforms, so the pipeline fails cleanly at discovery.
//
// # Environment Variables
//
// Linux (AMD ROCm):
//
//	export LD_LIBRARY_PATH=/opt/rocm/opencl/lib:$LD_LIBRARY_PATH
//
// macOS:
//
//	Note: macOS deprecated OpenCL in favor of Metal; the framework still
//	links but is frozen at OpenCL 1.2.
//
// # Handles
//
// PlatformID, DeviceID, Context, CommandQueue, Mem, Program and Kernel are
// opaque integers. The bridge keeps the underlying cl_* pointers in handle
// tables so no C pointer is ever stored in a Go integer. Zero is never a
// valid handle.
//
// # Host memory
//
// Non-blocking writes are staged through a C-heap copy that lives until the
// next Finish (or queue release). Non-blocking reads are rejected with
// CL_INVALID_OPERATION because the driver would write into Go memory after
// the call returned.
//
// # Example
//
//	rt := opencl.NewRuntime()
//	n, st := rt.GetPlatformIDs(nil)
//	if !st.OK() || n == 0 {
//	    log.Fatalf("no OpenCL platforms: %v", st)
//	}
//	platforms := make([]opencl.PlatformID, n)
//	rt.GetPlatformIDs(platforms)
//	name, _ := rt.GetPlatformInfo(platforms[0], opencl.PlatformName)
//	fmt.Println("Platform:", name)
package opencl
