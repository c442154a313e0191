package dispatch

import (
	"fmt"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// NDRange is a one-dimensional work-item index space [0, Global).
type NDRange struct {
	Global int
}

// Range1D returns the index space for n work-items.
func Range1D(n int) NDRange {
	return NDRange{Global: n}
}

// EnqueueKernel submits k over r. It returns once the launch is queued; use
// Finish to wait for it. No local work size is requested.
func (q *Queue) EnqueueKernel(k *Kernel, r NDRange) error {
	if k == nil || k.h == 0 {
		return newError(KernelLaunchFailed, "clEnqueueNDRangeKernel", opencl.InvalidKernel, "kernel is not created")
	}
	if !k.Bound() {
		return newError(KernelLaunchFailed, "clEnqueueNDRangeKernel", opencl.InvalidKernelArgs,
			fmt.Sprintf("kernel %s has unbound parameters", k.name))
	}
	if r.Global <= 0 {
		return newError(KernelLaunchFailed, "clEnqueueNDRangeKernel", opencl.InvalidGlobalWorkSize,
			fmt.Sprintf("global work size must be > 0, got %d", r.Global))
	}

	st := q.ctx.rt.EnqueueNDRangeKernel(q.h, k.h, []int{r.Global})
	return checkAs(KernelLaunchFailed, "clEnqueueNDRangeKernel", st)
}

// Finish blocks until every command previously enqueued on q has completed.
func (q *Queue) Finish() error {
	if err := Check("clFinish", q.ctx.rt.Finish(q.h)); err != nil {
		return inStage(err, StageDispatch)
	}
	return nil
}
