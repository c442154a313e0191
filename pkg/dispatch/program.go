package dispatch

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// Program is kernel source submitted to a context, built or not.
type Program struct {
	ctx   *Context
	h     opencl.Program
	built bool
}

// CreateProgram submits source to the context without compiling it. The
// source is passed through as-is; an empty string is left for the runtime
// to reject.
func (c *Context) CreateProgram(source string) (*Program, error) {
	h, st := c.rt.CreateProgramWithSource(c.h, source)
	if err := checkAs(ProgramCreationFailed, "clCreateProgramWithSource", st); err != nil {
		return nil, err
	}
	return &Program{ctx: c, h: h}, nil
}

// Build compiles the program for devices. On failure the error carries the
// build log of every device that produced one.
func (p *Program) Build(devices []opencl.DeviceID, options string) error {
	st := p.ctx.rt.BuildProgram(p.h, devices, options)
	if st.OK() {
		p.built = true
		return nil
	}
	return newError(KernelCompilationFailed, "clBuildProgram", st, p.buildLog(devices, st))
}

func (p *Program) buildLog(devices []opencl.DeviceID, st opencl.Status) string {
	if len(devices) == 0 {
		devices = p.ctx.devices
	}

	var logs []string
	for _, d := range devices {
		log, lst := p.ctx.rt.GetProgramBuildLog(p.h, d)
		if !lst.OK() {
			continue
		}
		if log = strings.TrimSpace(log); log != "" {
			logs = append(logs, log)
		}
	}
	if len(logs) == 0 {
		return "build failed without a compiler log (" + st.String() + ")"
	}
	return strings.Join(logs, "\n")
}

// Built reports whether Build succeeded.
func (p *Program) Built() bool {
	return p.built
}

// Release releases the program. Calling it again is a no-op.
func (p *Program) Release() error {
	if p.h == 0 {
		return nil
	}
	st := p.ctx.rt.ReleaseProgram(p.h)
	p.h = 0
	return Check("clReleaseProgram", st)
}

// Kernel is a named entry point of a built program.
type Kernel struct {
	program *Program
	h       opencl.Kernel
	name    string
	bound   []bool
}

// CreateKernel extracts the entry point name from a built program.
func (p *Program) CreateKernel(name string) (*Kernel, error) {
	if !p.built {
		return nil, newError(EntryPointNotFound, "clCreateKernel", opencl.InvalidProgramExecutable,
			"program has not been built")
	}

	rt := p.ctx.rt
	h, st := rt.CreateKernel(p.h, name)
	if err := checkAs(EntryPointNotFound, "clCreateKernel", st); err != nil {
		err.(*Error).Diagnostic = fmt.Sprintf("no kernel named %q in program", name)
		return nil, err
	}

	n, st := rt.GetKernelNumArgs(h)
	if err := Check("clGetKernelInfo", st); err != nil {
		// The kernel exists but is not handed to the caller, so it is
		// released here rather than by teardown.
		rt.ReleaseKernel(h)
		return nil, inStage(err, StageBuild)
	}
	return &Kernel{program: p, h: h, name: name, bound: make([]bool, n)}, nil
}

// Name returns the entry point name.
func (k *Kernel) Name() string {
	return k.name
}

// NumArgs returns the number of parameters the kernel declares.
func (k *Kernel) NumArgs() int {
	return len(k.bound)
}

// Bound reports whether every declared parameter has a value.
func (k *Kernel) Bound() bool {
	for _, b := range k.bound {
		if !b {
			return false
		}
	}
	return true
}

// Release releases the kernel. Calling it again is a no-op.
func (k *Kernel) Release() error {
	if k.h == 0 {
		return nil
	}
	st := k.program.ctx.rt.ReleaseKernel(k.h)
	k.h = 0
	return Check("clReleaseKernel", st)
}

// Arg is a positional kernel argument.
type Arg interface {
	bind(rt opencl.Runtime, k opencl.Kernel, index uint32) opencl.Status
}

type bufferArg struct{ buf *Buffer }

func (a bufferArg) bind(rt opencl.Runtime, k opencl.Kernel, index uint32) opencl.Status {
	if a.buf == nil || a.buf.h == 0 {
		return opencl.InvalidMemObject
	}
	return rt.SetKernelArgMem(k, index, a.buf.h)
}

type scalarArg []byte

func (a scalarArg) bind(rt opencl.Runtime, k opencl.Kernel, index uint32) opencl.Status {
	return rt.SetKernelArgBytes(k, index, a)
}

// BufferArg binds a device buffer to a __global pointer parameter.
func BufferArg(b *Buffer) Arg {
	return bufferArg{buf: b}
}

// Uint32Arg binds a 32-bit unsigned scalar.
func Uint32Arg(v uint32) Arg {
	return scalarArg(binary.NativeEndian.AppendUint32(nil, v))
}

// Float32Arg binds a 32-bit float scalar.
func Float32Arg(v float32) Arg {
	return scalarArg(binary.NativeEndian.AppendUint32(nil, math.Float32bits(v)))
}

// SetArg binds value to the parameter at index.
func (k *Kernel) SetArg(index int, value Arg) error {
	if index < 0 || index >= len(k.bound) {
		return newError(InvalidArgumentBinding, "clSetKernelArg", opencl.InvalidArgIndex,
			fmt.Sprintf("kernel %s declares %d parameters, index %d is out of range", k.name, len(k.bound), index))
	}
	if value == nil {
		return newError(InvalidArgumentBinding, "clSetKernelArg", opencl.InvalidArgValue, "nil argument")
	}

	st := value.bind(k.program.ctx.rt, k.h, uint32(index))
	if err := checkAs(InvalidArgumentBinding, "clSetKernelArg", st); err != nil {
		err.(*Error).Diagnostic = fmt.Sprintf("argument %d of kernel %s", index, k.name)
		return err
	}
	k.bound[index] = true
	return nil
}
