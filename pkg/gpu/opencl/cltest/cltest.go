// Package cltest provides an in-memory opencl.Runtime for tests.
//
// The fake models one or more software platforms whose devices execute
// kernels as Go functions. It keeps the parts of OpenCL that the dispatch
// pipeline depends on:
//   - two-call enumeration and CL_DEVICE_NOT_FOUND on empty device queries
//   - context/device membership checks
//   - an in-order command queue: non-blocking writes and kernel launches are
//     recorded and only execute on Finish or a blocking transfer
//   - program "builds" that check kernel declarations and bracket balance and
//     produce a build log on failure
//   - kernel parameter counts and argument size checks
//
// On top of that it records every call in a journal, tracks live handles so
// tests can assert that teardown released exactly what was acquired, and
// lets tests inject a status code into any entry point.
//
// Example:
//
//	rt := cltest.New()
//	rt.FailOn("clBuildProgram", opencl.BuildProgramFailure)
//	_, err := dispatch.New(rt).Run(ctx, job)
//	// err is a KernelCompilationFailed *dispatch.Error
//	assert.Empty(t, rt.Live())
package cltest

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// Device describes one simulated compute device.
type Device struct {
	Name             string
	Vendor           string
	Type             opencl.DeviceType
	GlobalMemSize    uint64
	MaxWorkGroupSize uint64
	MaxComputeUnits  uint64
}

// Platform describes one simulated OpenCL implementation.
type Platform struct {
	Name    string
	Vendor  string
	Version string
	Devices []Device
}

// Arg is a kernel argument as seen by a KernelFunc.
type Arg struct {
	// Mem is the buffer's backing storage for pointer parameters.
	Mem []byte
	// Value holds the raw bytes of a scalar parameter.
	Value []byte
}

// Float32 reads element i of a buffer argument.
func (a Arg) Float32(i int) float32 {
	return math.Float32frombits(binary.NativeEndian.Uint32(a.Mem[i*4:]))
}

// SetFloat32 writes element i of a buffer argument.
func (a Arg) SetFloat32(i int, v float32) {
	binary.NativeEndian.PutUint32(a.Mem[i*4:], math.Float32bits(v))
}

// Uint32 decodes a scalar argument.
func (a Arg) Uint32() uint32 {
	return binary.NativeEndian.Uint32(a.Value)
}

// Scalar32 decodes a float scalar argument.
func (a Arg) Scalar32() float32 {
	return math.Float32frombits(binary.NativeEndian.Uint32(a.Value))
}

// KernelFunc executes one work-item with global id gid.
type KernelFunc func(gid int, args []Arg)

// AddKernel is the reference implementation of the ADD entry point:
// c[i] = a[i] + b[i].
func AddKernel(gid int, args []Arg) {
	args[2].SetFloat32(gid, args[0].Float32(gid)+args[1].Float32(gid))
}

// DefaultPlatform is the platform New installs when no WithPlatforms option
// is given.
func DefaultPlatform() Platform {
	return Platform{
		Name:    "cltest Software Platform",
		Vendor:  "cldispatch",
		Version: "OpenCL 1.2 cltest",
		Devices: []Device{{
			Name:             "cltest CPU",
			Vendor:           "cldispatch",
			Type:             opencl.DeviceTypeCPU,
			GlobalMemSize:    1 << 30,
			MaxWorkGroupSize: 256,
			MaxComputeUnits:  4,
		}},
	}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPlatforms replaces the installed platforms. Passing none simulates a
// machine without any OpenCL implementation.
func WithPlatforms(platforms ...Platform) Option {
	return func(r *Runtime) {
		r.platforms = platforms
	}
}

// WithKernel registers the Go implementation of a kernel entry point.
func WithKernel(name string, fn KernelFunc) Option {
	return func(r *Runtime) {
		r.impls[name] = fn
	}
}

// Released identifies one successful release call.
type Released struct {
	Kind   string
	Handle uintptr
}

type fault struct {
	status opencl.Status
	nth    int // 0 fails every call
}

type deviceRef struct {
	platform int
	index    int
}

type contextObj struct {
	devices []opencl.DeviceID
}

type queueObj struct {
	ctx     opencl.Context
	device  opencl.DeviceID
	pending []func() opencl.Status
}

type bufferObj struct {
	ctx   opencl.Context
	flags opencl.MemFlags
	data  []byte
}

type programObj struct {
	ctx    opencl.Context
	source string
	built  bool
	decls  map[string]kernelDecl
	logs   map[opencl.DeviceID]string
}

type kernelObj struct {
	program opencl.Program
	name    string
	decl    kernelDecl
	mems    []opencl.Mem
	values  [][]byte
	set     []bool
}

// Runtime is a fake opencl.Runtime. The zero value is not usable; call New.
type Runtime struct {
	mu sync.Mutex

	platforms []Platform
	impls     map[string]KernelFunc

	next      uintptr
	platIDs   []opencl.PlatformID
	devRefs   map[opencl.DeviceID]deviceRef
	devIDs    map[deviceRef]opencl.DeviceID
	contexts  map[opencl.Context]*contextObj
	queues    map[opencl.CommandQueue]*queueObj
	buffers   map[opencl.Mem]*bufferObj
	programs  map[opencl.Program]*programObj
	kernels   map[opencl.Kernel]*kernelObj
	dead      map[uintptr]string
	calls     []string
	counts    map[string]int
	faults    map[string]fault
	released  []Released
	doubleRel []Released
}

var _ opencl.Runtime = (*Runtime)(nil)

// New creates a fake runtime with DefaultPlatform and the ADD kernel
// registered.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		platforms: []Platform{DefaultPlatform()},
		impls:     map[string]KernelFunc{"ADD": AddKernel},
		devRefs:   make(map[opencl.DeviceID]deviceRef),
		devIDs:    make(map[deviceRef]opencl.DeviceID),
		contexts:  make(map[opencl.Context]*contextObj),
		queues:    make(map[opencl.CommandQueue]*queueObj),
		buffers:   make(map[opencl.Mem]*bufferObj),
		programs:  make(map[opencl.Program]*programObj),
		kernels:   make(map[opencl.Kernel]*kernelObj),
		dead:      make(map[uintptr]string),
		counts:    make(map[string]int),
		faults:    make(map[string]fault),
	}
	for _, opt := range opts {
		opt(r)
	}

	for pi, p := range r.platforms {
		r.platIDs = append(r.platIDs, opencl.PlatformID(r.handle()))
		for di := range p.Devices {
			ref := deviceRef{platform: pi, index: di}
			id := opencl.DeviceID(r.handle())
			r.devRefs[id] = ref
			r.devIDs[ref] = id
		}
	}
	return r
}

func (r *Runtime) handle() uintptr {
	r.next++
	return r.next
}

// FailOn makes every call to op (a cl* entry point name such as
// "clCreateBuffer") return st without side effects.
func (r *Runtime) FailOn(op string, st opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = fault{status: st}
}

// FailOnCall makes only the nth (1-based) call to op return st.
func (r *Runtime) FailOnCall(op string, nth int, st opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = fault{status: st, nth: nth}
}

// ClearFaults removes every injected failure.
func (r *Runtime) ClearFaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = make(map[string]fault)
}

// Calls returns the journal of entry points invoked so far, in order.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallCount returns how many times op was invoked.
func (r *Runtime) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[op]
}

// ResetCalls clears the journal and per-op counters.
func (r *Runtime) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.counts = make(map[string]int)
	r.released = nil
	r.doubleRel = nil
}

// Releases returns every successful release, in call order.
func (r *Runtime) Releases() []Released {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Released(nil), r.released...)
}

// DoubleReleases returns release calls made on handles that had already been
// released.
func (r *Runtime) DoubleReleases() []Released {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Released(nil), r.doubleRel...)
}

// Live returns the kind of every context, queue, buffer, program and kernel
// that has been created and not yet released, sorted.
func (r *Runtime) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []string
	for range r.contexts {
		live = append(live, "context")
	}
	for range r.queues {
		live = append(live, "queue")
	}
	for range r.buffers {
		live = append(live, "mem")
	}
	for range r.programs {
		live = append(live, "program")
	}
	for range r.kernels {
		live = append(live, "kernel")
	}
	sort.Strings(live)
	return live
}

// BufferContents returns a copy of a live buffer's storage.
func (r *Runtime) BufferContents(m opencl.Mem) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[m]
	if !ok {
		return nil
	}
	return append([]byte(nil), b.data...)
}

// enter journals a call and reports an injected failure, if any.
// Callers must hold r.mu.
func (r *Runtime) enter(op string) (opencl.Status, bool) {
	r.calls = append(r.calls, op)
	r.counts[op]++

	f, ok := r.faults[op]
	if !ok {
		return opencl.Success, false
	}
	if f.nth == 0 || f.nth == r.counts[op] {
		return f.status, true
	}
	return opencl.Success, false
}

func (r *Runtime) device(d opencl.DeviceID) (Device, deviceRef, bool) {
	ref, ok := r.devRefs[d]
	if !ok {
		return Device{}, deviceRef{}, false
	}
	return r.platforms[ref.platform].Devices[ref.index], ref, true
}

func (r *Runtime) platformIndex(p opencl.PlatformID) (int, bool) {
	for i, id := range r.platIDs {
		if id == p {
			return i, true
		}
	}
	return 0, false
}
