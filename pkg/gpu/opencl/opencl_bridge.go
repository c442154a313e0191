//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

package opencl

/*
#cgo linux CFLAGS: -I/opt/rocm/include -I/usr/include
#cgo linux LDFLAGS: -L/opt/rocm/lib -L/usr/lib/x86_64-linux-gnu -lOpenCL
#cgo darwin CFLAGS: -framework OpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL

#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"
)

// bridge implements Runtime on top of the system OpenCL ICD loader.
//
// cl_* pointers never cross into Go-managed memory as integers; each one is
// kept in a handle table and the caller only sees the table key.
type bridge struct {
	mu   sync.Mutex
	next uintptr

	platforms   map[PlatformID]C.cl_platform_id
	platformIDs map[C.cl_platform_id]PlatformID
	devices     map[DeviceID]C.cl_device_id
	deviceIDs   map[C.cl_device_id]DeviceID
	contexts    map[Context]C.cl_context
	queues      map[CommandQueue]*queueState
	mems        map[Mem]C.cl_mem
	programs    map[Program]C.cl_program
	kernels     map[Kernel]C.cl_kernel
}

// queueState tracks C-heap staging copies of host data handed to
// non-blocking writes. OpenCL may read them until the command completes,
// so they are freed only after a successful clFinish, either from Finish or
// from ReleaseCommandQueue.
type queueState struct {
	q       C.cl_command_queue
	staging []unsafe.Pointer
}

// NewRuntime returns the OpenCL runtime backed by the system driver.
func NewRuntime() Runtime {
	return &bridge{
		platforms:   make(map[PlatformID]C.cl_platform_id),
		platformIDs: make(map[C.cl_platform_id]PlatformID),
		devices:     make(map[DeviceID]C.cl_device_id),
		deviceIDs:   make(map[C.cl_device_id]DeviceID),
		contexts:    make(map[Context]C.cl_context),
		queues:      make(map[CommandQueue]*queueState),
		mems:        make(map[Mem]C.cl_mem),
		programs:    make(map[Program]C.cl_program),
		kernels:     make(map[Kernel]C.cl_kernel),
	}
}

// IsAvailable checks if at least one OpenCL platform is installed.
func IsAvailable() bool {
	var n C.cl_uint
	err := C.clGetPlatformIDs(0, nil, &n)
	return err == C.CL_SUCCESS && n > 0
}

func (b *bridge) handle() uintptr {
	b.next++
	return b.next
}

func (b *bridge) GetPlatformIDs(dst []PlatformID) (uint32, Status) {
	var n C.cl_uint
	if len(dst) == 0 {
		err := C.clGetPlatformIDs(0, nil, &n)
		return uint32(n), Status(err)
	}

	ids := make([]C.cl_platform_id, len(dst))
	err := C.clGetPlatformIDs(C.cl_uint(len(ids)), &ids[0], &n)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < int(n) && i < len(dst); i++ {
		h, ok := b.platformIDs[ids[i]]
		if !ok {
			h = PlatformID(b.handle())
			b.platformIDs[ids[i]] = h
			b.platforms[h] = ids[i]
		}
		dst[i] = h
	}
	return uint32(n), Success
}

func (b *bridge) GetPlatformInfo(p PlatformID, param PlatformInfo) (string, Status) {
	b.mu.Lock()
	id, ok := b.platforms[p]
	b.mu.Unlock()
	if !ok {
		return "", InvalidPlatform
	}

	var size C.size_t
	err := C.clGetPlatformInfo(id, C.cl_platform_info(param), 0, nil, &size)
	if err != C.CL_SUCCESS {
		return "", Status(err)
	}
	if size == 0 {
		return "", Success
	}

	buf := make([]byte, int(size))
	err = C.clGetPlatformInfo(id, C.cl_platform_info(param), size, unsafe.Pointer(&buf[0]), nil)
	if err != C.CL_SUCCESS {
		return "", Status(err)
	}
	return cString(buf), Success
}

func (b *bridge) GetDeviceIDs(p PlatformID, t DeviceType, dst []DeviceID) (uint32, Status) {
	b.mu.Lock()
	pid, ok := b.platforms[p]
	b.mu.Unlock()
	if !ok {
		return 0, InvalidPlatform
	}

	var n C.cl_uint
	if len(dst) == 0 {
		err := C.clGetDeviceIDs(pid, C.cl_device_type(t), 0, nil, &n)
		return uint32(n), Status(err)
	}

	ids := make([]C.cl_device_id, len(dst))
	err := C.clGetDeviceIDs(pid, C.cl_device_type(t), C.cl_uint(len(ids)), &ids[0], &n)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < int(n) && i < len(dst); i++ {
		h, ok := b.deviceIDs[ids[i]]
		if !ok {
			h = DeviceID(b.handle())
			b.deviceIDs[ids[i]] = h
			b.devices[h] = ids[i]
		}
		dst[i] = h
	}
	return uint32(n), Success
}

func (b *bridge) GetDeviceInfoString(d DeviceID, param DeviceInfo) (string, Status) {
	b.mu.Lock()
	id, ok := b.devices[d]
	b.mu.Unlock()
	if !ok {
		return "", InvalidDevice
	}

	var size C.size_t
	err := C.clGetDeviceInfo(id, C.cl_device_info(param), 0, nil, &size)
	if err != C.CL_SUCCESS {
		return "", Status(err)
	}
	if size == 0 {
		return "", Success
	}

	buf := make([]byte, int(size))
	err = C.clGetDeviceInfo(id, C.cl_device_info(param), size, unsafe.Pointer(&buf[0]), nil)
	if err != C.CL_SUCCESS {
		return "", Status(err)
	}
	return cString(buf), Success
}

func (b *bridge) GetDeviceInfoUint(d DeviceID, param DeviceInfo) (uint64, Status) {
	b.mu.Lock()
	id, ok := b.devices[d]
	b.mu.Unlock()
	if !ok {
		return 0, InvalidDevice
	}

	var size C.size_t
	err := C.clGetDeviceInfo(id, C.cl_device_info(param), 0, nil, &size)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	switch size {
	case 4:
		var v C.cl_uint
		err = C.clGetDeviceInfo(id, C.cl_device_info(param), size, unsafe.Pointer(&v), nil)
		return uint64(v), Status(err)
	case 8:
		var v C.cl_ulong
		err = C.clGetDeviceInfo(id, C.cl_device_info(param), size, unsafe.Pointer(&v), nil)
		return uint64(v), Status(err)
	default:
		return 0, InvalidValue
	}
}

func (b *bridge) CreateContext(devices []DeviceID) (Context, Status) {
	if len(devices) == 0 {
		return 0, InvalidValue
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]C.cl_device_id, len(devices))
	for i, d := range devices {
		id, ok := b.devices[d]
		if !ok {
			return 0, InvalidDevice
		}
		ids[i] = id
	}

	var err C.cl_int
	ctx := C.clCreateContext(nil, C.cl_uint(len(ids)), &ids[0], nil, nil, &err)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	h := Context(b.handle())
	b.contexts[h] = ctx
	return h, Success
}

func (b *bridge) CreateCommandQueue(ctx Context, d DeviceID) (CommandQueue, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contexts[ctx]
	if !ok {
		return 0, InvalidContext
	}
	id, ok := b.devices[d]
	if !ok {
		return 0, InvalidDevice
	}

	var err C.cl_int
	q := C.clCreateCommandQueue(c, id, 0, &err)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	h := CommandQueue(b.handle())
	b.queues[h] = &queueState{q: q}
	return h, Success
}

func (b *bridge) CreateBuffer(ctx Context, flags MemFlags, size int) (Mem, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contexts[ctx]
	if !ok {
		return 0, InvalidContext
	}

	var err C.cl_int
	mem := C.clCreateBuffer(c, C.cl_mem_flags(flags), C.size_t(size), nil, &err)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	h := Mem(b.handle())
	b.mems[h] = mem
	return h, Success
}

func (b *bridge) EnqueueWriteBuffer(q CommandQueue, m Mem, blocking bool, offset int, src []byte) Status {
	if len(src) == 0 {
		return InvalidValue
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	qs, ok := b.queues[q]
	if !ok {
		return InvalidCommandQueue
	}
	mem, ok := b.mems[m]
	if !ok {
		return InvalidMemObject
	}

	if blocking {
		err := C.clEnqueueWriteBuffer(qs.q, mem, C.CL_TRUE, C.size_t(offset), C.size_t(len(src)),
			unsafe.Pointer(&src[0]), 0, nil, nil)
		return Status(err)
	}

	// Go memory must not be retained by C past the call, so non-blocking
	// writes read from a C-heap copy.
	staged := C.CBytes(src)
	err := C.clEnqueueWriteBuffer(qs.q, mem, C.CL_FALSE, C.size_t(offset), C.size_t(len(src)),
		staged, 0, nil, nil)
	if err != C.CL_SUCCESS {
		C.free(staged)
		return Status(err)
	}
	qs.staging = append(qs.staging, staged)
	return Success
}

func (b *bridge) EnqueueReadBuffer(q CommandQueue, m Mem, blocking bool, offset int, dst []byte) Status {
	if len(dst) == 0 {
		return InvalidValue
	}
	// A non-blocking read would let the driver write into Go memory after
	// the call returns.
	if !blocking {
		return InvalidOperation
	}

	b.mu.Lock()
	qs, ok := b.queues[q]
	mem, memOK := b.mems[m]
	b.mu.Unlock()
	if !ok {
		return InvalidCommandQueue
	}
	if !memOK {
		return InvalidMemObject
	}

	err := C.clEnqueueReadBuffer(qs.q, mem, C.CL_TRUE, C.size_t(offset), C.size_t(len(dst)),
		unsafe.Pointer(&dst[0]), 0, nil, nil)
	return Status(err)
}

func (b *bridge) CreateProgramWithSource(ctx Context, source string) (Program, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contexts[ctx]
	if !ok {
		return 0, InvalidContext
	}

	src := C.CString(source)
	defer C.free(unsafe.Pointer(src))

	var err C.cl_int
	prog := C.clCreateProgramWithSource(c, 1, &src, nil, &err)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	h := Program(b.handle())
	b.programs[h] = prog
	return h, Success
}

func (b *bridge) BuildProgram(p Program, devices []DeviceID, options string) Status {
	b.mu.Lock()
	prog, ok := b.programs[p]
	ids := make([]C.cl_device_id, 0, len(devices))
	for _, d := range devices {
		id, found := b.devices[d]
		if !found {
			b.mu.Unlock()
			return InvalidDevice
		}
		ids = append(ids, id)
	}
	b.mu.Unlock()
	if !ok {
		return InvalidProgram
	}

	var opts *C.char
	if options != "" {
		opts = C.CString(options)
		defer C.free(unsafe.Pointer(opts))
	}

	var devPtr *C.cl_device_id
	if len(ids) > 0 {
		devPtr = &ids[0]
	}
	return Status(C.clBuildProgram(prog, C.cl_uint(len(ids)), devPtr, opts, nil, nil))
}

func (b *bridge) GetProgramBuildLog(p Program, d DeviceID) (string, Status) {
	b.mu.Lock()
	prog, ok := b.programs[p]
	id, devOK := b.devices[d]
	b.mu.Unlock()
	if !ok {
		return "", InvalidProgram
	}
	if !devOK {
		return "", InvalidDevice
	}

	var size C.size_t
	err := C.clGetProgramBuildInfo(prog, id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if err != C.CL_SUCCESS {
		return "", Status(err)
	}
	if size == 0 {
		return "", Success
	}

	buf := make([]byte, int(size))
	err = C.clGetProgramBuildInfo(prog, id, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	if err != C.CL_SUCCESS {
		return "", Status(err)
	}
	return cString(buf), Success
}

func (b *bridge) CreateKernel(p Program, name string) (Kernel, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prog, ok := b.programs[p]
	if !ok {
		return 0, InvalidProgram
	}

	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var err C.cl_int
	k := C.clCreateKernel(prog, cname, &err)
	if err != C.CL_SUCCESS {
		return 0, Status(err)
	}

	h := Kernel(b.handle())
	b.kernels[h] = k
	return h, Success
}

func (b *bridge) GetKernelNumArgs(k Kernel) (uint32, Status) {
	b.mu.Lock()
	kern, ok := b.kernels[k]
	b.mu.Unlock()
	if !ok {
		return 0, InvalidKernel
	}

	var n C.cl_uint
	err := C.clGetKernelInfo(kern, C.CL_KERNEL_NUM_ARGS, C.size_t(unsafe.Sizeof(n)), unsafe.Pointer(&n), nil)
	return uint32(n), Status(err)
}

func (b *bridge) SetKernelArgMem(k Kernel, index uint32, m Mem) Status {
	b.mu.Lock()
	kern, ok := b.kernels[k]
	mem, memOK := b.mems[m]
	b.mu.Unlock()
	if !ok {
		return InvalidKernel
	}
	if !memOK {
		return InvalidMemObject
	}

	return Status(C.clSetKernelArg(kern, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem)))
}

func (b *bridge) SetKernelArgBytes(k Kernel, index uint32, value []byte) Status {
	if len(value) == 0 {
		return InvalidArgSize
	}

	b.mu.Lock()
	kern, ok := b.kernels[k]
	b.mu.Unlock()
	if !ok {
		return InvalidKernel
	}

	return Status(C.clSetKernelArg(kern, C.cl_uint(index), C.size_t(len(value)), unsafe.Pointer(&value[0])))
}

func (b *bridge) EnqueueNDRangeKernel(q CommandQueue, k Kernel, globalWorkSize []int) Status {
	if len(globalWorkSize) == 0 {
		return InvalidWorkDimension
	}

	b.mu.Lock()
	qs, ok := b.queues[q]
	kern, kernOK := b.kernels[k]
	b.mu.Unlock()
	if !ok {
		return InvalidCommandQueue
	}
	if !kernOK {
		return InvalidKernel
	}

	gws := make([]C.size_t, len(globalWorkSize))
	for i, n := range globalWorkSize {
		gws[i] = C.size_t(n)
	}
	err := C.clEnqueueNDRangeKernel(qs.q, kern, C.cl_uint(len(gws)), nil, &gws[0], nil, 0, nil, nil)
	return Status(err)
}

func (b *bridge) Finish(q CommandQueue) Status {
	b.mu.Lock()
	qs, ok := b.queues[q]
	b.mu.Unlock()
	if !ok {
		return InvalidCommandQueue
	}

	err := C.clFinish(qs.q)
	if err == C.CL_SUCCESS {
		b.mu.Lock()
		qs.freeStaging()
		b.mu.Unlock()
	}
	return Status(err)
}

func (b *bridge) ReleaseMemObject(m Mem) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	mem, ok := b.mems[m]
	if !ok {
		return InvalidMemObject
	}
	delete(b.mems, m)
	return Status(C.clReleaseMemObject(mem))
}

func (b *bridge) ReleaseKernel(k Kernel) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	kern, ok := b.kernels[k]
	if !ok {
		return InvalidKernel
	}
	delete(b.kernels, k)
	return Status(C.clReleaseKernel(kern))
}

func (b *bridge) ReleaseProgram(p Program) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	prog, ok := b.programs[p]
	if !ok {
		return InvalidProgram
	}
	delete(b.programs, p)
	return Status(C.clReleaseProgram(prog))
}

func (b *bridge) ReleaseCommandQueue(q CommandQueue) Status {
	b.mu.Lock()
	qs, ok := b.queues[q]
	if ok {
		delete(b.queues, q)
	}
	b.mu.Unlock()
	if !ok {
		return InvalidCommandQueue
	}

	// clReleaseCommandQueue only flushes. Pending non-blocking writes may
	// still read the staging copies, so wait for them before freeing. If the
	// wait fails the copies are leaked rather than freed under the driver.
	fin := C.clFinish(qs.q)
	err := C.clReleaseCommandQueue(qs.q)
	if fin == C.CL_SUCCESS {
		qs.freeStaging()
	}
	if err != C.CL_SUCCESS {
		return Status(err)
	}
	return Status(fin)
}

func (b *bridge) ReleaseContext(ctx Context) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contexts[ctx]
	if !ok {
		return InvalidContext
	}
	delete(b.contexts, ctx)
	return Status(C.clReleaseContext(c))
}

func (qs *queueState) freeStaging() {
	for _, p := range qs.staging {
		C.free(p)
	}
	qs.staging = nil
}

// cString trims the NUL terminator OpenCL includes in string properties.
func cString(buf []byte) string {
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
