package cltest

import (
	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

func (r *Runtime) GetPlatformIDs(dst []opencl.PlatformID) (uint32, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetPlatformIDs"); failed {
		return 0, st
	}

	if len(r.platIDs) == 0 {
		return 0, opencl.PlatformNotFoundKHR
	}
	n := copy(dst, r.platIDs)
	if dst == nil {
		n = len(r.platIDs)
	}
	return uint32(n), opencl.Success
}

func (r *Runtime) GetPlatformInfo(p opencl.PlatformID, param opencl.PlatformInfo) (string, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetPlatformInfo"); failed {
		return "", st
	}

	i, ok := r.platformIndex(p)
	if !ok {
		return "", opencl.InvalidPlatform
	}
	plat := r.platforms[i]
	switch param {
	case opencl.PlatformName:
		return plat.Name, opencl.Success
	case opencl.PlatformVendor:
		return plat.Vendor, opencl.Success
	case opencl.PlatformVersion:
		return plat.Version, opencl.Success
	case opencl.PlatformProfile:
		return "FULL_PROFILE", opencl.Success
	default:
		return "", opencl.InvalidValue
	}
}

func (r *Runtime) GetDeviceIDs(p opencl.PlatformID, t opencl.DeviceType, dst []opencl.DeviceID) (uint32, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetDeviceIDs"); failed {
		return 0, st
	}

	pi, ok := r.platformIndex(p)
	if !ok {
		return 0, opencl.InvalidPlatform
	}

	var matched []opencl.DeviceID
	for di, dev := range r.platforms[pi].Devices {
		if dev.Type&t != 0 {
			matched = append(matched, r.devIDs[deviceRef{platform: pi, index: di}])
		}
	}
	if len(matched) == 0 {
		return 0, opencl.DeviceNotFound
	}
	n := copy(dst, matched)
	if dst == nil {
		n = len(matched)
	}
	return uint32(n), opencl.Success
}

func (r *Runtime) GetDeviceInfoString(d opencl.DeviceID, param opencl.DeviceInfo) (string, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetDeviceInfo"); failed {
		return "", st
	}

	dev, _, ok := r.device(d)
	if !ok {
		return "", opencl.InvalidDevice
	}
	switch param {
	case opencl.DeviceInfoName:
		return dev.Name, opencl.Success
	case opencl.DeviceInfoVendor:
		return dev.Vendor, opencl.Success
	case opencl.DeviceInfoVersion:
		return "OpenCL 1.2", opencl.Success
	case opencl.DeviceInfoDriverVersion:
		return "cltest", opencl.Success
	default:
		return "", opencl.InvalidValue
	}
}

func (r *Runtime) GetDeviceInfoUint(d opencl.DeviceID, param opencl.DeviceInfo) (uint64, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetDeviceInfo"); failed {
		return 0, st
	}

	dev, _, ok := r.device(d)
	if !ok {
		return 0, opencl.InvalidDevice
	}
	switch param {
	case opencl.DeviceInfoType:
		return uint64(dev.Type), opencl.Success
	case opencl.DeviceInfoGlobalMemSize:
		return dev.GlobalMemSize, opencl.Success
	case opencl.DeviceInfoMaxWorkGroupSize:
		return dev.MaxWorkGroupSize, opencl.Success
	case opencl.DeviceInfoMaxComputeUnits:
		return dev.MaxComputeUnits, opencl.Success
	default:
		return 0, opencl.InvalidValue
	}
}

func (r *Runtime) CreateContext(devices []opencl.DeviceID) (opencl.Context, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clCreateContext"); failed {
		return 0, st
	}

	if len(devices) == 0 {
		return 0, opencl.InvalidValue
	}
	platform := -1
	for _, d := range devices {
		_, ref, ok := r.device(d)
		if !ok {
			return 0, opencl.InvalidDevice
		}
		// All devices of a context must come from one platform.
		if platform >= 0 && ref.platform != platform {
			return 0, opencl.InvalidDevice
		}
		platform = ref.platform
	}

	h := opencl.Context(r.handle())
	r.contexts[h] = &contextObj{devices: append([]opencl.DeviceID(nil), devices...)}
	return h, opencl.Success
}

func (r *Runtime) CreateCommandQueue(ctx opencl.Context, d opencl.DeviceID) (opencl.CommandQueue, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clCreateCommandQueue"); failed {
		return 0, st
	}

	c, ok := r.contexts[ctx]
	if !ok {
		return 0, opencl.InvalidContext
	}
	if !containsDevice(c.devices, d) {
		return 0, opencl.InvalidDevice
	}

	h := opencl.CommandQueue(r.handle())
	r.queues[h] = &queueObj{ctx: ctx, device: d}
	return h, opencl.Success
}

func (r *Runtime) CreateBuffer(ctx opencl.Context, flags opencl.MemFlags, size int) (opencl.Mem, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clCreateBuffer"); failed {
		return 0, st
	}

	c, ok := r.contexts[ctx]
	if !ok {
		return 0, opencl.InvalidContext
	}
	switch flags {
	case opencl.MemReadWrite, opencl.MemReadOnly, opencl.MemWriteOnly:
	default:
		return 0, opencl.InvalidValue
	}
	if size <= 0 {
		return 0, opencl.InvalidBufferSize
	}
	for _, d := range c.devices {
		dev, _, _ := r.device(d)
		if uint64(size) > dev.GlobalMemSize {
			return 0, opencl.InvalidBufferSize
		}
	}

	h := opencl.Mem(r.handle())
	r.buffers[h] = &bufferObj{ctx: ctx, flags: flags, data: make([]byte, size)}
	return h, opencl.Success
}

func (r *Runtime) EnqueueWriteBuffer(q opencl.CommandQueue, m opencl.Mem, blocking bool, offset int, src []byte) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clEnqueueWriteBuffer"); failed {
		return st
	}

	qo, b, st := r.transferTargets(q, m, offset, len(src))
	if !st.OK() {
		return st
	}

	staged := append([]byte(nil), src...)
	qo.pending = append(qo.pending, func() opencl.Status {
		copy(b.data[offset:], staged)
		return opencl.Success
	})
	if blocking {
		return r.drain(qo)
	}
	return opencl.Success
}

func (r *Runtime) EnqueueReadBuffer(q opencl.CommandQueue, m opencl.Mem, blocking bool, offset int, dst []byte) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clEnqueueReadBuffer"); failed {
		return st
	}

	qo, b, st := r.transferTargets(q, m, offset, len(dst))
	if !st.OK() {
		return st
	}

	qo.pending = append(qo.pending, func() opencl.Status {
		copy(dst, b.data[offset:offset+len(dst)])
		return opencl.Success
	})
	if blocking {
		return r.drain(qo)
	}
	return opencl.Success
}

func (r *Runtime) transferTargets(q opencl.CommandQueue, m opencl.Mem, offset, n int) (*queueObj, *bufferObj, opencl.Status) {
	qo, ok := r.queues[q]
	if !ok {
		return nil, nil, opencl.InvalidCommandQueue
	}
	b, ok := r.buffers[m]
	if !ok {
		return nil, nil, opencl.InvalidMemObject
	}
	if b.ctx != qo.ctx {
		return nil, nil, opencl.InvalidContext
	}
	if n == 0 || offset < 0 || offset+n > len(b.data) {
		return nil, nil, opencl.InvalidValue
	}
	return qo, b, opencl.Success
}

func (r *Runtime) CreateProgramWithSource(ctx opencl.Context, source string) (opencl.Program, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clCreateProgramWithSource"); failed {
		return 0, st
	}

	if _, ok := r.contexts[ctx]; !ok {
		return 0, opencl.InvalidContext
	}
	if source == "" {
		return 0, opencl.InvalidValue
	}

	h := opencl.Program(r.handle())
	r.programs[h] = &programObj{
		ctx:    ctx,
		source: source,
		logs:   make(map[opencl.DeviceID]string),
	}
	return h, opencl.Success
}

func (r *Runtime) BuildProgram(p opencl.Program, devices []opencl.DeviceID, options string) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clBuildProgram"); failed {
		return st
	}

	prog, ok := r.programs[p]
	if !ok {
		return opencl.InvalidProgram
	}
	ctxDevices := r.contexts[prog.ctx].devices
	if len(devices) == 0 {
		devices = ctxDevices
	}
	for _, d := range devices {
		if !containsDevice(ctxDevices, d) {
			return opencl.InvalidDevice
		}
	}
	if options != "" && !validBuildOptions(options) {
		return opencl.InvalidBuildOptions
	}

	decls, log := compile(prog.source)
	for _, d := range devices {
		prog.logs[d] = log
	}
	if decls == nil {
		prog.built = false
		return opencl.BuildProgramFailure
	}
	prog.decls = decls
	prog.built = true
	return opencl.Success
}

func (r *Runtime) GetProgramBuildLog(p opencl.Program, d opencl.DeviceID) (string, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetProgramBuildInfo"); failed {
		return "", st
	}

	prog, ok := r.programs[p]
	if !ok {
		return "", opencl.InvalidProgram
	}
	if !containsDevice(r.contexts[prog.ctx].devices, d) {
		return "", opencl.InvalidDevice
	}
	return prog.logs[d], opencl.Success
}

func (r *Runtime) CreateKernel(p opencl.Program, name string) (opencl.Kernel, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clCreateKernel"); failed {
		return 0, st
	}

	prog, ok := r.programs[p]
	if !ok {
		return 0, opencl.InvalidProgram
	}
	if !prog.built {
		return 0, opencl.InvalidProgramExecutable
	}
	decl, ok := prog.decls[name]
	if !ok {
		return 0, opencl.InvalidKernelName
	}

	n := len(decl.params)
	h := opencl.Kernel(r.handle())
	r.kernels[h] = &kernelObj{
		program: p,
		name:    name,
		decl:    decl,
		mems:    make([]opencl.Mem, n),
		values:  make([][]byte, n),
		set:     make([]bool, n),
	}
	return h, opencl.Success
}

func (r *Runtime) GetKernelNumArgs(k opencl.Kernel) (uint32, opencl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clGetKernelInfo"); failed {
		return 0, st
	}

	ko, ok := r.kernels[k]
	if !ok {
		return 0, opencl.InvalidKernel
	}
	return uint32(len(ko.decl.params)), opencl.Success
}

func (r *Runtime) SetKernelArgMem(k opencl.Kernel, index uint32, m opencl.Mem) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clSetKernelArg"); failed {
		return st
	}

	ko, ok := r.kernels[k]
	if !ok {
		return opencl.InvalidKernel
	}
	if int(index) >= len(ko.decl.params) {
		return opencl.InvalidArgIndex
	}
	if !ko.decl.params[index].pointer {
		return opencl.InvalidArgSize
	}
	b, ok := r.buffers[m]
	if !ok {
		return opencl.InvalidMemObject
	}
	if b.ctx != r.programs[ko.program].ctx {
		return opencl.InvalidMemObject
	}

	ko.mems[index] = m
	ko.values[index] = nil
	ko.set[index] = true
	return opencl.Success
}

func (r *Runtime) SetKernelArgBytes(k opencl.Kernel, index uint32, value []byte) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clSetKernelArg"); failed {
		return st
	}

	ko, ok := r.kernels[k]
	if !ok {
		return opencl.InvalidKernel
	}
	if int(index) >= len(ko.decl.params) {
		return opencl.InvalidArgIndex
	}
	p := ko.decl.params[index]
	if p.pointer {
		return opencl.InvalidArgValue
	}
	if len(value) != p.size {
		return opencl.InvalidArgSize
	}

	ko.mems[index] = 0
	ko.values[index] = append([]byte(nil), value...)
	ko.set[index] = true
	return opencl.Success
}

func (r *Runtime) EnqueueNDRangeKernel(q opencl.CommandQueue, k opencl.Kernel, globalWorkSize []int) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clEnqueueNDRangeKernel"); failed {
		return st
	}

	qo, ok := r.queues[q]
	if !ok {
		return opencl.InvalidCommandQueue
	}
	ko, ok := r.kernels[k]
	if !ok {
		return opencl.InvalidKernel
	}
	if r.programs[ko.program].ctx != qo.ctx {
		return opencl.InvalidContext
	}
	if len(globalWorkSize) != 1 {
		return opencl.InvalidWorkDimension
	}
	n := globalWorkSize[0]
	if n <= 0 {
		return opencl.InvalidGlobalWorkSize
	}
	for _, set := range ko.set {
		if !set {
			return opencl.InvalidKernelArgs
		}
	}
	impl, ok := r.impls[ko.name]
	if !ok {
		return opencl.InvalidKernel
	}

	// Arguments are captured at enqueue time, as in OpenCL.
	mems := append([]opencl.Mem(nil), ko.mems...)
	values := append([][]byte(nil), ko.values...)
	qo.pending = append(qo.pending, func() opencl.Status {
		args := make([]Arg, len(mems))
		for i, m := range mems {
			if m == 0 {
				args[i] = Arg{Value: values[i]}
				continue
			}
			b, ok := r.buffers[m]
			if !ok {
				return opencl.InvalidMemObject
			}
			if n*4 > len(b.data) {
				return opencl.OutOfResources
			}
			args[i] = Arg{Mem: b.data}
		}
		for gid := 0; gid < n; gid++ {
			impl(gid, args)
		}
		return opencl.Success
	})
	return opencl.Success
}

func (r *Runtime) Finish(q opencl.CommandQueue) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clFinish"); failed {
		return st
	}

	qo, ok := r.queues[q]
	if !ok {
		return opencl.InvalidCommandQueue
	}
	return r.drain(qo)
}

// drain executes queued commands in submission order. Callers must hold r.mu.
func (r *Runtime) drain(qo *queueObj) opencl.Status {
	pending := qo.pending
	qo.pending = nil
	for _, cmd := range pending {
		if st := cmd(); !st.OK() {
			return st
		}
	}
	return opencl.Success
}

func (r *Runtime) ReleaseMemObject(m opencl.Mem) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clReleaseMemObject"); failed {
		return st
	}

	if _, ok := r.buffers[m]; !ok {
		return r.invalidRelease("mem", uintptr(m), opencl.InvalidMemObject)
	}
	delete(r.buffers, m)
	r.recordRelease("mem", uintptr(m))
	return opencl.Success
}

func (r *Runtime) ReleaseKernel(k opencl.Kernel) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clReleaseKernel"); failed {
		return st
	}

	if _, ok := r.kernels[k]; !ok {
		return r.invalidRelease("kernel", uintptr(k), opencl.InvalidKernel)
	}
	delete(r.kernels, k)
	r.recordRelease("kernel", uintptr(k))
	return opencl.Success
}

func (r *Runtime) ReleaseProgram(p opencl.Program) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clReleaseProgram"); failed {
		return st
	}

	if _, ok := r.programs[p]; !ok {
		return r.invalidRelease("program", uintptr(p), opencl.InvalidProgram)
	}
	delete(r.programs, p)
	r.recordRelease("program", uintptr(p))
	return opencl.Success
}

func (r *Runtime) ReleaseCommandQueue(q opencl.CommandQueue) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clReleaseCommandQueue"); failed {
		return st
	}

	qo, ok := r.queues[q]
	if !ok {
		return r.invalidRelease("queue", uintptr(q), opencl.InvalidCommandQueue)
	}
	// Outstanding commands complete before the queue goes away, matching the
	// driver-backed runtime, which waits on the queue before freeing staged
	// host copies.
	r.drain(qo)
	delete(r.queues, q)
	r.recordRelease("queue", uintptr(q))
	return opencl.Success
}

func (r *Runtime) ReleaseContext(ctx opencl.Context) opencl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, failed := r.enter("clReleaseContext"); failed {
		return st
	}

	if _, ok := r.contexts[ctx]; !ok {
		return r.invalidRelease("context", uintptr(ctx), opencl.InvalidContext)
	}
	delete(r.contexts, ctx)
	r.recordRelease("context", uintptr(ctx))
	return opencl.Success
}

func (r *Runtime) recordRelease(kind string, h uintptr) {
	r.dead[h] = kind
	r.released = append(r.released, Released{Kind: kind, Handle: h})
}

func (r *Runtime) invalidRelease(kind string, h uintptr, st opencl.Status) opencl.Status {
	if _, ok := r.dead[h]; ok {
		r.doubleRel = append(r.doubleRel, Released{Kind: kind, Handle: h})
	}
	return st
}

func containsDevice(devices []opencl.DeviceID, d opencl.DeviceID) bool {
	for _, x := range devices {
		if x == d {
			return true
		}
	}
	return false
}
