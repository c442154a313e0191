package cltest

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

const addSource = `__kernel void ADD(__global float* a, __global float* b, __global float* c) {
	const int i = get_global_id(0);
	c[i] = a[i] + b[i];
}`

func floatBytes(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.NativeEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(b[i*4:]))
	}
	return out
}

func firstDevice(t *testing.T, rt *Runtime) (opencl.PlatformID, opencl.DeviceID) {
	t.Helper()
	platforms := make([]opencl.PlatformID, 1)
	_, st := rt.GetPlatformIDs(platforms)
	require.Equal(t, opencl.Success, st)
	devices := make([]opencl.DeviceID, 1)
	_, st = rt.GetDeviceIDs(platforms[0], opencl.DeviceTypeAll, devices)
	require.Equal(t, opencl.Success, st)
	return platforms[0], devices[0]
}

func TestEnumeration(t *testing.T) {
	t.Run("default platform", func(t *testing.T) {
		rt := New()
		n, st := rt.GetPlatformIDs(nil)
		require.Equal(t, opencl.Success, st)
		assert.Equal(t, uint32(1), n)

		p, d := firstDevice(t, rt)
		name, st := rt.GetPlatformInfo(p, opencl.PlatformName)
		require.Equal(t, opencl.Success, st)
		assert.Equal(t, "cltest Software Platform", name)

		devName, st := rt.GetDeviceInfoString(d, opencl.DeviceInfoName)
		require.Equal(t, opencl.Success, st)
		assert.Equal(t, "cltest CPU", devName)
	})

	t.Run("no platforms", func(t *testing.T) {
		rt := New(WithPlatforms())
		n, st := rt.GetPlatformIDs(nil)
		assert.Equal(t, uint32(0), n)
		assert.Equal(t, opencl.PlatformNotFoundKHR, st)
	})

	t.Run("type filter", func(t *testing.T) {
		rt := New()
		platforms := make([]opencl.PlatformID, 1)
		rt.GetPlatformIDs(platforms)

		n, st := rt.GetDeviceIDs(platforms[0], opencl.DeviceTypeGPU, nil)
		assert.Equal(t, uint32(0), n)
		assert.Equal(t, opencl.DeviceNotFound, st)

		n, st = rt.GetDeviceIDs(platforms[0], opencl.DeviceTypeCPU, nil)
		assert.Equal(t, uint32(1), n)
		assert.Equal(t, opencl.Success, st)
	})
}

func TestInOrderQueue(t *testing.T) {
	rt := New()
	_, d := firstDevice(t, rt)

	ctx, _ := rt.CreateContext([]opencl.DeviceID{d})
	q, _ := rt.CreateCommandQueue(ctx, d)
	a, _ := rt.CreateBuffer(ctx, opencl.MemReadOnly, 8)
	b, _ := rt.CreateBuffer(ctx, opencl.MemReadOnly, 8)
	c, _ := rt.CreateBuffer(ctx, opencl.MemWriteOnly, 8)

	require.Equal(t, opencl.Success, rt.EnqueueWriteBuffer(q, a, false, 0, floatBytes(1, 2)))
	require.Equal(t, opencl.Success, rt.EnqueueWriteBuffer(q, b, false, 0, floatBytes(10, 20)))

	// Non-blocking writes have not executed yet.
	assert.Equal(t, []float32{0, 0}, bytesFloats(rt.BufferContents(a)))

	prog, _ := rt.CreateProgramWithSource(ctx, addSource)
	require.Equal(t, opencl.Success, rt.BuildProgram(prog, nil, ""))
	k, st := rt.CreateKernel(prog, "ADD")
	require.Equal(t, opencl.Success, st)
	rt.SetKernelArgMem(k, 0, a)
	rt.SetKernelArgMem(k, 1, b)
	rt.SetKernelArgMem(k, 2, c)

	require.Equal(t, opencl.Success, rt.EnqueueNDRangeKernel(q, k, []int{2}))
	require.Equal(t, opencl.Success, rt.Finish(q))

	out := make([]byte, 8)
	require.Equal(t, opencl.Success, rt.EnqueueReadBuffer(q, c, true, 0, out))
	assert.Equal(t, []float32{11, 22}, bytesFloats(out))
}

func TestReleaseQueueCompletesPendingWrites(t *testing.T) {
	rt := New()
	_, d := firstDevice(t, rt)

	ctx, _ := rt.CreateContext([]opencl.DeviceID{d})
	q, _ := rt.CreateCommandQueue(ctx, d)
	a, _ := rt.CreateBuffer(ctx, opencl.MemReadOnly, 8)

	require.Equal(t, opencl.Success, rt.EnqueueWriteBuffer(q, a, false, 0, floatBytes(3, 4)))
	assert.Equal(t, []float32{0, 0}, bytesFloats(rt.BufferContents(a)))

	require.Equal(t, opencl.Success, rt.ReleaseCommandQueue(q))
	assert.Equal(t, []float32{3, 4}, bytesFloats(rt.BufferContents(a)))
	assert.Equal(t, 0, rt.CallCount("clFinish"))
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		source string
		ok     bool
		log    string
	}{
		{"valid", addSource, true, ""},
		{"missing brace", "__kernel void ADD(__global float* a) { a[0] = 1;", false, "expected '}'"},
		{"stray paren", "__kernel void ADD(__global float* a) { a[0] = 1;) }", false, "unexpected ')'"},
		{"no kernels", "float helper(float x) { return x; }", false, "no __kernel functions"},
		{"unknown type", "__kernel void ADD(widget w) { }", false, "unknown type name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := New()
			_, d := firstDevice(t, rt)
			ctx, _ := rt.CreateContext([]opencl.DeviceID{d})
			prog, st := rt.CreateProgramWithSource(ctx, tt.source)
			require.Equal(t, opencl.Success, st)

			st = rt.BuildProgram(prog, []opencl.DeviceID{d}, "")
			if tt.ok {
				assert.Equal(t, opencl.Success, st)
				return
			}
			assert.Equal(t, opencl.BuildProgramFailure, st)
			log, st := rt.GetProgramBuildLog(prog, d)
			require.Equal(t, opencl.Success, st)
			assert.Contains(t, log, tt.log)
		})
	}
}

func TestBuildOptions(t *testing.T) {
	assert.True(t, validBuildOptions("-cl-fast-relaxed-math -D N=5 -DWIDTH=4 -w"))
	assert.False(t, validBuildOptions("--bogus"))
}

func TestKernelArguments(t *testing.T) {
	rt := New()
	_, d := firstDevice(t, rt)
	ctx, _ := rt.CreateContext([]opencl.DeviceID{d})
	prog, _ := rt.CreateProgramWithSource(ctx,
		"__kernel void SCALE(__global float* v, const float f, const unsigned int n) { }")
	require.Equal(t, opencl.Success, rt.BuildProgram(prog, nil, ""))

	_, st := rt.CreateKernel(prog, "MISSING")
	assert.Equal(t, opencl.InvalidKernelName, st)

	k, st := rt.CreateKernel(prog, "SCALE")
	require.Equal(t, opencl.Success, st)

	n, st := rt.GetKernelNumArgs(k)
	require.Equal(t, opencl.Success, st)
	assert.Equal(t, uint32(3), n)

	mem, _ := rt.CreateBuffer(ctx, opencl.MemReadWrite, 16)
	assert.Equal(t, opencl.InvalidArgIndex, rt.SetKernelArgMem(k, 3, mem))
	assert.Equal(t, opencl.InvalidArgSize, rt.SetKernelArgMem(k, 1, mem))
	assert.Equal(t, opencl.InvalidArgValue, rt.SetKernelArgBytes(k, 0, []byte{1, 2, 3, 4}))
	assert.Equal(t, opencl.InvalidArgSize, rt.SetKernelArgBytes(k, 1, []byte{1, 2}))
	assert.Equal(t, opencl.Success, rt.SetKernelArgMem(k, 0, mem))
	assert.Equal(t, opencl.Success, rt.SetKernelArgBytes(k, 1, []byte{0, 0, 128, 63}))

	q, _ := rt.CreateCommandQueue(ctx, d)
	assert.Equal(t, opencl.InvalidKernelArgs, rt.EnqueueNDRangeKernel(q, k, []int{4}))
}

func TestFaultInjection(t *testing.T) {
	rt := New()
	_, d := firstDevice(t, rt)
	ctx, _ := rt.CreateContext([]opencl.DeviceID{d})

	rt.FailOnCall("clCreateBuffer", 2, opencl.MemObjectAllocationFailure)

	_, st := rt.CreateBuffer(ctx, opencl.MemReadOnly, 4)
	assert.Equal(t, opencl.Success, st)
	_, st = rt.CreateBuffer(ctx, opencl.MemReadOnly, 4)
	assert.Equal(t, opencl.MemObjectAllocationFailure, st)
	_, st = rt.CreateBuffer(ctx, opencl.MemReadOnly, 4)
	assert.Equal(t, opencl.Success, st)

	assert.Equal(t, 3, rt.CallCount("clCreateBuffer"))

	rt.FailOn("clFinish", opencl.OutOfResources)
	q, _ := rt.CreateCommandQueue(ctx, d)
	assert.Equal(t, opencl.OutOfResources, rt.Finish(q))
	rt.ClearFaults()
	assert.Equal(t, opencl.Success, rt.Finish(q))
}

func TestLiveAndDoubleRelease(t *testing.T) {
	rt := New()
	_, d := firstDevice(t, rt)
	ctx, _ := rt.CreateContext([]opencl.DeviceID{d})
	mem, _ := rt.CreateBuffer(ctx, opencl.MemReadOnly, 4)

	assert.Equal(t, []string{"context", "mem"}, rt.Live())

	assert.Equal(t, opencl.Success, rt.ReleaseMemObject(mem))
	assert.Equal(t, opencl.InvalidMemObject, rt.ReleaseMemObject(mem))
	assert.Equal(t, opencl.Success, rt.ReleaseContext(ctx))

	assert.Empty(t, rt.Live())
	assert.Equal(t, []Released{{Kind: "mem", Handle: uintptr(mem)}}, rt.DoubleReleases())
	assert.Len(t, rt.Releases(), 2)
}

func TestContextValidation(t *testing.T) {
	second := DefaultPlatform()
	second.Name = "second"
	rt := New(WithPlatforms(DefaultPlatform(), second))

	platforms := make([]opencl.PlatformID, 2)
	rt.GetPlatformIDs(platforms)
	var devices []opencl.DeviceID
	for _, p := range platforms {
		ids := make([]opencl.DeviceID, 1)
		rt.GetDeviceIDs(p, opencl.DeviceTypeAll, ids)
		devices = append(devices, ids[0])
	}

	_, st := rt.CreateContext(devices)
	assert.Equal(t, opencl.InvalidDevice, st, "devices from two platforms")

	_, st = rt.CreateContext(nil)
	assert.Equal(t, opencl.InvalidValue, st)

	ctx, st := rt.CreateContext(devices[:1])
	require.Equal(t, opencl.Success, st)
	_, st = rt.CreateCommandQueue(ctx, devices[1])
	assert.Equal(t, opencl.InvalidDevice, st, "device outside context")
}
