package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
	"github.com/orneryd/cldispatch/pkg/gpu/opencl/cltest"
)

const addSource = `__kernel void ADD(__global float* a, __global float* b, __global float* c) {
	const int i = get_global_id(0);
	c[i] = a[i] + b[i];
}`

// setup enumerates the fake runtime and returns a context with a queue on
// the first device.
func setup(t *testing.T, rt *cltest.Runtime) (*Context, *Queue) {
	t.Helper()
	platforms, err := ListPlatforms(rt)
	require.NoError(t, err)
	devices, err := ListDevices(rt, platforms[0], opencl.DeviceTypeAll)
	require.NoError(t, err)
	c, err := CreateContext(rt, devices)
	require.NoError(t, err)
	q, err := c.CreateCommandQueue(devices[0])
	require.NoError(t, err)
	t.Cleanup(func() {
		q.Release()
		c.Release()
	})
	return c, q
}

func twoDevicePlatform() cltest.Platform {
	p := cltest.DefaultPlatform()
	p.Devices = append(p.Devices, cltest.Device{
		Name:             "cltest GPU",
		Vendor:           "cldispatch",
		Type:             opencl.DeviceTypeGPU,
		GlobalMemSize:    1 << 28,
		MaxWorkGroupSize: 1024,
		MaxComputeUnits:  16,
	})
	return p
}

func TestListPlatforms(t *testing.T) {
	t.Run("none installed", func(t *testing.T) {
		rt := cltest.New(cltest.WithPlatforms())
		_, err := ListPlatforms(rt)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoPlatforms)
		assert.Equal(t, StageDiscovery, StageOf(err))
	})

	t.Run("enumeration order", func(t *testing.T) {
		second := cltest.DefaultPlatform()
		second.Name = "second"
		rt := cltest.New(cltest.WithPlatforms(cltest.DefaultPlatform(), second))

		platforms, err := ListPlatforms(rt)
		require.NoError(t, err)
		require.Len(t, platforms, 2)

		name, err := PlatformName(rt, platforms[1])
		require.NoError(t, err)
		assert.Equal(t, "second", name)
		assert.Equal(t, 2, rt.CallCount("clGetPlatformIDs"))
	})

	t.Run("runtime failure is generic", func(t *testing.T) {
		rt := cltest.New()
		rt.FailOn("clGetPlatformIDs", opencl.OutOfHostMemory)
		_, err := ListPlatforms(rt)
		assert.ErrorIs(t, err, ErrDeviceRuntime)
		assert.Equal(t, StageDiscovery, StageOf(err))
	})
}

// vanishingRuntime reports a non-zero count and then fills nothing, as when
// an ICD is removed between the two enumeration calls.
type vanishingRuntime struct {
	*cltest.Runtime
	platforms, devices bool
}

func (r vanishingRuntime) GetPlatformIDs(dst []opencl.PlatformID) (uint32, opencl.Status) {
	if r.platforms && len(dst) > 0 {
		return 0, opencl.Success
	}
	return r.Runtime.GetPlatformIDs(dst)
}

func (r vanishingRuntime) GetDeviceIDs(p opencl.PlatformID, t opencl.DeviceType, dst []opencl.DeviceID) (uint32, opencl.Status) {
	if r.devices && len(dst) > 0 {
		return 0, opencl.Success
	}
	return r.Runtime.GetDeviceIDs(p, t, dst)
}

func TestEnumerationSetShrinks(t *testing.T) {
	t.Run("platforms", func(t *testing.T) {
		rt := vanishingRuntime{Runtime: cltest.New(), platforms: true}
		platforms, err := ListPlatforms(rt)
		assert.Nil(t, platforms)
		assert.ErrorIs(t, err, ErrNoPlatforms)
		assert.Equal(t, StageDiscovery, StageOf(err))
	})

	t.Run("devices", func(t *testing.T) {
		rt := vanishingRuntime{Runtime: cltest.New(), devices: true}
		platforms, err := ListPlatforms(rt)
		require.NoError(t, err)
		devices, err := ListDevices(rt, platforms[0], opencl.DeviceTypeAll)
		assert.Nil(t, devices)
		assert.ErrorIs(t, err, ErrNoDevices)
		assert.Equal(t, StageDiscovery, StageOf(err))
	})
}

func TestListDevices(t *testing.T) {
	rt := cltest.New(cltest.WithPlatforms(twoDevicePlatform()))
	platforms, err := ListPlatforms(rt)
	require.NoError(t, err)

	tests := []struct {
		filter opencl.DeviceType
		want   int
	}{
		{opencl.DeviceTypeAll, 2},
		{opencl.DeviceTypeCPU, 1},
		{opencl.DeviceTypeGPU, 1},
		{opencl.DeviceTypeCPU | opencl.DeviceTypeGPU, 2},
	}
	for _, tt := range tests {
		t.Run(tt.filter.String(), func(t *testing.T) {
			devices, err := ListDevices(rt, platforms[0], tt.filter)
			require.NoError(t, err)
			assert.Len(t, devices, tt.want)
		})
	}

	t.Run("no match", func(t *testing.T) {
		_, err := ListDevices(rt, platforms[0], opencl.DeviceTypeAccelerator)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoDevices)
		assert.Contains(t, err.Error(), "no accelerator devices")
	})
}

func TestDescribeDevice(t *testing.T) {
	rt := cltest.New()
	platforms, err := ListPlatforms(rt)
	require.NoError(t, err)
	devices, err := ListDevices(rt, platforms[0], opencl.DeviceTypeAll)
	require.NoError(t, err)

	d, err := DescribeDevice(rt, devices[0])
	require.NoError(t, err)
	assert.Equal(t, "cltest CPU", d.Name)
	assert.Equal(t, opencl.DeviceTypeCPU, d.Type)
	assert.Equal(t, 1024, d.MemoryMB())
	assert.Equal(t, uint64(256), d.MaxWorkGroupSize)
	assert.Equal(t, uint64(4), d.MaxComputeUnits)
}

func TestContextAndQueue(t *testing.T) {
	t.Run("empty device set", func(t *testing.T) {
		rt := cltest.New()
		_, err := CreateContext(rt, nil)
		assert.ErrorIs(t, err, ErrContextCreation)
		assert.Zero(t, rt.CallCount("clCreateContext"))
	})

	t.Run("runtime rejects devices", func(t *testing.T) {
		rt := cltest.New()
		rt.FailOn("clCreateContext", opencl.InvalidDevice)
		_, err := CreateContext(rt, []opencl.DeviceID{1})
		assert.ErrorIs(t, err, ErrContextCreation)
		assert.Equal(t, StageContext, StageOf(err))
	})

	t.Run("queue device outside context", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		_, err := c.CreateCommandQueue(opencl.DeviceID(9999))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrQueueCreation)
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, opencl.InvalidDevice, de.Code)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		rt := cltest.New()
		c, q := setup(t, rt)
		require.NoError(t, q.Release())
		require.NoError(t, q.Release())
		require.NoError(t, c.Release())
		require.NoError(t, c.Release())
		assert.Empty(t, rt.DoubleReleases())
		assert.Empty(t, rt.Live())
	})
}

func TestBuffers(t *testing.T) {
	t.Run("zero size never reaches runtime", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		_, err := c.Allocate(0, ReadOnly)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBufferAllocation)
		assert.Zero(t, rt.CallCount("clCreateBuffer"))
	})

	t.Run("larger than device memory", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		_, err := c.Allocate(2<<30, ReadOnly)
		assert.ErrorIs(t, err, ErrBufferAllocation)
	})

	t.Run("write is pending until finish", func(t *testing.T) {
		rt := cltest.New()
		c, q := setup(t, rt)
		buf, err := c.Allocate(3*Float32Size, ReadOnly)
		require.NoError(t, err)
		defer buf.Release()

		require.NoError(t, q.WriteAsync(buf, []float32{1, 2, 3}))
		assert.Equal(t, make([]byte, 12), rt.BufferContents(buf.Handle()))

		require.NoError(t, q.Finish())
		got := make([]float32, 3)
		require.NoError(t, q.ReadSync(buf, got))
		assert.Equal(t, []float32{1, 2, 3}, got)
	})

	t.Run("size mismatch", func(t *testing.T) {
		rt := cltest.New()
		c, q := setup(t, rt)
		buf, err := c.Allocate(3*Float32Size, ReadOnly)
		require.NoError(t, err)
		defer buf.Release()

		err = q.WriteAsync(buf, []float32{1, 2})
		assert.ErrorIs(t, err, ErrTransfer)
		err = q.ReadSync(buf, make([]float32, 4))
		assert.ErrorIs(t, err, ErrTransfer)
		assert.Zero(t, rt.CallCount("clEnqueueWriteBuffer"))
	})

	t.Run("released buffer", func(t *testing.T) {
		rt := cltest.New()
		c, q := setup(t, rt)
		buf, err := c.Allocate(Float32Size, WriteOnly)
		require.NoError(t, err)
		assert.Equal(t, WriteOnly, buf.Access())
		require.NoError(t, buf.Release())

		err = q.WriteAsync(buf, []float32{1})
		assert.ErrorIs(t, err, ErrTransfer)
	})

	t.Run("runtime transfer failure", func(t *testing.T) {
		rt := cltest.New()
		c, q := setup(t, rt)
		buf, err := c.Allocate(Float32Size, ReadOnly)
		require.NoError(t, err)
		defer buf.Release()

		rt.FailOn("clEnqueueWriteBuffer", opencl.OutOfResources)
		err = q.WriteAsync(buf, []float32{1})
		assert.ErrorIs(t, err, ErrTransfer)
		assert.Equal(t, StageBuffers, StageOf(err))
	})
}

func TestProgramBuild(t *testing.T) {
	t.Run("syntax error carries log", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		p, err := c.CreateProgram("__kernel void ADD(__global float* a {")
		require.NoError(t, err)
		defer p.Release()

		err = p.Build(c.Devices(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrKernelCompilation)
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, opencl.BuildProgramFailure, de.Code)
		assert.Contains(t, de.Diagnostic, "error")
		assert.False(t, p.Built())
	})

	t.Run("blank log falls back to status", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		p, err := c.CreateProgram(addSource)
		require.NoError(t, err)
		defer p.Release()

		rt.FailOn("clBuildProgram", opencl.BuildProgramFailure)
		err = p.Build(nil, "")
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Contains(t, de.Diagnostic, "CL_BUILD_PROGRAM_FAILURE")
	})

	t.Run("empty source rejected by runtime", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		_, err := c.CreateProgram("")
		assert.ErrorIs(t, err, ErrProgramCreation)
		assert.Equal(t, 1, rt.CallCount("clCreateProgramWithSource"))
	})

	t.Run("unknown entry point", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		p, err := c.CreateProgram(addSource)
		require.NoError(t, err)
		defer p.Release()
		require.NoError(t, p.Build(c.Devices(), ""))

		_, err = p.CreateKernel("SUB")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEntryPointNotFound)
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, opencl.InvalidKernelName, de.Code)
	})

	t.Run("kernel from unbuilt program", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		p, err := c.CreateProgram(addSource)
		require.NoError(t, err)
		defer p.Release()

		_, err = p.CreateKernel("ADD")
		assert.ErrorIs(t, err, ErrEntryPointNotFound)
		assert.Zero(t, rt.CallCount("clCreateKernel"))
	})

	t.Run("arg count query failure releases kernel", func(t *testing.T) {
		rt := cltest.New()
		c, _ := setup(t, rt)
		p, err := c.CreateProgram(addSource)
		require.NoError(t, err)
		defer p.Release()
		require.NoError(t, p.Build(c.Devices(), ""))

		rt.FailOn("clGetKernelInfo", opencl.OutOfResources)
		_, err = p.CreateKernel("ADD")
		require.Error(t, err)
		assert.Equal(t, StageBuild, StageOf(err))
		assert.Equal(t, 1, rt.CallCount("clReleaseKernel"))
	})
}

func TestKernelArgs(t *testing.T) {
	rt := cltest.New()
	c, q := setup(t, rt)
	p, err := c.CreateProgram(addSource)
	require.NoError(t, err)
	defer p.Release()
	require.NoError(t, p.Build(c.Devices(), ""))
	k, err := p.CreateKernel("ADD")
	require.NoError(t, err)
	defer k.Release()
	buf, err := c.Allocate(Float32Size, ReadOnly)
	require.NoError(t, err)
	defer buf.Release()

	assert.Equal(t, 3, k.NumArgs())
	assert.Equal(t, "ADD", k.Name())

	t.Run("index out of range never reaches runtime", func(t *testing.T) {
		before := rt.CallCount("clSetKernelArg")
		for _, idx := range []int{-1, 3, 10} {
			err := k.SetArg(idx, BufferArg(buf))
			assert.ErrorIs(t, err, ErrInvalidArgument)
		}
		assert.Equal(t, before, rt.CallCount("clSetKernelArg"))
	})

	t.Run("scalar for pointer parameter", func(t *testing.T) {
		err := k.SetArg(0, Float32Arg(1.5))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("nil buffer", func(t *testing.T) {
		err := k.SetArg(0, BufferArg(nil))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		err = k.SetArg(0, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("launch refused until bound", func(t *testing.T) {
		require.NoError(t, k.SetArg(0, BufferArg(buf)))
		assert.False(t, k.Bound())

		err := q.EnqueueKernel(k, Range1D(1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrKernelLaunch)
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, opencl.InvalidKernelArgs, de.Code)
		assert.Zero(t, rt.CallCount("clEnqueueNDRangeKernel"))
	})

	t.Run("empty range", func(t *testing.T) {
		require.NoError(t, k.SetArg(1, BufferArg(buf)))
		require.NoError(t, k.SetArg(2, BufferArg(buf)))
		assert.True(t, k.Bound())

		err := q.EnqueueKernel(k, Range1D(0))
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, KernelLaunchFailed, de.Kind)
		assert.Equal(t, opencl.InvalidGlobalWorkSize, de.Code)
	})
}

func TestScalarArgs(t *testing.T) {
	const scaleSource = `__kernel void SCALE(__global float* x, float s, uint n) { }`
	rt := cltest.New(cltest.WithKernel("SCALE", func(gid int, args []cltest.Arg) {
		if uint32(gid) < args[2].Uint32() {
			args[0].SetFloat32(gid, args[0].Float32(gid)*args[1].Scalar32())
		}
	}))
	c, q := setup(t, rt)

	p, err := c.CreateProgram(scaleSource)
	require.NoError(t, err)
	defer p.Release()
	require.NoError(t, p.Build(nil, "-cl-fast-relaxed-math"))
	k, err := p.CreateKernel("SCALE")
	require.NoError(t, err)
	defer k.Release()

	buf, err := c.Allocate(4*Float32Size, ReadOnly)
	require.NoError(t, err)
	defer buf.Release()

	require.NoError(t, k.SetArg(0, BufferArg(buf)))
	require.NoError(t, k.SetArg(1, Float32Arg(2)))
	require.NoError(t, k.SetArg(2, Uint32Arg(3)))

	require.NoError(t, q.WriteAsync(buf, []float32{1, 2, 3, 4}))
	require.NoError(t, q.EnqueueKernel(k, Range1D(4)))
	require.NoError(t, q.Finish())

	got := make([]float32, 4)
	require.NoError(t, q.ReadSync(buf, got))
	assert.Equal(t, []float32{2, 4, 6, 4}, got)
}

func TestFinishFailureIsDispatchStage(t *testing.T) {
	rt := cltest.New()
	_, q := setup(t, rt)
	rt.FailOn("clFinish", opencl.OutOfResources)

	err := q.Finish()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceRuntime)
	assert.Equal(t, StageDispatch, StageOf(err))
}
