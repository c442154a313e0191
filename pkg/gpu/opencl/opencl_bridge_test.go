//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

package opencl

import (
	"testing"
)

func firstDevice(t *testing.T, rt Runtime) (PlatformID, DeviceID) {
	t.Helper()
	if !IsAvailable() {
		t.Skip("OpenCL not available")
	}

	platforms := make([]PlatformID, 1)
	if _, st := rt.GetPlatformIDs(platforms); !st.OK() {
		t.Fatalf("GetPlatformIDs: %v", st)
	}

	n, st := rt.GetDeviceIDs(platforms[0], DeviceTypeAll, nil)
	if !st.OK() || n == 0 {
		t.Skipf("no devices on platform 0: %v", st)
	}
	devices := make([]DeviceID, n)
	if _, st := rt.GetDeviceIDs(platforms[0], DeviceTypeAll, devices); !st.OK() {
		t.Fatalf("GetDeviceIDs: %v", st)
	}
	return platforms[0], devices[0]
}

func TestPlatformInfo(t *testing.T) {
	rt := NewRuntime()
	p, d := firstDevice(t, rt)

	name, st := rt.GetPlatformInfo(p, PlatformName)
	if !st.OK() {
		t.Fatalf("GetPlatformInfo: %v", st)
	}
	if name == "" {
		t.Error("platform name is empty")
	}
	t.Logf("Platform: %s", name)

	devName, st := rt.GetDeviceInfoString(d, DeviceInfoName)
	if !st.OK() {
		t.Fatalf("GetDeviceInfoString: %v", st)
	}
	mem, st := rt.GetDeviceInfoUint(d, DeviceInfoGlobalMemSize)
	if !st.OK() {
		t.Fatalf("GetDeviceInfoUint: %v", st)
	}
	t.Logf("Device: %s, Memory: %d MB", devName, mem/(1024*1024))
}

func TestBuildFailureProducesLog(t *testing.T) {
	rt := NewRuntime()
	_, d := firstDevice(t, rt)

	ctx, st := rt.CreateContext([]DeviceID{d})
	if !st.OK() {
		t.Fatalf("CreateContext: %v", st)
	}
	defer rt.ReleaseContext(ctx)

	prog, st := rt.CreateProgramWithSource(ctx, "__kernel void broken(__global float* a) { a[0] = ; }")
	if !st.OK() {
		t.Fatalf("CreateProgramWithSource: %v", st)
	}
	defer rt.ReleaseProgram(prog)

	if st := rt.BuildProgram(prog, []DeviceID{d}, ""); st != BuildProgramFailure {
		t.Fatalf("BuildProgram() = %v, want CL_BUILD_PROGRAM_FAILURE", st)
	}
	log, st := rt.GetProgramBuildLog(prog, d)
	if !st.OK() {
		t.Fatalf("GetProgramBuildLog: %v", st)
	}
	if log == "" {
		t.Error("build log is empty")
	}
}

func TestStagedWriteSurvivesFinish(t *testing.T) {
	rt := NewRuntime()
	_, d := firstDevice(t, rt)

	ctx, st := rt.CreateContext([]DeviceID{d})
	if !st.OK() {
		t.Fatalf("CreateContext: %v", st)
	}
	defer rt.ReleaseContext(ctx)

	q, st := rt.CreateCommandQueue(ctx, d)
	if !st.OK() {
		t.Fatalf("CreateCommandQueue: %v", st)
	}
	defer rt.ReleaseCommandQueue(q)

	mem, st := rt.CreateBuffer(ctx, MemReadWrite, 8)
	if !st.OK() {
		t.Fatalf("CreateBuffer: %v", st)
	}
	defer rt.ReleaseMemObject(mem)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if st := rt.EnqueueWriteBuffer(q, mem, false, 0, src); !st.OK() {
		t.Fatalf("EnqueueWriteBuffer: %v", st)
	}
	src[0] = 99 // must not affect the staged copy

	if st := rt.Finish(q); !st.OK() {
		t.Fatalf("Finish: %v", st)
	}

	dst := make([]byte, 8)
	if st := rt.EnqueueReadBuffer(q, mem, true, 0, dst); !st.OK() {
		t.Fatalf("EnqueueReadBuffer: %v", st)
	}
	if dst[0] != 1 || dst[7] != 8 {
		t.Errorf("read back %v, want 1..8", dst)
	}
}

func TestReleaseQueueWithPendingWrite(t *testing.T) {
	rt := NewRuntime()
	_, d := firstDevice(t, rt)

	ctx, st := rt.CreateContext([]DeviceID{d})
	if !st.OK() {
		t.Fatalf("CreateContext: %v", st)
	}
	defer rt.ReleaseContext(ctx)

	const size = 1 << 20
	mem, st := rt.CreateBuffer(ctx, MemReadWrite, size)
	if !st.OK() {
		t.Fatalf("CreateBuffer: %v", st)
	}
	defer rt.ReleaseMemObject(mem)

	q, st := rt.CreateCommandQueue(ctx, d)
	if !st.OK() {
		t.Fatalf("CreateCommandQueue: %v", st)
	}

	src := make([]byte, size)
	for i := range src {
		src[i] = byte(i % 251)
	}
	if st := rt.EnqueueWriteBuffer(q, mem, false, 0, src); !st.OK() {
		t.Fatalf("EnqueueWriteBuffer: %v", st)
	}
	// No Finish: the queue goes away with the write still in flight.
	if st := rt.ReleaseCommandQueue(q); !st.OK() {
		t.Fatalf("ReleaseCommandQueue: %v", st)
	}

	q2, st := rt.CreateCommandQueue(ctx, d)
	if !st.OK() {
		t.Fatalf("CreateCommandQueue: %v", st)
	}
	defer rt.ReleaseCommandQueue(q2)

	dst := make([]byte, size)
	if st := rt.EnqueueReadBuffer(q2, mem, true, 0, dst); !st.OK() {
		t.Fatalf("EnqueueReadBuffer: %v", st)
	}
	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], src[i])
		}
	}
}
