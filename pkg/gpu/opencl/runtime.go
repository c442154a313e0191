package opencl

import (
	"fmt"
	"strings"
)

// Opaque handles. The zero value of every handle means "not acquired".
type (
	PlatformID   uintptr
	DeviceID     uintptr
	Context      uintptr
	CommandQueue uintptr
	Mem          uintptr
	Program      uintptr
	Kernel       uintptr
)

// DeviceType is the cl_device_type bit field used to filter device queries.
type DeviceType uint64

const (
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

// ParseDeviceType maps "cpu", "gpu", "accelerator" or "all" to a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return DeviceTypeCPU, nil
	case "gpu":
		return DeviceTypeGPU, nil
	case "accelerator", "acc":
		return DeviceTypeAccelerator, nil
	case "all", "":
		return DeviceTypeAll, nil
	default:
		return 0, fmt.Errorf("opencl: unknown device type %q (want cpu, gpu, accelerator or all)", s)
	}
}

func (t DeviceType) String() string {
	if t == DeviceTypeAll {
		return "all"
	}
	var parts []string
	if t&DeviceTypeCPU != 0 {
		parts = append(parts, "cpu")
	}
	if t&DeviceTypeGPU != 0 {
		parts = append(parts, "gpu")
	}
	if t&DeviceTypeAccelerator != 0 {
		parts = append(parts, "accelerator")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("DeviceType(%#x)", uint64(t))
	}
	return strings.Join(parts, "|")
}

// MemFlags is the cl_mem_flags access qualifier of a buffer.
type MemFlags uint64

const (
	MemReadWrite MemFlags = 1 << 0
	MemWriteOnly MemFlags = 1 << 1
	MemReadOnly  MemFlags = 1 << 2
)

// PlatformInfo selects a string property of a platform.
type PlatformInfo uint32

const (
	PlatformProfile PlatformInfo = 0x0900
	PlatformVersion PlatformInfo = 0x0901
	PlatformName    PlatformInfo = 0x0902
	PlatformVendor  PlatformInfo = 0x0903
)

// DeviceInfo selects a property of a device.
type DeviceInfo uint32

const (
	DeviceInfoType             DeviceInfo = 0x1000
	DeviceInfoMaxComputeUnits  DeviceInfo = 0x1002
	DeviceInfoMaxWorkGroupSize DeviceInfo = 0x1004
	DeviceInfoGlobalMemSize    DeviceInfo = 0x101F
	DeviceInfoName             DeviceInfo = 0x102B
	DeviceInfoVendor           DeviceInfo = 0x102C
	DeviceInfoDriverVersion    DeviceInfo = 0x102D
	DeviceInfoVersion          DeviceInfo = 0x102F
)

// Runtime is the host-side OpenCL API surface used by the dispatch pipeline.
//
// Every method maps onto exactly one cl* entry point and reports the raw
// status code it produced; no method panics or interprets the code. Query
// methods follow the OpenCL two-call convention: passing a nil destination
// returns the count only.
//
// Implementations:
//   - the cgo bridge (build tag "opencl"), backed by the system ICD loader
//   - the stub (default build), which reports zero platforms
//   - cltest.Runtime, an in-memory fake used by tests
type Runtime interface {
	GetPlatformIDs(dst []PlatformID) (uint32, Status)
	GetPlatformInfo(p PlatformID, param PlatformInfo) (string, Status)
	GetDeviceIDs(p PlatformID, t DeviceType, dst []DeviceID) (uint32, Status)
	GetDeviceInfoString(d DeviceID, param DeviceInfo) (string, Status)
	GetDeviceInfoUint(d DeviceID, param DeviceInfo) (uint64, Status)

	CreateContext(devices []DeviceID) (Context, Status)
	CreateCommandQueue(ctx Context, d DeviceID) (CommandQueue, Status)

	CreateBuffer(ctx Context, flags MemFlags, size int) (Mem, Status)
	EnqueueWriteBuffer(q CommandQueue, m Mem, blocking bool, offset int, src []byte) Status
	EnqueueReadBuffer(q CommandQueue, m Mem, blocking bool, offset int, dst []byte) Status

	CreateProgramWithSource(ctx Context, source string) (Program, Status)
	BuildProgram(p Program, devices []DeviceID, options string) Status
	GetProgramBuildLog(p Program, d DeviceID) (string, Status)
	CreateKernel(p Program, name string) (Kernel, Status)
	GetKernelNumArgs(k Kernel) (uint32, Status)
	SetKernelArgMem(k Kernel, index uint32, m Mem) Status
	SetKernelArgBytes(k Kernel, index uint32, value []byte) Status

	EnqueueNDRangeKernel(q CommandQueue, k Kernel, globalWorkSize []int) Status
	Finish(q CommandQueue) Status

	ReleaseMemObject(m Mem) Status
	ReleaseKernel(k Kernel) Status
	ReleaseProgram(p Program) Status
	ReleaseCommandQueue(q CommandQueue) Status
	ReleaseContext(ctx Context) Status
}
