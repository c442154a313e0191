//go:build !opencl
// +build !opencl

package opencl

// stub is the Runtime used when the binary is built without OpenCL support.
// It behaves like an ICD loader with no installed platforms: enumeration
// reports CL_PLATFORM_NOT_FOUND_KHR and every other entry point rejects the
// handle it is given.
type stub struct{}

// NewRuntime returns a runtime with no platforms.
func NewRuntime() Runtime {
	return stub{}
}

// IsAvailable returns false on systems without OpenCL.
func IsAvailable() bool {
	return false
}

func (stub) GetPlatformIDs([]PlatformID) (uint32, Status) {
	return 0, PlatformNotFoundKHR
}

func (stub) GetPlatformInfo(PlatformID, PlatformInfo) (string, Status) {
	return "", InvalidPlatform
}

func (stub) GetDeviceIDs(PlatformID, DeviceType, []DeviceID) (uint32, Status) {
	return 0, InvalidPlatform
}

func (stub) GetDeviceInfoString(DeviceID, DeviceInfo) (string, Status) {
	return "", InvalidDevice
}

func (stub) GetDeviceInfoUint(DeviceID, DeviceInfo) (uint64, Status) {
	return 0, InvalidDevice
}

func (stub) CreateContext([]DeviceID) (Context, Status) {
	return 0, InvalidDevice
}

func (stub) CreateCommandQueue(Context, DeviceID) (CommandQueue, Status) {
	return 0, InvalidContext
}

func (stub) CreateBuffer(Context, MemFlags, int) (Mem, Status) {
	return 0, InvalidContext
}

func (stub) EnqueueWriteBuffer(CommandQueue, Mem, bool, int, []byte) Status {
	return InvalidCommandQueue
}

func (stub) EnqueueReadBuffer(CommandQueue, Mem, bool, int, []byte) Status {
	return InvalidCommandQueue
}

func (stub) CreateProgramWithSource(Context, string) (Program, Status) {
	return 0, InvalidContext
}

func (stub) BuildProgram(Program, []DeviceID, string) Status {
	return InvalidProgram
}

func (stub) GetProgramBuildLog(Program, DeviceID) (string, Status) {
	return "", InvalidProgram
}

func (stub) CreateKernel(Program, string) (Kernel, Status) {
	return 0, InvalidProgram
}

func (stub) GetKernelNumArgs(Kernel) (uint32, Status) {
	return 0, InvalidKernel
}

func (stub) SetKernelArgMem(Kernel, uint32, Mem) Status {
	return InvalidKernel
}

func (stub) SetKernelArgBytes(Kernel, uint32, []byte) Status {
	return InvalidKernel
}

func (stub) EnqueueNDRangeKernel(CommandQueue, Kernel, []int) Status {
	return InvalidCommandQueue
}

func (stub) Finish(CommandQueue) Status {
	return InvalidCommandQueue
}

func (stub) ReleaseMemObject(Mem) Status {
	return InvalidMemObject
}

func (stub) ReleaseKernel(Kernel) Status {
	return InvalidKernel
}

func (stub) ReleaseProgram(Program) Status {
	return InvalidProgram
}

func (stub) ReleaseCommandQueue(CommandQueue) Status {
	return InvalidCommandQueue
}

func (stub) ReleaseContext(Context) Status {
	return InvalidContext
}
