package dispatch

import (
	"errors"
	"fmt"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// DeviceRuntimeError is the generic fallback for a non-success status.
	DeviceRuntimeError Kind = iota
	NoPlatformsFound
	NoDevicesFound
	ContextCreationFailed
	QueueCreationFailed
	BufferAllocationFailed
	TransferFailed
	ProgramCreationFailed
	KernelCompilationFailed
	EntryPointNotFound
	InvalidArgumentBinding
	KernelLaunchFailed
)

var kindNames = [...]string{
	DeviceRuntimeError:      "DeviceRuntimeError",
	NoPlatformsFound:        "NoPlatformsFound",
	NoDevicesFound:          "NoDevicesFound",
	ContextCreationFailed:   "ContextCreationFailed",
	QueueCreationFailed:     "QueueCreationFailed",
	BufferAllocationFailed:  "BufferAllocationFailed",
	TransferFailed:          "TransferFailed",
	ProgramCreationFailed:   "ProgramCreationFailed",
	KernelCompilationFailed: "KernelCompilationFailed",
	EntryPointNotFound:      "EntryPointNotFound",
	InvalidArgumentBinding:  "InvalidArgumentBinding",
	KernelLaunchFailed:      "KernelLaunchFailed",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrDeviceRuntime      = errors.New("dispatch: device runtime error")
	ErrNoPlatforms        = errors.New("dispatch: no OpenCL platforms found")
	ErrNoDevices          = errors.New("dispatch: no OpenCL devices found")
	ErrContextCreation    = errors.New("dispatch: context creation failed")
	ErrQueueCreation      = errors.New("dispatch: command queue creation failed")
	ErrBufferAllocation   = errors.New("dispatch: buffer allocation failed")
	ErrTransfer           = errors.New("dispatch: transfer failed")
	ErrProgramCreation    = errors.New("dispatch: program creation failed")
	ErrKernelCompilation  = errors.New("dispatch: kernel compilation failed")
	ErrEntryPointNotFound = errors.New("dispatch: kernel entry point not found")
	ErrInvalidArgument    = errors.New("dispatch: invalid kernel argument binding")
	ErrKernelLaunch       = errors.New("dispatch: kernel launch failed")
	ErrInvalidJob         = errors.New("dispatch: invalid job")
	ErrInvalidTransition  = errors.New("dispatch: invalid state transition")
)

var kindSentinels = [...]error{
	DeviceRuntimeError:      ErrDeviceRuntime,
	NoPlatformsFound:        ErrNoPlatforms,
	NoDevicesFound:          ErrNoDevices,
	ContextCreationFailed:   ErrContextCreation,
	QueueCreationFailed:     ErrQueueCreation,
	BufferAllocationFailed:  ErrBufferAllocation,
	TransferFailed:          ErrTransfer,
	ProgramCreationFailed:   ErrProgramCreation,
	KernelCompilationFailed: ErrKernelCompilation,
	EntryPointNotFound:      ErrEntryPointNotFound,
	InvalidArgumentBinding:  ErrInvalidArgument,
	KernelLaunchFailed:      ErrKernelLaunch,
}

// Stage is the pipeline phase a failure belongs to. Its numeric value is
// the process exit code the CLI uses for failures in that phase.
type Stage int

const (
	StageUnknown   Stage = 0
	StageDiscovery Stage = 1
	StageContext   Stage = 2
	StageBuffers   Stage = 3
	StageBuild     Stage = 4
	StageDispatch  Stage = 5
)

func (s Stage) String() string {
	switch s {
	case StageDiscovery:
		return "discovery"
	case StageContext:
		return "context"
	case StageBuffers:
		return "buffers"
	case StageBuild:
		return "build"
	case StageDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// defaultStage is the stage a kind belongs to unless the call site says
// otherwise (a readback TransferFailed, for example, is a dispatch failure).
func (k Kind) defaultStage() Stage {
	switch k {
	case NoPlatformsFound, NoDevicesFound:
		return StageDiscovery
	case ContextCreationFailed, QueueCreationFailed:
		return StageContext
	case BufferAllocationFailed, TransferFailed:
		return StageBuffers
	case ProgramCreationFailed, KernelCompilationFailed, EntryPointNotFound, InvalidArgumentBinding:
		return StageBuild
	case KernelLaunchFailed:
		return StageDispatch
	default:
		return StageUnknown
	}
}

// Error is a classified failure from a device runtime call.
type Error struct {
	Kind  Kind
	Stage Stage
	// Op is the runtime entry point that failed, e.g. "clBuildProgram".
	Op   string
	Code opencl.Status
	// Diagnostic carries extra text: the compiler log for
	// KernelCompilationFailed, or a host-side explanation.
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch: %s: %s failed with %s (%d)", e.Kind, e.Op, e.Code, int32(e.Code))
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's Kind.
func (e *Error) Is(target error) bool {
	if e.Kind >= 0 && int(e.Kind) < len(kindSentinels) {
		return kindSentinels[e.Kind] == target
	}
	return false
}

// Check is the status gate applied after every runtime call. It returns nil
// for CL_SUCCESS and a DeviceRuntimeError carrying the code and op otherwise.
func Check(op string, st opencl.Status) error {
	if st.OK() {
		return nil
	}
	return &Error{Kind: DeviceRuntimeError, Op: op, Code: st}
}

// checkAs runs Check and classifies a failure as kind.
func checkAs(kind Kind, op string, st opencl.Status) error {
	err := Check(op, st)
	if err == nil {
		return nil
	}
	de := err.(*Error)
	de.Kind = kind
	de.Stage = kind.defaultStage()
	return de
}

func newError(kind Kind, op string, st opencl.Status, diagnostic string) *Error {
	return &Error{
		Kind:       kind,
		Stage:      kind.defaultStage(),
		Op:         op,
		Code:       st,
		Diagnostic: diagnostic,
	}
}

// inStage tags err with stage when it is an *Error; other errors pass
// through unchanged.
func inStage(err error, stage Stage) error {
	var de *Error
	if errors.As(err, &de) {
		de.Stage = stage
	}
	return err
}

// KindOf returns the Kind of a pipeline error and whether err carries one.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// StageOf returns the stage a pipeline error belongs to, or StageUnknown.
func StageOf(err error) Stage {
	var de *Error
	if errors.As(err, &de) {
		return de.Stage
	}
	return StageUnknown
}
