package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
	"github.com/orneryd/cldispatch/pkg/kernelsrc"
)

// DefaultEntryPoint is the kernel function name used when a Job names none:
// the entry point of the built-in kernel.
const DefaultEntryPoint = kernelsrc.DefaultEntryPoint

// Job is the input of one pipeline run. A and B are read, never modified.
type Job struct {
	A, B []float32

	// Source is the kernel program text, passed to the runtime unchanged.
	Source string
	// EntryPoint defaults to DefaultEntryPoint.
	EntryPoint string
	// DeviceType filters devices on the selected platform. Zero means all.
	DeviceType opencl.DeviceType
	// BuildOptions overrides the pipeline's build options when non-empty.
	BuildOptions string
}

func (j Job) validate() error {
	if len(j.A) == 0 {
		return fmt.Errorf("%w: input vectors are empty", ErrInvalidJob)
	}
	if len(j.A) != len(j.B) {
		return fmt.Errorf("%w: input lengths differ (%d and %d)", ErrInvalidJob, len(j.A), len(j.B))
	}
	return nil
}

// Result is the output of a successful run.
type Result struct {
	C            []float32
	PlatformName string
	Devices      int
	State        State
}

// Observer receives progress notifications from Run. Calls happen on the
// goroutine that called Run.
type Observer interface {
	StateChanged(from, to State)
	PlatformSelected(name string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for teardown failures and transitions.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver subscribes o to every run.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithBuildOptions sets the compiler options passed to clBuildProgram.
func WithBuildOptions(opts string) Option {
	return func(p *Pipeline) {
		p.buildOptions = opts
	}
}

// Pipeline runs jobs against one runtime. Concurrent Run calls serialize.
type Pipeline struct {
	rt           opencl.Runtime
	logger       *log.Logger
	observer     Observer
	buildOptions string

	mu sync.Mutex
}

// New creates a pipeline over rt.
func New(rt opencl.Runtime, opts ...Option) *Pipeline {
	p := &Pipeline{
		rt:     rt,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes job end to end: discovery, context, buffers, build, dispatch
// and readback. Every acquired resource is released before Run returns,
// whatever the outcome. On failure the error is a *Error for runtime
// failures, wraps ErrInvalidJob for bad input, or wraps ctx.Err() when the
// context was cancelled between stages.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	if job.EntryPoint == "" {
		job.EntryPoint = DefaultEntryPoint
	}
	if job.DeviceType == 0 {
		job.DeviceType = opencl.DeviceTypeAll
	}
	if job.BuildOptions == "" {
		job.BuildOptions = p.buildOptions
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r := &run{
		rt:       p.rt,
		job:      job,
		scope:    NewScope(p.logger),
		m:        machine{observer: p.observer},
		observer: p.observer,
	}

	res, err := r.execute(ctx)
	if err != nil {
		failedAt := r.m.state
		_ = r.m.advance(Failed)
		p.logger.Printf("run failed after %s: %v", failedAt, err)
		r.scope.Release()
		return nil, err
	}

	r.scope.Release()
	if err := r.m.advance(Released); err != nil {
		return nil, err
	}
	res.State = r.m.state
	return res, nil
}

// run is the state of one Run call.
type run struct {
	rt       opencl.Runtime
	job      Job
	scope    *Scope
	m        machine
	observer Observer
}

func (r *run) step(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch: cancelled before %s: %w", next, err)
	}
	return nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	job := r.job
	n := len(job.A)

	// Discovery: first platform, every matching device.
	if err := r.step(ctx, DevicesDiscovered); err != nil {
		return nil, err
	}
	platforms, err := ListPlatforms(r.rt)
	if err != nil {
		return nil, err
	}
	platformName, err := PlatformName(r.rt, platforms[0])
	if err != nil {
		return nil, err
	}
	if r.observer != nil {
		r.observer.PlatformSelected(platformName)
	}
	devices, err := ListDevices(r.rt, platforms[0], job.DeviceType)
	if err != nil {
		return nil, err
	}
	if err := r.m.advance(DevicesDiscovered); err != nil {
		return nil, err
	}

	// Context and queue on the first device.
	if err := r.step(ctx, ContextReady); err != nil {
		return nil, err
	}
	clctx, err := CreateContext(r.rt, devices)
	if err != nil {
		return nil, err
	}
	r.scope.Track("context", clctx)
	queue, err := clctx.CreateCommandQueue(devices[0])
	if err != nil {
		return nil, err
	}
	r.scope.Track("command queue", queue)
	if err := r.m.advance(ContextReady); err != nil {
		return nil, err
	}

	// Buffers.
	if err := r.step(ctx, BuffersAllocated); err != nil {
		return nil, err
	}
	size := n * Float32Size
	bufs := make([]*Buffer, 3)
	for i, want := range []struct {
		label  string
		access Access
	}{
		{"buffer a", ReadOnly},
		{"buffer b", ReadOnly},
		{"buffer c", WriteOnly},
	} {
		buf, err := clctx.Allocate(size, want.access)
		if err != nil {
			return nil, err
		}
		r.scope.Track(want.label, buf)
		bufs[i] = buf
	}
	bufA, bufB, bufC := bufs[0], bufs[1], bufs[2]
	if err := r.m.advance(BuffersAllocated); err != nil {
		return nil, err
	}

	// Upload. Both writes are in flight at once; the queue is in order.
	if err := r.step(ctx, DataUploaded); err != nil {
		return nil, err
	}
	if err := queue.WriteAsync(bufA, job.A); err != nil {
		return nil, err
	}
	if err := queue.WriteAsync(bufB, job.B); err != nil {
		return nil, err
	}
	if err := r.m.advance(DataUploaded); err != nil {
		return nil, err
	}

	// Build for every device in the context.
	if err := r.step(ctx, ProgramBuilt); err != nil {
		return nil, err
	}
	program, err := clctx.CreateProgram(job.Source)
	if err != nil {
		return nil, err
	}
	r.scope.Track("program", program)
	if err := program.Build(devices, job.BuildOptions); err != nil {
		return nil, err
	}
	if err := r.m.advance(ProgramBuilt); err != nil {
		return nil, err
	}

	if err := r.step(ctx, KernelBound); err != nil {
		return nil, err
	}
	kernel, err := program.CreateKernel(job.EntryPoint)
	if err != nil {
		return nil, err
	}
	r.scope.Track("kernel", kernel)
	for i, buf := range []*Buffer{bufA, bufB, bufC} {
		if err := kernel.SetArg(i, BufferArg(buf)); err != nil {
			return nil, err
		}
	}
	if err := r.m.advance(KernelBound); err != nil {
		return nil, err
	}

	// Dispatch, wait, read back.
	if err := r.step(ctx, Dispatched); err != nil {
		return nil, err
	}
	if err := queue.EnqueueKernel(kernel, Range1D(n)); err != nil {
		return nil, err
	}
	if err := r.m.advance(Dispatched); err != nil {
		return nil, err
	}
	if err := queue.Finish(); err != nil {
		return nil, err
	}
	if err := r.m.advance(Finished); err != nil {
		return nil, err
	}

	c := make([]float32, n)
	if err := queue.ReadSync(bufC, c); err != nil {
		return nil, inStage(err, StageDispatch)
	}
	if err := r.m.advance(ResultsRead); err != nil {
		return nil, err
	}

	return &Result{
		C:            c,
		PlatformName: platformName,
		Devices:      len(devices),
	}, nil
}
