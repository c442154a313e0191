package dispatch

import (
	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// Context owns every buffer, program and queue created through it.
type Context struct {
	rt      opencl.Runtime
	h       opencl.Context
	devices []opencl.DeviceID
}

// CreateContext creates a context spanning devices. No context properties
// are set.
func CreateContext(rt opencl.Runtime, devices []opencl.DeviceID) (*Context, error) {
	if len(devices) == 0 {
		return nil, newError(ContextCreationFailed, "clCreateContext", opencl.InvalidValue, "empty device set")
	}

	h, st := rt.CreateContext(devices)
	if err := checkAs(ContextCreationFailed, "clCreateContext", st); err != nil {
		return nil, err
	}
	return &Context{
		rt:      rt,
		h:       h,
		devices: append([]opencl.DeviceID(nil), devices...),
	}, nil
}

// Devices returns the devices the context was created for.
func (c *Context) Devices() []opencl.DeviceID {
	return append([]opencl.DeviceID(nil), c.devices...)
}

// Handle returns the raw context handle, or zero after Release.
func (c *Context) Handle() opencl.Context {
	return c.h
}

// Release releases the context. Calling it again is a no-op.
func (c *Context) Release() error {
	if c.h == 0 {
		return nil
	}
	st := c.rt.ReleaseContext(c.h)
	c.h = 0
	return Check("clReleaseContext", st)
}

func (c *Context) hasDevice(d opencl.DeviceID) bool {
	for _, x := range c.devices {
		if x == d {
			return true
		}
	}
	return false
}

// Queue is an in-order command queue bound to one device of a context.
type Queue struct {
	ctx    *Context
	h      opencl.CommandQueue
	device opencl.DeviceID
}

// CreateCommandQueue creates an in-order queue on device, which must belong
// to the context.
func (c *Context) CreateCommandQueue(device opencl.DeviceID) (*Queue, error) {
	if !c.hasDevice(device) {
		return nil, newError(QueueCreationFailed, "clCreateCommandQueue", opencl.InvalidDevice,
			"device is not part of the context")
	}

	h, st := c.rt.CreateCommandQueue(c.h, device)
	if err := checkAs(QueueCreationFailed, "clCreateCommandQueue", st); err != nil {
		return nil, err
	}
	return &Queue{ctx: c, h: h, device: device}, nil
}

// Device returns the device the queue submits to.
func (q *Queue) Device() opencl.DeviceID {
	return q.device
}

// Release releases the queue. Calling it again is a no-op.
func (q *Queue) Release() error {
	if q.h == 0 {
		return nil
	}
	st := q.ctx.rt.ReleaseCommandQueue(q.h)
	q.h = 0
	return Check("clReleaseCommandQueue", st)
}
