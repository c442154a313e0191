package dispatch

import (
	"fmt"
	"unsafe"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// Access is a buffer's access qualifier from the kernel's point of view.
type Access int

const (
	ReadOnly Access = iota
	WriteOnly
)

func (a Access) String() string {
	if a == WriteOnly {
		return "write-only"
	}
	return "read-only"
}

func (a Access) flags() opencl.MemFlags {
	if a == WriteOnly {
		return opencl.MemWriteOnly
	}
	return opencl.MemReadOnly
}

// Float32Size is the size in bytes of one vector element.
const Float32Size = 4

// Buffer is a device-memory region owned by a context.
type Buffer struct {
	ctx    *Context
	h      opencl.Mem
	size   int
	access Access
}

// Allocate creates a device buffer of size bytes.
func (c *Context) Allocate(size int, access Access) (*Buffer, error) {
	if size <= 0 {
		return nil, newError(BufferAllocationFailed, "clCreateBuffer", opencl.InvalidBufferSize,
			fmt.Sprintf("size must be > 0, got %d", size))
	}

	h, st := c.rt.CreateBuffer(c.h, access.flags(), size)
	if err := checkAs(BufferAllocationFailed, "clCreateBuffer", st); err != nil {
		return nil, err
	}
	return &Buffer{ctx: c, h: h, size: size, access: access}, nil
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int {
	return b.size
}

// Access returns the buffer's access qualifier.
func (b *Buffer) Access() Access {
	return b.access
}

// Handle returns the raw mem handle, or zero after Release.
func (b *Buffer) Handle() opencl.Mem {
	return b.h
}

// Release releases the buffer. Calling it again is a no-op.
func (b *Buffer) Release() error {
	if b.h == 0 {
		return nil
	}
	st := b.ctx.rt.ReleaseMemObject(b.h)
	b.h = 0
	return Check("clReleaseMemObject", st)
}

// WriteAsync enqueues a non-blocking host→device copy of host into buf.
// The copy has not necessarily happened when it returns; in-order queue
// semantics guarantee it completes before any later command on q runs.
func (q *Queue) WriteAsync(buf *Buffer, host []float32) error {
	if err := checkTransfer("clEnqueueWriteBuffer", buf, len(host)); err != nil {
		return err
	}
	st := q.ctx.rt.EnqueueWriteBuffer(q.h, buf.h, false, 0, float32Bytes(host))
	return checkAs(TransferFailed, "clEnqueueWriteBuffer", st)
}

// ReadSync enqueues a blocking device→host copy of buf into dst and
// returns once the data is in host memory.
func (q *Queue) ReadSync(buf *Buffer, dst []float32) error {
	if err := checkTransfer("clEnqueueReadBuffer", buf, len(dst)); err != nil {
		return err
	}
	st := q.ctx.rt.EnqueueReadBuffer(q.h, buf.h, true, 0, float32Bytes(dst))
	return checkAs(TransferFailed, "clEnqueueReadBuffer", st)
}

func checkTransfer(op string, buf *Buffer, n int) error {
	if buf == nil || buf.h == 0 {
		return newError(TransferFailed, op, opencl.InvalidMemObject, "buffer is not allocated")
	}
	if n*Float32Size != buf.size {
		return newError(TransferFailed, op, opencl.InvalidValue,
			fmt.Sprintf("host data is %d bytes, buffer is %d bytes", n*Float32Size, buf.size))
	}
	return nil
}

// float32Bytes views v as raw bytes without copying.
func float32Bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*Float32Size)
}
