package stream

import "sync"

// bufferPool hands out fixed-size byte slices for reuse, adapted from the
// teacher's BufferPool/MemoryOptimizer pair. It backs GetRecvBuffer/
// PutRecvBuffer, letting a caller avoid allocating a fresh buffer on every
// Recv call; TLSStream.Recv itself just fills whatever buffer it is given.
// Send has no equivalent pooled path: it copies the caller's data into an
// owned txbuf (append([]byte(nil), data...)) rather than a pooled slice,
// since a pending send can outlive many Send/Run calls while draining and
// must not be recycled out from under it.
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any { return make([]byte, size) },
		},
		size: size,
	}
}

func (p *bufferPool) get() []byte {
	return p.pool.Get().([]byte)
}

func (p *bufferPool) put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	for i := range buf {
		buf[i] = 0
	}
	p.pool.Put(buf[:p.size])
}

// recvBufferPool sizes buffers to a single maximum TLS record, the natural
// unit of a Recv call against an OpenFlow control channel.
var recvBufferPool = newBufferPool(16 * 1024)

// GetRecvBuffer returns a pooled buffer sized for one Recv call. Callers
// must return it with PutRecvBuffer once done.
func GetRecvBuffer() []byte {
	return recvBufferPool.get()
}

// PutRecvBuffer returns buf to the pool, zeroing it first since it may have
// held plaintext control-channel data.
func PutRecvBuffer(buf []byte) {
	recvBufferPool.put(buf)
}
