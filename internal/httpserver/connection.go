package httpserver

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/corehttp/server/internal/buffer"
	"github.com/corehttp/server/internal/dbpool"
)

// clientCount is the global count of active connections, an atomic
// counter in place of the original's process-wide static int.
var clientCount int64

// ClientCount reports the number of currently active connections.
func ClientCount() int64 { return atomic.LoadInt64(&clientCount) }

// Connection is one client's server-side state: fd, peer address, read
// and write buffers, parser/response state, and the two vectored I/O
// slots used to drain the write buffer and a mapped file body together.
//
// A Connection is mutated only by the accept path (Init), by exactly
// one worker task at a time (Read/Process/Write), and by the server
// loop on Close; one-shot reactor arming is what guarantees that
// single-owner invariant, so no per-connection lock is needed here.
type Connection struct {
	Fd        int
	Addr      string
	closed    bool
	edge      bool // edge-triggered mode, affects read/write loop bounds
	readBuf   *buffer.Buffer
	writeBuf  *buffer.Buffer
	req       *Request
	resp      *Response
	srcDir    string
	db        *dbpool.Pool
	iovWrite  [2][]byte
	iovCount  int
	iovOffset int // bytes already consumed from iovWrite[0]
}

// NewConnection allocates an inactive Connection. Init must be called
// before use.
func NewConnection(srcDir string, db *dbpool.Pool) *Connection {
	return &Connection{
		readBuf:  buffer.New(1024),
		writeBuf: buffer.New(1024),
		req:      NewRequest(db),
		resp:     nil,
		srcDir:   srcDir,
		db:       db,
	}
}

// Init activates the connection for a freshly accepted fd.
func (c *Connection) Init(fd int, addr string, edgeTriggered bool) {
	c.Fd = fd
	c.Addr = addr
	c.closed = false
	c.edge = edgeTriggered
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	c.req.Reset()
	if c.resp != nil {
		c.resp.Unmap()
	}
	c.resp = nil
	c.iovCount = 0
	c.iovOffset = 0
	atomic.AddInt64(&clientCount, 1)
}

// Closed reports whether Close has already run.
func (c *Connection) Closed() bool { return c.closed }

// Close unmaps any file, closes the fd, and decrements the global
// client count. Idempotent.
func (c *Connection) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.resp != nil {
		c.resp.Unmap()
	}
	unix.Close(c.Fd)
	atomic.AddInt64(&clientCount, -1)
}

// Read refills the read buffer. In edge-triggered mode it loops until
// a non-positive return; in level-triggered mode a single read
// suffices because the reactor will report readiness again.
func (c *Connection) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFrom(c.Fd)
		total += n
		if err != nil {
			if err == buffer.ErrWouldBlock {
				return total, nil
			}
			return total, err
		}
		if n <= 0 {
			return total, nil
		}
		if !c.edge {
			return total, nil
		}
	}
}

// Process parses the read buffer and builds a response. It returns
// false if the read buffer was empty (nothing to process).
func (c *Connection) Process() bool {
	if c.readBuf.Readable() == 0 {
		return false
	}
	if err := c.req.Parse(c.readBuf); err != nil {
		c.startResponse(400, false)
	} else if !c.req.Done() {
		// Incomplete request: wait for more bytes before responding.
		return false
	} else {
		// -1 tells Response.Build to derive the status from the
		// filesystem (200/403/404) instead of presetting success.
		c.startResponse(-1, c.req.IsKeepAlive())
	}
	return true
}

func (c *Connection) startResponse(code int, keepAlive bool) {
	if c.resp == nil {
		c.resp = NewResponse(c.srcDir, c.req.Path, keepAlive, code)
	} else {
		c.resp.Reset(c.srcDir, c.req.Path, keepAlive, code)
	}
	c.resp.Build(c.writeBuf)

	c.iovWrite[0] = c.writeBuf.Peek()
	c.iovOffset = 0
	if len(c.resp.File()) > 0 {
		c.iovWrite[1] = c.resp.File()
		c.iovCount = 2
	} else {
		c.iovCount = 1
	}
}

// KeepAlive reports whether the in-flight response wants to keep the
// connection open.
func (c *Connection) KeepAlive() bool {
	return c.resp != nil && c.resp.KeepAlive
}

// HasPendingWrite reports whether any bytes remain to be written.
func (c *Connection) HasPendingWrite() bool {
	return c.iovCount > 0 && c.remaining() > 0
}

func (c *Connection) remaining() int {
	n := len(c.iovWrite[0]) - c.iovOffset
	if c.iovCount > 1 {
		n += len(c.iovWrite[1])
	}
	return n
}

// Write drains the vectored write slots (write buffer, then mapped
// file body) with writev, advancing the slots by however much the
// kernel accepted. It continues while in edge-triggered mode or while
// more than 10240 bytes remain, matching spec.md §4.8.
func (c *Connection) Write() error {
	for {
		if !c.HasPendingWrite() {
			c.writeBuf.RetrieveAll()
			return nil
		}
		iov := c.buildIov()
		n, err := unix.Writev(c.Fd, iov)
		if n > 0 {
			c.advance(n)
		}
		if err != nil {
			if err == unix.EAGAIN {
				return buffer.ErrWouldBlock
			}
			return err
		}
		if !c.edge && c.remaining() <= 10240 {
			return nil
		}
	}
}

func (c *Connection) buildIov() [][]byte {
	slot0 := c.iovWrite[0][c.iovOffset:]
	if c.iovCount == 1 {
		return [][]byte{slot0}
	}
	return [][]byte{slot0, c.iovWrite[1]}
}

func (c *Connection) advance(n int) {
	slot0Len := len(c.iovWrite[0]) - c.iovOffset
	if n >= slot0Len {
		c.iovOffset = len(c.iovWrite[0])
		n -= slot0Len
		if c.iovCount > 1 {
			c.iovWrite[1] = c.iovWrite[1][n:]
		}
	} else {
		c.iovOffset += n
	}
}
