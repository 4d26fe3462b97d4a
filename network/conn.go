package network

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	dialTimeout   = 30 * time.Second
	fileChunkSize = 64 * 1024
)

// Handler receives connection events. All three methods are invoked on the
// loop goroutine, so implementations may touch protocol state freely.
type Handler interface {
	// HandleConnected fires once when an outgoing dial succeeds. It is not
	// called for accepted connections, which are live on arrival.
	HandleConnected(c *Conn)
	// HandleLine fires for every separator-terminated message, separator
	// stripped.
	HandleLine(c *Conn, line string)
	// HandleClosed fires once when the connection dies, whether by error or
	// by Close. err is nil for a local Close.
	HandleClosed(c *Conn, err error)
}

type writeItem struct {
	line       string
	file       io.Reader
	n          int64
	done       func(err error)
	closeAfter bool
}

// Conn is a message-framed connection. Reads are delivered as events on the
// loop; writes go through an ordered queue drained by a dedicated goroutine
// so that queued lines and file payloads interleave in submission order.
type Conn struct {
	id      string
	loop    *Loop
	nc      net.Conn
	sep     byte
	handler Handler
	log     *slog.Logger

	wmu     sync.Mutex
	wcond   *sync.Cond
	queue   []writeItem
	wclosed bool

	// fileLeft is the number of queued file payload bytes not yet written.
	// Slot accounting reads it from other goroutines.
	fileLeft atomic.Int64
	closed   atomic.Bool
	reported atomic.Bool
}

func newConn(loop *Loop, nc net.Conn, sep byte, handler Handler) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		loop:    loop,
		nc:      nc,
		sep:     sep,
		handler: handler,
	}
	c.log = slog.With("component", "network", "conn", c.id[:8])
	c.wcond = sync.NewCond(&c.wmu)
	return c
}

// Dial opens an outgoing connection asynchronously. HandleConnected or
// HandleClosed is posted to the loop when the dial resolves.
func Dial(loop *Loop, addr string, sep byte, handler Handler) *Conn {
	c := newConn(loop, nil, sep, handler)
	go func() {
		nc, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			loop.Post(func() { c.reportClosed(err) })
			return
		}
		c.nc = nc
		loop.Post(func() {
			if c.closed.Load() {
				nc.Close()
				return
			}
			handler.HandleConnected(c)
			c.start()
		})
	}()
	return c
}

// Accept wraps an already-established connection, typically from a
// listener. The caller must invoke Start once the handler is wired.
func Accept(loop *Loop, nc net.Conn, sep byte, handler Handler) *Conn {
	return newConn(loop, nc, sep, handler)
}

// Start launches the reader and writer goroutines of an accepted
// connection.
func (c *Conn) Start() { c.start() }

func (c *Conn) start() {
	go c.readLoop()
	go c.writeLoop()
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() net.Addr {
	if c.nc == nil {
		return nil
	}
	return c.nc.RemoteAddr()
}

func (c *Conn) LocalAddr() net.Addr {
	if c.nc == nil {
		return nil
	}
	return c.nc.LocalAddr()
}

// SendLine queues one message. The separator is appended here.
func (c *Conn) SendLine(line string) {
	c.enqueue(writeItem{line: line + string(c.sep)})
}

// SendFile queues n bytes from r after everything already queued. The
// reader is drained on the writer goroutine and must not be shared. done, if
// non-nil, is posted to the loop once the payload is written or abandoned.
func (c *Conn) SendFile(r io.Reader, n int64, done func(err error)) {
	c.fileLeft.Add(n)
	c.enqueue(writeItem{file: r, n: n, done: done})
}

// FileBytesLeft reports queued file payload bytes not yet written. Safe
// from any goroutine.
func (c *Conn) FileBytesLeft() int64 {
	return c.fileLeft.Load()
}

func (c *Conn) enqueue(it writeItem) {
	c.wmu.Lock()
	if !c.wclosed {
		c.queue = append(c.queue, it)
		c.wcond.Signal()
	}
	c.wmu.Unlock()
}

// CloseAfterFlush closes the connection once everything queued before the
// call has been written out.
func (c *Conn) CloseAfterFlush() {
	c.enqueue(writeItem{closeAfter: true})
}

// Close tears the connection down. The close event fires with a nil error.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.wmu.Lock()
	c.wclosed = true
	c.wcond.Signal()
	c.wmu.Unlock()
	if c.nc != nil {
		c.nc.Close()
	}
	c.loop.Post(func() { c.reportClosed(nil) })
}

func (c *Conn) fail(err error) {
	if c.closed.CompareAndSwap(false, true) {
		c.wmu.Lock()
		c.wclosed = true
		c.wcond.Signal()
		c.wmu.Unlock()
		c.nc.Close()
		c.loop.Post(func() { c.reportClosed(err) })
	}
}

func (c *Conn) reportClosed(err error) {
	if !c.reported.CompareAndSwap(false, true) {
		return
	}
	if err != nil {
		c.log.Debug("connection closed", "error", err)
	}
	c.handler.HandleClosed(c, err)
}

func (c *Conn) readLoop() {
	r := bufio.NewReader(c.nc)
	for {
		line, err := r.ReadString(c.sep)
		if len(line) > 0 && line[len(line)-1] == c.sep {
			msg := line[:len(line)-1]
			c.loop.Post(func() {
				if !c.closed.Load() {
					c.handler.HandleLine(c, msg)
				}
			})
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		c.wmu.Lock()
		for len(c.queue) == 0 && !c.wclosed {
			c.wcond.Wait()
		}
		if c.wclosed && len(c.queue) == 0 {
			c.wmu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		closed := c.wclosed
		c.wmu.Unlock()

		for _, it := range batch {
			if !closed && it.closeAfter {
				c.Close()
				closed = true
				continue
			}
			if closed {
				if it.file != nil {
					c.fileLeft.Add(-it.n)
					c.finish(it, net.ErrClosed)
				}
				continue
			}
			var err error
			if it.file != nil {
				err = c.writeFile(it)
				c.finish(it, err)
			} else {
				_, err = io.WriteString(c.nc, it.line)
			}
			if err != nil {
				c.fail(err)
				closed = true
			}
		}
		if closed {
			return
		}
	}
}

func (c *Conn) finish(it writeItem, err error) {
	if it.done != nil {
		c.loop.Post(func() { it.done(err) })
	}
}

func (c *Conn) writeFile(it writeItem) error {
	buf := make([]byte, fileChunkSize)
	left := it.n
	for left > 0 {
		chunk := int64(len(buf))
		if chunk > left {
			chunk = left
		}
		n, err := io.ReadFull(it.file, buf[:chunk])
		if n > 0 {
			if _, werr := c.nc.Write(buf[:n]); werr != nil {
				c.fileLeft.Add(-left)
				return werr
			}
			left -= int64(n)
			c.fileLeft.Add(-int64(n))
		}
		if err != nil {
			c.fileLeft.Add(-left)
			return err
		}
	}
	return nil
}
