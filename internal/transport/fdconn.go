package transport

import (
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nao1215/minispider/internal/async"
)

// fdConn adapts a non-blocking socket to net.Conn for crypto/tls.
//
// In the default mode Read and Write suspend the owning task until the
// descriptor is ready. In attempt mode Read returns wouldBlock instead of
// suspending, which lets the caller distinguish "no data yet" from EOF.
type fdConn struct {
	fd      int
	loop    *async.Loop
	co      *async.Co
	attempt bool
	closed  bool
	local   net.Addr
	remote  net.Addr
}

var _ net.Conn = (*fdConn)(nil)

func newFDConn(co *async.Co, fd int) *fdConn {
	c := &fdConn{fd: fd, loop: co.Loop(), co: co}
	if sa, err := unix.Getsockname(fd); err == nil {
		c.local = sockaddrToTCP(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remote = sockaddrToTCP(sa)
	}
	return c
}

func (c *fdConn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if c.attempt {
				return 0, wouldBlock{}
			}
			if err := c.wait(async.EventRead); err != nil {
				return 0, err
			}
		default:
			return 0, &net.OpError{Op: "read", Net: "tcp", Source: c.local, Addr: c.remote, Err: err}
		}
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		switch {
		case err == nil:
			written += n
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := c.wait(async.EventWrite); err != nil {
				return written, err
			}
		default:
			return written, &net.OpError{Op: "write", Net: "tcp", Source: c.local, Addr: c.remote, Err: err}
		}
	}
	return written, nil
}

// wait parks the owning task until the descriptor is ready.
func (c *fdConn) wait(ev async.Events) error {
	var (
		f   *async.Future[struct{}]
		err error
	)
	if ev == async.EventWrite {
		f, err = c.loop.WaitWritable(c.fd)
	} else {
		f, err = c.loop.WaitReadable(c.fd)
	}
	if err != nil {
		return err
	}
	_, err = async.Await(c.co, f)
	return err
}

// Close unregisters the descriptor from the loop, shuts down both directions
// and closes it. Only the first call has an effect.
func (c *fdConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.loop.Registered(c.fd) {
		_ = c.loop.Unregister(c.fd)
	}
	// ENOTCONN when the peer already reset the connection.
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	return unix.Close(c.fd)
}

func (c *fdConn) LocalAddr() net.Addr  { return c.local }
func (c *fdConn) RemoteAddr() net.Addr { return c.remote }

// Deadlines are not supported; the event loop poll timeout is the only timer.
func (c *fdConn) SetDeadline(time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(time.Time) error { return nil }

func sockaddrToTCP(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}
