package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/httpcodec"
)

const (
	minReadBackoff = time.Millisecond
	maxReadBackoff = 32 * time.Millisecond
)

// Conn is one client connection, plain or TLS. It is owned by the task that
// called Connect.
type Conn struct {
	raw           *fdConn
	tls           *tls.Conn
	url           *url.URL
	host          string
	readSize      int
	maxEmptyReads int
	maxResponse   int64
	userAgent     string
	closed        bool
}

// URL returns the URL the connection was opened for.
func (c *Conn) URL() *url.URL {
	return c.url
}

// TLS reports whether the connection negotiated TLS.
func (c *Conn) TLS() bool {
	return c.tls != nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed
}

func (c *Conn) stream() net.Conn {
	if c.tls != nil {
		return c.tls
	}
	return c.raw
}

// SendRequest writes a request for target, e.g. "/index.html?page=2". The
// write suspends the task while the socket buffer is full.
func (c *Conn) SendRequest(method, target, host string) error {
	if c.closed {
		return ErrClosed
	}
	c.raw.attempt = false
	header := http.Header{
		"User-Agent": []string{c.userAgent},
		"Accept":     []string{"*/*"},
	}
	if err := httpcodec.WriteRequest(c.stream(), method, target, host, header); err != nil {
		return fmt.Errorf("send request to %s: %w", host, err)
	}
	return nil
}

// ReadChunk performs one read attempt of at most max bytes. It suspends
// until the socket is readable unless data is already buffered. It returns
// ErrInProgress when the socket was readable but no application data could
// be produced yet, and io.EOF when the peer closed the connection.
func (c *Conn) ReadChunk(max int) ([]byte, error) {
	if max <= 0 {
		max = c.readSize
	}
	buf := make([]byte, max)
	n, err := c.readChunk(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *Conn) readChunk(buf []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}

	// TLS may hold decrypted or raw bytes from an earlier read, so try
	// before waiting for readiness.
	n, err := c.attempt(buf)
	if !errors.Is(err, ErrInProgress) {
		return n, err
	}
	if err := c.raw.wait(async.EventRead); err != nil {
		return 0, err
	}
	return c.attempt(buf)
}

func (c *Conn) attempt(buf []byte) (int, error) {
	c.raw.attempt = true
	defer func() { c.raw.attempt = false }()

	n, err := c.stream().Read(buf)
	var wb wouldBlock
	switch {
	case n > 0:
		return n, nil
	case err == nil, errors.As(err, &wb):
		return 0, ErrInProgress
	default:
		return 0, err
	}
}

// ReadFramed reads until a complete response has been received and returns
// it parsed. Empty reads are retried after a short backoff, up to the
// configured limit, before an unfinished response is reported as a protocol
// error. A response larger than the configured maximum fails with a
// protocol error wrapping httpcodec.ErrTooLarge.
func (c *Conn) ReadFramed(method string) (*httpcodec.Response, error) {
	framer := httpcodec.NewFramer(method)
	framer.SetMaxSize(c.maxResponse)
	buf := make([]byte, c.readSize)
	empty := 0
	backoff := minReadBackoff

	for {
		n, err := c.readChunk(buf)
		switch {
		case err == nil:
			empty, backoff = 0, minReadBackoff
			done, ferr := framer.Feed(buf[:n])
			if ferr != nil {
				return nil, ferr
			}
			if done {
				return httpcodec.ParseResponse(framer.Raw(), method, c.url)
			}
		case errors.Is(err, ErrInProgress):
		case errors.Is(err, io.EOF):
			ferr := framer.Finish()
			if ferr == nil {
				return httpcodec.ParseResponse(framer.Raw(), method, c.url)
			}
			empty++
			if empty > c.maxEmptyReads {
				return nil, ferr
			}
			if err := async.Sleep(c.raw.co, backoff); err != nil {
				return nil, err
			}
			backoff = min(backoff*2, maxReadBackoff)
		default:
			return nil, err
		}
	}
}

// Close closes the socket. Only the first call has an effect.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.raw.Close()
}
