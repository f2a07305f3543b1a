package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrInProgress is returned by ReadChunk when the socket was readable but
	// no application data is available yet, typically because only part of
	// a TLS record has arrived. Callers retry; it is not a failure.
	ErrInProgress = errors.New("read in progress")

	// ErrUnsupportedScheme is returned for URLs that are neither http nor https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrClosed is returned when using a connection after Close.
	ErrClosed = errors.New("connection closed")

	// ErrNoAddress is returned when a host resolves to no usable address.
	ErrNoAddress = errors.New("host has no usable address")
)

// ConnectError reports a failure to establish the TCP connection: an
// unsupported scheme, a resolution failure, or a refused connect.
type ConnectError struct {
	// Addr is the host:port that was dialed.
	Addr string
	// Op is the failing step, e.g. "resolve" or "connect".
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TLSError reports a handshake or certificate verification failure.
type TLSError struct {
	// Host is the server name that was verified.
	Host string
	// Err is the underlying crypto/tls error.
	Err error
}

// Error implements the error interface.
func (e *TLSError) Error() string {
	return fmt.Sprintf("tls handshake with %s: %v", e.Host, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TLSError) Unwrap() error {
	return e.Err
}

// wouldBlock is handed to crypto/tls when a read attempt finds no data. It is
// a temporary net.Error, which crypto/tls does not record as a permanent
// connection failure.
type wouldBlock struct{}

func (wouldBlock) Error() string   { return "operation would block" }
func (wouldBlock) Timeout() bool   { return true }
func (wouldBlock) Temporary() bool { return true }
