package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/httpcodec"
)

const (
	// DefaultReadSize is the buffer size of a single read attempt.
	DefaultReadSize = 64 * 1024

	// DefaultMaxEmptyReads is how many consecutive empty reads ReadFramed
	// tolerates before giving up on an unfinished response.
	DefaultMaxEmptyReads = 3

	// DefaultMaxResponseSize bounds how much of a single response
	// ReadFramed buffers.
	DefaultMaxResponseSize = 64 << 20
)

// Dialer opens connections on an event loop.
type Dialer struct {
	loop          *async.Loop
	resolver      *Resolver
	tlsConfig     *tls.Config
	certFile      string
	ciphers       []string
	readSize      int
	maxEmptyReads int
	maxResponse   int64
	userAgent     string
	logger        *slog.Logger
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithTLSConfig uses cfg as is, ignoring the cert file and cipher options.
func WithTLSConfig(cfg *tls.Config) DialerOption {
	return func(d *Dialer) {
		d.tlsConfig = cfg
	}
}

// WithCertFile sets the CA bundle used to verify servers.
func WithCertFile(path string) DialerOption {
	return func(d *Dialer) {
		d.certFile = path
	}
}

// WithCiphers sets the cipher policy. An empty list allows the Go defaults.
func WithCiphers(names []string) DialerOption {
	return func(d *Dialer) {
		d.ciphers = names
	}
}

// WithResolver replaces the DNS resolver.
func WithResolver(r *Resolver) DialerOption {
	return func(d *Dialer) {
		d.resolver = r
	}
}

// WithReadSize sets the buffer size of a single read attempt.
func WithReadSize(n int) DialerOption {
	return func(d *Dialer) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// WithMaxEmptyReads sets how many consecutive empty reads are tolerated.
func WithMaxEmptyReads(n int) DialerOption {
	return func(d *Dialer) {
		if n >= 0 {
			d.maxEmptyReads = n
		}
	}
}

// WithMaxResponseSize limits the size of a response, head included. Zero
// disables the limit.
func WithMaxResponseSize(n int64) DialerOption {
	return func(d *Dialer) {
		if n >= 0 {
			d.maxResponse = n
		}
	}
}

// WithUserAgent sets the User-Agent header of requests.
func WithUserAgent(ua string) DialerOption {
	return func(d *Dialer) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// WithDialerLogger sets the logger.
func WithDialerLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDialer creates a Dialer bound to loop.
func NewDialer(loop *async.Loop, opts ...DialerOption) (*Dialer, error) {
	d := &Dialer{
		loop:          loop,
		certFile:      DefaultCertFile,
		ciphers:       DefaultCiphers,
		readSize:      DefaultReadSize,
		maxEmptyReads: DefaultMaxEmptyReads,
		maxResponse:   DefaultMaxResponseSize,
		userAgent:     httpcodec.DefaultUserAgent,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.resolver == nil {
		d.resolver = NewResolver(loop, nil, loop.PollTimeout())
	}
	if d.tlsConfig == nil {
		cfg, fallback, err := NewTLSConfig(d.certFile, d.ciphers)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS configuration: %w", err)
		}
		if fallback {
			d.logger.Debug("CA bundle unavailable, using system roots", "component", "transport", "cert_file", d.certFile)
		}
		d.tlsConfig = cfg
	}
	return d, nil
}

// Connect opens a connection to the host of target. http uses a plain socket
// on port 80 by default, https negotiates TLS on port 443 by default.
func (d *Dialer) Connect(co *async.Co, target *url.URL) (*Conn, error) {
	scheme := strings.ToLower(target.Scheme)
	var defaultPort int
	switch scheme {
	case "http":
		defaultPort = 80
	case "https":
		defaultPort = 443
	default:
		return nil, &ConnectError{Addr: target.Host, Op: "dial", Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)}
	}

	host := target.Hostname()
	port := defaultPort
	if p := target.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, &ConnectError{Addr: target.Host, Op: "dial", Err: fmt.Errorf("invalid port %q", p)}
		}
		port = n
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ips, err := d.resolver.Resolve(co, host)
	if err != nil {
		if errors.Is(err, async.ErrCancelled) {
			return nil, err
		}
		return nil, &ConnectError{Addr: addr, Op: "resolve", Err: err}
	}

	fd := -1
	lastErr := error(ErrNoAddress)
	for _, ip := range ips {
		fd, err = d.connectIP(co, ip, port)
		if err == nil {
			break
		}
		if errors.Is(err, async.ErrCancelled) {
			return nil, err
		}
		lastErr = err
	}
	if fd < 0 {
		return nil, &ConnectError{Addr: addr, Op: "connect", Err: lastErr}
	}

	conn := &Conn{
		raw:           newFDConn(co, fd),
		url:           target,
		host:          host,
		readSize:      d.readSize,
		maxEmptyReads: d.maxEmptyReads,
		maxResponse:   d.maxResponse,
		userAgent:     d.userAgent,
	}

	if scheme == "https" {
		cfg := d.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tc := tls.Client(conn.raw, cfg)
		if err := tc.Handshake(); err != nil {
			_ = conn.Close()
			if errors.Is(err, async.ErrCancelled) {
				return nil, err
			}
			return nil, &TLSError{Host: host, Err: err}
		}
		conn.tls = tc
	}

	d.logger.Debug("connected", "component", "transport", "addr", addr, "tls", conn.tls != nil)
	return conn, nil
}

// connectIP performs a non-blocking connect and waits for it to finish.
func (d *Dialer) connectIP(co *async.Co, ip net.IP, port int) (int, error) {
	var (
		family int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		family = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: port, Addr: [4]byte(ip4)}
	} else if ip16 := ip.To16(); ip16 != nil {
		family = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port, Addr: [16]byte(ip16)}
	} else {
		return -1, ErrNoAddress
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, nil
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return -1, err
	}

	writable, err := d.loop.WaitWritable(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if _, err := async.Await(co, writable); err != nil {
		if d.loop.Registered(fd) {
			_ = d.loop.Unregister(fd)
		}
		_ = unix.Close(fd)
		return -1, err
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if soErr != 0 {
		_ = unix.Close(fd)
		return -1, unix.Errno(soErr)
	}
	return fd, nil
}
