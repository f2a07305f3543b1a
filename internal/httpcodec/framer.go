package httpcodec

import (
	"bufio"
	"bytes"
	"math"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Mode is the body framing of a response.
type Mode int

const (
	// ModeUnknown means the header block has not been fully received yet.
	ModeUnknown Mode = iota
	// ModeNoBody is used for HEAD responses and 101, 204 and 304 statuses.
	ModeNoBody
	// ModeChunked is Transfer-Encoding: chunked.
	ModeChunked
	// ModeLength is a body delimited by Content-Length.
	ModeLength
	// ModeClose is a body delimited by the peer closing the connection.
	ModeClose
)

// String returns the mode name used in log output.
func (m Mode) String() string {
	switch m {
	case ModeNoBody:
		return "no-body"
	case ModeChunked:
		return "chunked"
	case ModeLength:
		return "content-length"
	case ModeClose:
		return "close-delimited"
	default:
		return "unknown"
	}
}

// maxInterims bounds the interim heads accepted ahead of the final one.
const maxInterims = 16

var (
	crlf     = []byte("\r\n")
	headTerm = []byte("\r\n\r\n")
)

// Framer accumulates a response byte stream and reports when a complete
// response has been received.
type Framer struct {
	buf      []byte
	headEnd  int
	mode     Mode
	status   int
	length   int64
	chunkPos int
	end      int
	complete bool
	headOnly bool
	maxSize  int64
	interims int
}

// NewFramer creates a Framer for a response to a request with the given
// method. Responses to HEAD never carry a body.
func NewFramer(method string) *Framer {
	return &Framer{headEnd: -1, end: -1, headOnly: strings.EqualFold(method, "HEAD")}
}

// SetMaxSize limits how many bytes a response may occupy, interim heads
// excluded. Zero or a negative n removes the limit.
func (f *Framer) SetMaxSize(n int64) {
	f.maxSize = n
}

// Feed appends p and reports whether the response is complete. Bytes received
// after completion are ignored. Interim 1xx heads other than 101 are dropped
// and framing continues with the head that follows them.
func (f *Framer) Feed(p []byte) (bool, error) {
	if f.complete {
		return true, nil
	}
	f.buf = append(f.buf, p...)

	for f.headEnd < 0 {
		idx := bytes.Index(f.buf, headTerm)
		if idx < 0 {
			return false, f.checkSize(int64(len(f.buf)))
		}
		f.headEnd = idx + len(headTerm)
		if err := f.parseHead(); err != nil {
			return false, err
		}
		if isInterim(f.status) {
			if f.interims == maxInterims {
				return false, &ProtocolError{Reason: "too many interim responses"}
			}
			f.buf = f.buf[f.headEnd:]
			f.headEnd, f.status, f.mode = -1, 0, ModeUnknown
			f.interims++
		}
	}

	switch f.mode {
	case ModeNoBody:
		f.finish(f.headEnd)
	case ModeLength:
		if f.maxSize > 0 && f.length > f.maxSize-int64(f.headEnd) {
			return false, f.tooLarge()
		}
		if int64(len(f.buf)-f.headEnd) >= f.length {
			f.finish(f.headEnd + int(f.length))
		}
	case ModeChunked:
		if _, err := f.scanChunks(); err != nil {
			return false, err
		}
	}

	size := int64(len(f.buf))
	if f.complete {
		size = int64(f.end)
	}
	if err := f.checkSize(size); err != nil {
		f.complete, f.end = false, -1
		return false, err
	}
	return f.complete, nil
}

func (f *Framer) checkSize(n int64) error {
	if f.maxSize > 0 && n > f.maxSize {
		return f.tooLarge()
	}
	return nil
}

func (f *Framer) tooLarge() error {
	return &ProtocolError{Reason: "response exceeds " + strconv.FormatInt(f.maxSize, 10) + " bytes", Err: ErrTooLarge}
}

func isInterim(status int) bool {
	return status/100 == 1 && status != http.StatusSwitchingProtocols
}

// Finish is called when the peer closed the connection. A close-delimited
// body is complete at that point; any other unfinished response yields
// ErrIncomplete.
func (f *Framer) Finish() error {
	if f.complete {
		return nil
	}
	if f.mode == ModeClose {
		f.finish(len(f.buf))
		return nil
	}
	return &ProtocolError{Reason: "premature close", Err: ErrIncomplete}
}

// Complete reports whether a whole response has been received.
func (f *Framer) Complete() bool {
	return f.complete
}

// Mode returns the detected body framing.
func (f *Framer) Mode() Mode {
	return f.mode
}

// StatusCode returns the parsed status code, or 0 before the head arrived.
func (f *Framer) StatusCode() int {
	return f.status
}

// HeadLength returns the size of the status line and header block, or -1.
func (f *Framer) HeadLength() int {
	return f.headEnd
}

// Buffered returns how many bytes of the current response are held.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Interims returns how many interim 1xx heads were skipped.
func (f *Framer) Interims() int {
	return f.interims
}

// Raw returns the bytes of the complete response, excluding anything that
// arrived after its end. Before completion it returns everything buffered.
func (f *Framer) Raw() []byte {
	if f.end >= 0 {
		return f.buf[:f.end]
	}
	return f.buf
}

func (f *Framer) finish(end int) {
	f.end = end
	f.complete = true
}

func (f *Framer) parseHead() error {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(f.buf[:f.headEnd])))
	line, err := r.ReadLine()
	if err != nil {
		return &ProtocolError{Reason: "missing status line", Err: err}
	}
	status, err := parseStatusLine(line)
	if err != nil {
		return err
	}
	f.status = status

	header, err := r.ReadMIMEHeader()
	if err != nil {
		return &ProtocolError{Reason: "malformed header block", Err: err}
	}

	switch {
	case f.headOnly, status/100 == 1, status == 204, status == 304:
		f.mode = ModeNoBody
	case isChunked(header.Values("Transfer-Encoding")):
		f.mode = ModeChunked
		f.chunkPos = f.headEnd
	case header.Get("Content-Length") != "":
		n, err := strconv.ParseInt(strings.TrimSpace(header.Get("Content-Length")), 10, 64)
		if err != nil || n < 0 {
			return &ProtocolError{Reason: "invalid Content-Length " + strconv.Quote(header.Get("Content-Length")), Err: err}
		}
		f.mode = ModeLength
		f.length = n
	default:
		f.mode = ModeClose
	}
	return nil
}

func parseStatusLine(line string) (int, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return 0, &ProtocolError{Reason: "malformed status line " + strconv.Quote(line)}
	}
	code, _, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 || status < 100 {
		return 0, &ProtocolError{Reason: "malformed status code " + strconv.Quote(code), Err: err}
	}
	return status, nil
}

func isChunked(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "chunked") {
				return true
			}
		}
	}
	return false
}

// scanChunks advances over every complete chunk buffered so far. The
// response ends after the terminal zero-size chunk and its trailer block.
func (f *Framer) scanChunks() (bool, error) {
	for {
		rest := f.buf[f.chunkPos:]
		lineEnd := bytes.Index(rest, crlf)
		if lineEnd < 0 {
			return false, nil
		}
		sizeField, _, _ := strings.Cut(string(rest[:lineEnd]), ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil || size < 0 {
			return false, &ProtocolError{Reason: "invalid chunk size line " + strconv.Quote(string(rest[:lineEnd])), Err: err}
		}
		dataStart := lineEnd + len(crlf)

		if size == 0 {
			trailers := rest[dataStart:]
			if bytes.HasPrefix(trailers, crlf) {
				f.finish(f.chunkPos + dataStart + len(crlf))
				return true, nil
			}
			if idx := bytes.Index(trailers, headTerm); idx >= 0 {
				f.finish(f.chunkPos + dataStart + idx + len(headTerm))
				return true, nil
			}
			return false, nil
		}

		if size > math.MaxInt64-int64(f.chunkPos+dataStart+len(crlf)) {
			return false, &ProtocolError{Reason: "chunk size too large " + strconv.Quote(string(rest[:lineEnd]))}
		}
		need := int64(dataStart) + size + int64(len(crlf))
		if err := f.checkSize(int64(f.chunkPos) + need); err != nil {
			return false, err
		}
		if int64(len(rest)) < need {
			return false, nil
		}
		if !bytes.Equal(rest[need-2:need], crlf) {
			return false, &ProtocolError{Reason: "chunk data not terminated by CRLF"}
		}
		f.chunkPos += int(need)
	}
}
