package httpcodec

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Response is a fully received HTTP response with a decoded body.
type Response struct {
	// StatusCode is the numeric status, e.g. 200.
	StatusCode int
	// Status is the status line text, e.g. "200 OK".
	Status string
	// Proto is the protocol version, e.g. "HTTP/1.1".
	Proto string
	// Header lookups are case-insensitive through Header.Get.
	Header http.Header
	// Body holds the complete payload with any chunked encoding removed.
	Body []byte
	// URL is the address that was requested.
	URL *url.URL
}

// ParseResponse parses a complete raw response. The body is read in full and
// the response is marked as not chunked: Transfer-Encoding is dropped and
// Content-Length reflects the decoded body.
func ParseResponse(raw []byte, method string, target *url.URL) (*Response, error) {
	req := &http.Request{Method: method, URL: target}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		return nil, &ProtocolError{Reason: "cannot parse response", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProtocolError{Reason: "cannot read response body", Err: err}
	}

	resp.TransferEncoding = nil
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Transfer-Encoding")

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		Header:     resp.Header,
		Body:       body,
		URL:        target,
	}, nil
}

// IsRedirect reports whether code is in the 3xx range.
func IsRedirect(code int) bool {
	return code >= 300 && code <= 399
}

// IsRedirect reports whether the response is a redirect.
func (r *Response) IsRedirect() bool {
	return IsRedirect(r.StatusCode)
}

// Location returns the Location header resolved against the request URL.
// It returns nil when the header is missing or unparsable.
func (r *Response) Location() *url.URL {
	loc := strings.TrimSpace(r.Header.Get("Location"))
	if loc == "" {
		return nil
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return nil
	}
	if r.URL == nil {
		return ref
	}
	return r.URL.ResolveReference(ref)
}

// ContentType returns the media type without parameters, lower-cased.
func (r *Response) ContentType() string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

// Charset returns the charset parameter of Content-Type, if any.
func (r *Response) Charset() string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}
