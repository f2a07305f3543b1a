package httpcodec

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// DefaultUserAgent is sent when no other User-Agent is configured.
const DefaultUserAgent = "minispider/0.1 (+https://github.com/nao1215/minispider)"

// RequestTarget returns the origin-form request target for u: the escaped
// path, "/" when empty, plus the raw query.
func RequestTarget(u *url.URL) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

// WriteRequest writes a minimal HTTP/1.1 request with no body. Host and
// Connection are always sent; extra headers follow in sorted order.
func WriteRequest(w io.Writer, method, target, host string, extra http.Header) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, target)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Connection: keep-alive\r\n")

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "Host" || k == "Connection" {
			continue
		}
		for _, v := range extra[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")

	_, err := w.Write(b.Bytes())
	return err
}
