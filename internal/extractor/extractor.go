package extractor

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/nao1215/minispider/internal/httpcodec"
)

// Extractor produces the follow-on links of a fetched response.
//
// The returned sequence is lazy, finite and restartable: ranging over it a
// second time yields the same links again. Every link is an absolute URL
// resolved against the response URL. A document that cannot be parsed at
// all is reported as an *ExtractionError before any link is produced.
type Extractor interface {
	Extract(resp *httpcodec.Response) (iter.Seq[string], error)
}

// ExtractionError reports a link extractor failure.
type ExtractionError struct {
	// URL is the address of the document being parsed.
	URL string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract links from %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// decodedBody returns the body converted to UTF-8 according to the
// Content-Type header or the document's own meta declaration.
func decodedBody(resp *httpcodec.Response) (io.Reader, error) {
	return charset.NewReader(bytes.NewReader(resp.Body), resp.Header.Get("Content-Type"))
}

// parseHTML parses the response body into a node tree.
func parseHTML(resp *httpcodec.Response) (*html.Node, error) {
	r, err := decodedBody(resp)
	if err != nil {
		return nil, &ExtractionError{URL: urlString(resp.URL), Err: err}
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, &ExtractionError{URL: urlString(resp.URL), Err: err}
	}
	return doc, nil
}

// Resolve turns a raw attribute value into an absolute http(s) URL without
// fragment. It reports false for empty values, in-page anchors and other
// schemes such as mailto: or javascript:.
func Resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	switch strings.ToLower(abs.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// Chain concatenates the links of several extractors in order. Listing the
// media rules first makes media links come out first.
type Chain []Extractor

// Extract implements Extractor.
func (c Chain) Extract(resp *httpcodec.Response) (iter.Seq[string], error) {
	seqs := make([]iter.Seq[string], 0, len(c))
	for _, e := range c {
		seq, err := e.Extract(resp)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return func(yield func(string) bool) {
		for _, seq := range seqs {
			for link := range seq {
				if !yield(link) {
					return
				}
			}
		}
	}, nil
}
