package extractor

import (
	"iter"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/minispider/internal/httpcodec"
)

// HrefExtractor follows every <a href>, <area href>, <frame src>,
// <iframe src> and <img src> of an HTML document. It honours <base href>.
// Responses that are not HTML yield no links.
type HrefExtractor struct{}

// linkAttrs maps element names to the attribute holding their link.
var linkAttrs = map[string]string{
	"a":      "href",
	"area":   "href",
	"frame":  "src",
	"iframe": "src",
	"img":    "src",
}

// Extract implements Extractor.
func (HrefExtractor) Extract(resp *httpcodec.Response) (iter.Seq[string], error) {
	if !isHTML(resp) {
		return func(func(string) bool) {}, nil
	}
	doc, err := parseHTML(resp)
	if err != nil {
		return nil, err
	}
	base := documentBase(doc, resp.URL)

	return func(yield func(string) bool) {
		walk(doc, func(n *html.Node) bool {
			attr, ok := linkAttrs[n.Data]
			if n.Type != html.ElementNode || !ok {
				return true
			}
			for _, a := range n.Attr {
				if a.Key != attr {
					continue
				}
				if link, ok := Resolve(base, a.Val); ok {
					return yield(link)
				}
			}
			return true
		})
	}, nil
}

// walk visits n and its descendants depth-first until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func documentBase(doc *html.Node, fallback *url.URL) *url.URL {
	base := fallback
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "base" {
			return true
		}
		for _, a := range n.Attr {
			if a.Key == "href" {
				if u, err := url.Parse(strings.TrimSpace(a.Val)); err == nil {
					if fallback != nil {
						u = fallback.ResolveReference(u)
					}
					base = u
				}
				return false
			}
		}
		return true
	})
	return base
}

func isHTML(resp *httpcodec.Response) bool {
	ct := resp.ContentType()
	return ct == "" || ct == "text/html" || ct == "application/xhtml+xml"
}
