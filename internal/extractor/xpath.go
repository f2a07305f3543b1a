package extractor

import (
	"fmt"
	"iter"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/nao1215/minispider/internal/httpcodec"
)

// XPathExtractor yields the values selected by a list of XPath rules, for
// example //div[@class='paginator']/a/@href. A rule may select attributes
// directly or elements, in which case their href or src attribute is used.
type XPathExtractor struct {
	rules []*xpath.Expr
	raw   []string
}

// NewXPathExtractor compiles rules. An invalid expression is an error.
func NewXPathExtractor(rules []string) (*XPathExtractor, error) {
	x := &XPathExtractor{raw: rules}
	for _, rule := range rules {
		expr, err := xpath.Compile(rule)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath rule %q: %w", rule, err)
		}
		x.rules = append(x.rules, expr)
	}
	return x, nil
}

// Rules returns the source expressions.
func (x *XPathExtractor) Rules() []string {
	return x.raw
}

// Extract implements Extractor. Links are produced rule by rule, in document
// order within each rule.
func (x *XPathExtractor) Extract(resp *httpcodec.Response) (iter.Seq[string], error) {
	r, err := decodedBody(resp)
	if err != nil {
		return nil, &ExtractionError{URL: urlString(resp.URL), Err: err}
	}
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, &ExtractionError{URL: urlString(resp.URL), Err: err}
	}
	base := documentBase(doc, resp.URL)

	return func(yield func(string) bool) {
		for _, expr := range x.rules {
			for _, n := range htmlquery.QuerySelectorAll(doc, expr) {
				if link, ok := Resolve(base, nodeLink(n)); ok {
					if !yield(link) {
						return
					}
				}
			}
		}
	}, nil
}

// nodeLink returns the link carried by a selected node.
func nodeLink(n *html.Node) string {
	if n.Type == html.ElementNode {
		if v := htmlquery.SelectAttr(n, "href"); v != "" {
			return v
		}
		if v := htmlquery.SelectAttr(n, "src"); v != "" {
			return v
		}
	}
	return htmlquery.InnerText(n)
}
