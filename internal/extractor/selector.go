package extractor

import (
	"fmt"
	"iter"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/nao1215/minispider/internal/httpcodec"
)

// SelectorExtractor yields the href or src attribute of every element that
// matches a list of CSS selectors, for example "ul#tag-sidebar li a".
type SelectorExtractor struct {
	selectors []string
}

// NewSelectorExtractor validates selectors. An invalid selector is an error.
func NewSelectorExtractor(selectors []string) (*SelectorExtractor, error) {
	for _, sel := range selectors {
		if _, err := cascadia.Parse(sel); err != nil {
			return nil, fmt.Errorf("invalid css selector %q: %w", sel, err)
		}
	}
	return &SelectorExtractor{selectors: selectors}, nil
}

// Extract implements Extractor.
func (s *SelectorExtractor) Extract(resp *httpcodec.Response) (iter.Seq[string], error) {
	r, err := decodedBody(resp)
	if err != nil {
		return nil, &ExtractionError{URL: urlString(resp.URL), Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ExtractionError{URL: urlString(resp.URL), Err: err}
	}
	base := resp.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if link, ok := Resolve(resp.URL, href); ok {
			if u, err := url.Parse(link); err == nil {
				base = u
			}
		}
	}

	return func(yield func(string) bool) {
		for _, sel := range s.selectors {
			stopped := false
			doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
				raw, ok := el.Attr("href")
				if !ok {
					raw, ok = el.Attr("src")
				}
				if !ok {
					return true
				}
				if link, ok := Resolve(base, raw); ok && !yield(link) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				return
			}
		}
	}, nil
}
