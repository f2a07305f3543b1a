// Package extractor finds the follow-on links of a fetched page.
//
// Extraction is a capability, not a subclass hook: the crawler accepts any
// Extractor, and the site-specific rule sets loaded from configuration are
// just other implementations.
//
//   - HrefExtractor walks the document with golang.org/x/net/html.
//   - XPathExtractor evaluates XPath rules with github.com/antchfx/htmlquery.
//   - SelectorExtractor evaluates CSS selectors with github.com/PuerkitoBio/goquery.
//   - Chain concatenates extractors, e.g. media rules followed by page rules.
//
// Bodies are decoded to UTF-8 with golang.org/x/net/html/charset before
// parsing, so documents served as Shift_JIS or ISO-8859-1 resolve correctly.
package extractor
