package crawler

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/nao1215/minispider/internal/httpcodec"
	"github.com/nao1215/minispider/internal/model"
)

// maxTitleLength bounds Page.Title.
const maxTitleLength = 512

// fillPage copies what the catalog keeps about a response onto page.
func fillPage(page *model.Page, resp *httpcodec.Response) {
	page.StatusCode = resp.StatusCode
	page.ContentType = resp.ContentType()
	page.Raw = resp.Body
	page.TruncateRaw()
	page.ComputeHash()
	if page.IsHTML() && !resp.IsRedirect() {
		page.Title = documentTitle(resp)
	}
}

// documentTitle returns the text of the first <title> element, with runs of
// white space collapsed.
func documentTitle(resp *httpcodec.Response) string {
	r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}
	title := findTitle(doc)
	if title == nil {
		return ""
	}

	var sb strings.Builder
	for c := title.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	text := strings.Join(strings.Fields(sb.String()), " ")
	if len(text) > maxTitleLength {
		text = strings.ToValidUTF8(text[:maxTitleLength], "")
	}
	return text
}

func findTitle(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "title" {
		return n
	}
	// <svg><title> is not the document title.
	if n.Type == html.ElementNode && n.Data == "svg" {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != nil {
			return t
		}
	}
	return nil
}
