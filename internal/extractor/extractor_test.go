package extractor

import (
	"errors"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"testing"

	"github.com/nao1215/minispider/internal/httpcodec"
)

const galleryPage = `<!DOCTYPE html>
<html><head><title>gallery</title></head>
<body>
  <div class="paginator"><a href="/post?page=2">2</a><a href="/post?page=3#top">3</a></div>
  <ul id="tag-sidebar">
    <li><a href="?">?</a><a href="/post?tags=sky">sky</a></li>
    <li><a href="?">?</a><a href="/post?tags=sea">sea</a></li>
  </ul>
  <img class="preview" src="//cdn.example.com/data/preview/1.jpg">
  <img class="avatar" src="/avatar.png">
  <a href="mailto:someone@example.com">mail</a>
  <a href="javascript:void(0)">js</a>
  <a href="#section">anchor</a>
  <a href="https://other.example.org/x">external</a>
</body></html>`

func htmlResponse(t *testing.T, rawURL, body string) *httpcodec.Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	return &httpcodec.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
		URL:        u,
	}
}

func collect(t *testing.T, e Extractor, resp *httpcodec.Response) []string {
	t.Helper()
	seq, err := e.Extract(resp)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	return slices.Collect(seq)
}

func TestHrefExtractor(t *testing.T) {
	t.Parallel()

	resp := htmlResponse(t, "https://example.com/post", galleryPage)
	got := collect(t, HrefExtractor{}, resp)
	want := []string{
		"https://example.com/post?page=2",
		"https://example.com/post?page=3",
		"https://example.com/post?",
		"https://example.com/post?tags=sky",
		"https://example.com/post?",
		"https://example.com/post?tags=sea",
		"https://cdn.example.com/data/preview/1.jpg",
		"https://example.com/avatar.png",
		"https://other.example.org/x",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Extract() =\n%v\nwant\n%v", got, want)
	}
}

func TestHrefExtractorRestartable(t *testing.T) {
	t.Parallel()

	resp := htmlResponse(t, "http://example.com/", galleryPage)
	seq, err := HrefExtractor{}.Extract(resp)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) == 0 || !slices.Equal(first, second) {
		t.Errorf("second iteration = %v, want %v", second, first)
	}

	// Stopping early must not panic.
	for range seq {
		break
	}
}

func TestHrefExtractorBaseAndCharset(t *testing.T) {
	t.Parallel()

	body := "<html><head><base href=\"http://mirror.example.com/root/\"></head>" +
		"<body><a href=\"caf\xe9.html\">x</a></body></html>"
	u, _ := url.Parse("http://example.com/index.html")
	resp := &httpcodec.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=iso-8859-1"}},
		Body:       []byte(body),
		URL:        u,
	}
	got := collect(t, HrefExtractor{}, resp)
	if len(got) != 1 || got[0] != "http://mirror.example.com/root/caf%C3%A9.html" {
		t.Errorf("Extract() = %v", got)
	}
}

func TestHrefExtractorSkipsNonHTML(t *testing.T) {
	t.Parallel()

	resp := htmlResponse(t, "http://example.com/img.jpg", "<a href=\"/x\">x</a>")
	resp.Header.Set("Content-Type", "image/jpeg")
	if got := collect(t, HrefExtractor{}, resp); len(got) != 0 {
		t.Errorf("Extract() on image = %v, want none", got)
	}
}

func TestXPathExtractor(t *testing.T) {
	t.Parallel()

	x, err := NewXPathExtractor([]string{
		"//img[@class='preview']/@src",
		"//div[@class='paginator']/a/@href",
		"//ul[@id='tag-sidebar']/li/a[2]",
	})
	if err != nil {
		t.Fatalf("NewXPathExtractor() error = %v", err)
	}
	got := collect(t, x, htmlResponse(t, "http://example.com/post", galleryPage))
	want := []string{
		"http://cdn.example.com/data/preview/1.jpg",
		"http://example.com/post?page=2",
		"http://example.com/post?page=3",
		"http://example.com/post?tags=sky",
		"http://example.com/post?tags=sea",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Extract() =\n%v\nwant\n%v", got, want)
	}

	if _, err := NewXPathExtractor([]string{"//div[@class="}); err == nil {
		t.Error("NewXPathExtractor() with broken rule should fail")
	}
}

func TestSelectorExtractor(t *testing.T) {
	t.Parallel()

	s, err := NewSelectorExtractor([]string{"ul#tag-sidebar li a:nth-child(2)", "img.preview"})
	if err != nil {
		t.Fatalf("NewSelectorExtractor() error = %v", err)
	}
	got := collect(t, s, htmlResponse(t, "https://example.com/post", galleryPage))
	want := []string{
		"https://example.com/post?tags=sky",
		"https://example.com/post?tags=sea",
		"https://cdn.example.com/data/preview/1.jpg",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Extract() =\n%v\nwant\n%v", got, want)
	}

	if _, err := NewSelectorExtractor([]string{"ul[["}); err == nil {
		t.Error("NewSelectorExtractor() with broken selector should fail")
	}
}

type failingExtractor struct{}

func (failingExtractor) Extract(*httpcodec.Response) (iter.Seq[string], error) {
	return nil, &ExtractionError{URL: "http://example.com/", Err: errors.New("broken")}
}

func TestChain(t *testing.T) {
	t.Parallel()

	media, err := NewXPathExtractor([]string{"//img[@class='preview']/@src"})
	if err != nil {
		t.Fatalf("NewXPathExtractor() error = %v", err)
	}
	pages, err := NewXPathExtractor([]string{"//div[@class='paginator']/a/@href"})
	if err != nil {
		t.Fatalf("NewXPathExtractor() error = %v", err)
	}
	resp := htmlResponse(t, "http://example.com/post", galleryPage)

	got := collect(t, Chain{media, pages}, resp)
	want := []string{
		"http://cdn.example.com/data/preview/1.jpg",
		"http://example.com/post?page=2",
		"http://example.com/post?page=3",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Chain.Extract() = %v, want %v", got, want)
	}

	_, err = Chain{media, failingExtractor{}}.Extract(resp)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Errorf("Chain.Extract() error = %v, want *ExtractionError", err)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("http://example.com/dir/page.html")
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{raw: "other.html", want: "http://example.com/dir/other.html", wantOK: true},
		{raw: " /abs#frag ", want: "http://example.com/abs", wantOK: true},
		{raw: "//cdn.example.com/a.jpg", want: "http://cdn.example.com/a.jpg", wantOK: true},
		{raw: "#only-fragment", wantOK: false},
		{raw: "", wantOK: false},
		{raw: "mailto:x@example.com", wantOK: false},
		{raw: "ftp://example.com/file", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := Resolve(base, tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}
