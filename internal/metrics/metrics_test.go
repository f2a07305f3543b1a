package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/minispider/internal/crawler"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestCollector(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.ObserveJob(crawler.OutcomeExpanded, 200*time.Millisecond)
	c.ObserveJob(crawler.OutcomeExpanded, 300*time.Millisecond)
	c.ObserveJob(crawler.OutcomeRedirected, 10*time.Millisecond)
	c.ObserveMedia(1024)
	c.ObserveMedia(512)
	c.ObserveFrontier(7, 42)

	body := scrape(t, c.Handler())
	for _, want := range []string{
		`minispider_jobs_total{outcome="expanded"} 2`,
		`minispider_jobs_total{outcome="redirected"} 1`,
		`minispider_job_duration_seconds_count{outcome="expanded"} 2`,
		`minispider_media_stored_total 2`,
		`minispider_media_stored_bytes_total 1536`,
		`minispider_frontier_queued_urls 7`,
		`minispider_frontier_seen_urls 42`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := NewCollector(), NewCollector()
	a.ObserveMedia(10)

	if !strings.Contains(scrape(t, a.Handler()), "minispider_media_stored_total 1") {
		t.Error("expected the media in the first collector")
	}
	if strings.Contains(scrape(t, b.Handler()), "minispider_media_stored_total 1") {
		t.Error("expected the second collector to be untouched")
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	c := NewCollector()
	c.ObserveFrontier(1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "minispider_frontier_seen_urls 1") {
		t.Errorf("unexpected body: %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeInvalidAddress(t *testing.T) {
	t.Parallel()

	if err := NewCollector().Serve(context.Background(), "invalid-address"); err == nil {
		t.Error("expected a listen error")
	}
}
