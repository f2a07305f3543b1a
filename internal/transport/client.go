package transport

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/httpcodec"
)

// Client fetches whole resources, one connection per request.
type Client struct {
	dialer *Dialer
	logger *slog.Logger
}

// NewClient creates a Client that dials through d.
func NewClient(d *Dialer) *Client {
	return &Client{dialer: d, logger: d.logger}
}

// Fetch connects to target, sends a GET request and reads the complete
// response. The connection is closed exactly once on every return path.
func (c *Client) Fetch(co *async.Co, target *url.URL) (*httpcodec.Response, error) {
	conn, err := c.dialer.Connect(co, target)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close failed", "component", "transport", "url", target.String(), "error", err)
		}
	}()

	if err := conn.SendRequest(http.MethodGet, httpcodec.RequestTarget(target), target.Host); err != nil {
		return nil, err
	}
	return conn.ReadFramed(http.MethodGet)
}
