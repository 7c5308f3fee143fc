package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
	"github.com/couchcryptid/corona-data-etl/internal/source"
)

// DefaultMaxBody caps a feed response. The county feed is the largest and
// stays well below this.
const DefaultMaxBody = 512 << 20

// Client fetches raw feed payloads over HTTP. It implements pipeline.Fetcher.
type Client struct {
	httpClient *http.Client
	maxBody    int64
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a feed client whose requests time out after timeout.
func NewClient(timeout time.Duration, maxBody int64, logger *slog.Logger) *Client {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBody:   maxBody,
		userAgent: "corona-data-etl/1",
		logger:    logger,
	}
}

// Fetch GETs the source URL and returns the body. Any failure is a
// *domain.TransportError.
func (c *Client) Fetch(ctx context.Context, src source.Source) ([]byte, error) {
	fail := func(status int, err error) error {
		return &domain.TransportError{Source: src.Name, URL: src.URL, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fail(resp.StatusCode, fmt.Errorf("unexpected status: %s", body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fail(0, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > c.maxBody {
		return nil, fail(0, errors.New("response exceeds size limit"))
	}

	c.logger.Debug("feed fetched",
		"source", src.Name,
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return body, nil
}
