package rfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/librfs/rfs-fuse/internal/util"
)

// listPath is the listing endpoint of the rfsd service API.
const listPath = "/v1/list"

// HTTPBackend queries the rfsd listing service over HTTP. One instance is
// shared by every mount using the http driver; the underlying client pools
// connections.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPBackend returns a backend talking to the service at endpoint.
// timeout bounds each request in addition to the caller's context deadline.
func NewHTTPBackend(endpoint string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		log:      util.GetLogger("rfs.http"),
	}
}

func (b *HTTPBackend) String() string {
	return "http"
}

// ListDirectory fetches the listing for dir under poolRoot. Any transport
// failure, non-200 status, or malformed body is returned as an error; the
// caller maps it to a request-level I/O failure.
func (b *HTTPBackend) ListDirectory(ctx context.Context, poolRoot, dir string) (*Listing, error) {
	q := url.Values{}
	q.Set("root", poolRoot)
	q.Set("path", dir)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+listPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list %s: backend returned %s: %s",
			dir, resp.Status, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("list %s: read response: %w", dir, err)
	}

	listing, err := DecodeListing(data)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	b.log.Trace().
		Str("request_id", reqID).
		Str("root", poolRoot).
		Str("path", dir).
		Int("entries", listing.Len()).
		Msg("Listed directory")

	return listing, nil
}
