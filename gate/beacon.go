package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
)

// Beacon reports that a newsletter link was followed
type Beacon interface {
	Observe(ctx context.Context, req Request) error
}

// HTTPBeacon sends a GET with nid, env and uid to an external click counter
type HTTPBeacon struct {
	URL     string
	Client  *http.Client
	Retries uint64
}

// NewHTTPBeacon returns a beacon for url which retries twice
func NewHTTPBeacon(u string) *HTTPBeacon {
	return &HTTPBeacon{
		URL:     u,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Retries: 2,
	}
}

// Observe implements Beacon Observe()
func (b *HTTPBeacon) Observe(ctx context.Context, req Request) error {
	u, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("HTTPBeacon: invalid url: %w", err)
	}

	q := u.Query()
	q.Set("nid", req.EditionID)
	q.Set("env", req.SendID)
	q.Set("uid", req.RecipientID)
	u.RawQuery = q.Encode()

	call := func() error {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}

		resp, err := b.Client.Do(r)
		if err != nil {
			return err
		}
		resp.Body.Close() // nolint: errcheck

		if resp.StatusCode >= 300 {
			return fmt.Errorf("HTTPBeacon: unexpected status %v", resp.StatusCode)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	return backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(bo, b.Retries), ctx))
}
