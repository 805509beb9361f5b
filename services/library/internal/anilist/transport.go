package anilist

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Waiter is satisfied by ratelimit.Limiter.
type Waiter interface {
	Wait(ctx context.Context) error
}

// transport applies the client-wide request limiter, sets the request
// headers and turns non-200 responses into *statusError.
type transport struct {
	base      http.RoundTripper
	limiter   Waiter
	userAgent string
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return nil, &statusError{
		Code:       resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       string(b[:min(len(b), 200)]),
	}
}
