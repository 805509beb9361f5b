package queue

import (
	"errors"
	"time"

	"github.com/example/animetrack/services/library/internal/anilist"
)

const maxBackoff = 60 * time.Second

func backoffDelay(numDelivered uint64) time.Duration {
	// 1st failure -> 1s, 2nd -> 2s, 3rd -> 4s ... capped
	attempt := int(numDelivered)
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return maxBackoff
	}
	d := time.Duration(1<<(attempt-1)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// retryDelay honours a catalog Retry-After hint when it is longer than the
// exponential step.
func retryDelay(err error, numDelivered uint64) time.Duration {
	d := backoffDelay(numDelivered)
	var ce *anilist.CatalogError
	if errors.As(err, &ce) && ce.RetryAfter > d {
		d = ce.RetryAfter
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
