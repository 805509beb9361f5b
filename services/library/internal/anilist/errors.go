package anilist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindTransient
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound  = errors.New("anilist: not found")
	ErrTransient = errors.New("anilist: transient failure")
	ErrMalformed = errors.New("anilist: malformed response")
)

// CatalogError is returned by every Client call that fails.
type CatalogError struct {
	Op         string
	Kind       ErrorKind
	Err        error
	RetryAfter time.Duration
}

func (e *CatalogError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("anilist %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("anilist %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

func (e *CatalogError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// KindOf reports the catalog error kind of err, or 0 if err is not a catalog error.
func KindOf(err error) ErrorKind {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// statusError is produced by the transport for non-200 responses.
type statusError struct {
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d body=%q", e.Code, e.Body)
}

func (e *statusError) kind() ErrorKind {
	switch {
	case e.Code == http.StatusNotFound:
		return KindNotFound
	case e.Code == http.StatusTooManyRequests, e.Code >= 500:
		return KindTransient
	default:
		return KindMalformed
	}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CatalogError
	if errors.As(err, &ce) {
		return err
	}
	var se *statusError
	if errors.As(err, &se) {
		return &CatalogError{Op: op, Kind: se.kind(), Err: se, RetryAfter: se.RetryAfter}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CatalogError{Op: op, Kind: KindTransient, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &CatalogError{Op: op, Kind: KindTransient, Err: err}
	}
	// GraphQL error lists and decode failures.
	return &CatalogError{Op: op, Kind: KindMalformed, Err: err}
}

func notFound(op string, id int) error {
	return &CatalogError{Op: op, Kind: KindNotFound, Err: fmt.Errorf("id %d", id)}
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
		return time.Duration(sec) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
