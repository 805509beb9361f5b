package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces operations apart. A nil *Limiter never blocks.
type Limiter struct {
	l *rate.Limiter
}

// NewInterval allows one operation per interval. The first Wait returns
// immediately; each later Wait blocks until interval has passed since the
// previous one was granted.
func NewInterval(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{l: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{l: rate.NewLimiter(rate.Every(interval), 1)}
}

// NewRPM allows up to rpm operations per minute, evenly spaced.
func NewRPM(rpm int) *Limiter {
	if rpm <= 0 {
		rpm = 1
	}
	return NewInterval(time.Minute / time.Duration(rpm))
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}
