package provider

import (
	"context"
	"math/rand/v2"
	"time"
)

type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ShouldRetry defaults to IsTransient.
	ShouldRetry func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     1,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Retry runs fn up to 1+MaxRetries times, sleeping a randomized backoff
// between tries. It returns the number of tries made.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, int, error) {
	should := cfg.ShouldRetry
	if should == nil {
		should = IsTransient
	}
	var (
		zero T
		err  error
	)
	tries := 0
	for i := 0; i <= max(cfg.MaxRetries, 0); i++ {
		if i > 0 {
			t := time.NewTimer(backoff(cfg, i))
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, tries, ctx.Err()
			case <-t.C:
			}
		}
		tries++
		var out T
		out, err = fn(ctx)
		if err == nil {
			return out, tries, nil
		}
		if !should(err) || ctx.Err() != nil {
			break
		}
	}
	return zero, tries, err
}

// backoff is InitialBackoff*2^(n-1) jittered into [50%, 100%], capped at MaxBackoff.
func backoff(cfg RetryConfig, n int) time.Duration {
	d := cfg.InitialBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < n; i++ {
		d *= 2
		if cfg.MaxBackoff > 0 && d >= cfg.MaxBackoff {
			d = cfg.MaxBackoff
			break
		}
	}
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	half := int64(d / 2)
	return time.Duration(half + rand.Int64N(half+1))
}
