// Package ratelimit implements the shared token bucket that keeps aggregate
// probing-service traffic under the externally imposed quota.
//
// Tokens are replenished by a background goroutine at a fixed rate up to a
// burst ceiling, decoupled from task scheduling: however many verification
// tasks are runnable, outbound requests cannot exceed the refill rate for
// long, nor the burst ceiling instantaneously. The bucket is owned by one
// run and passed explicitly to whoever needs it; it is never a package
// global.
package ratelimit

import (
	"context"
	"time"
)

// Bucket is a token bucket with background refill.
type Bucket struct {
	tokens chan struct{}
	rate   float64
}

// NewBucket creates a bucket allowing ratePerSecond sustained acquisitions
// with at most burst outstanding tokens. The bucket starts full.
func NewBucket(ratePerSecond float64, burst int) *Bucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	b := &Bucket{
		tokens: make(chan struct{}, burst),
		rate:   ratePerSecond,
	}
	for i := 0; i < burst; i++ {
		b.tokens <- struct{}{}
	}
	return b
}

// Start launches the refill goroutine. It stops when ctx is canceled.
// Refills that would exceed the burst ceiling are discarded.
func (b *Bucket) Start(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / b.rate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case b.tokens <- struct{}{}:
				default:
					// Bucket full; token discarded.
				}
			}
		}
	}()
}

// Acquire blocks until a token is available or ctx is done.
func (b *Bucket) Acquire(ctx context.Context) error {
	select {
	case <-b.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a token if one is immediately available.
func (b *Bucket) TryAcquire() bool {
	select {
	case <-b.tokens:
		return true
	default:
		return false
	}
}

// Available returns the number of tokens currently in the bucket.
func (b *Bucket) Available() int { return len(b.tokens) }
