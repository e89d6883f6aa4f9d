package harnessports

import "context"

// RateLimiter paces calls to a model.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
