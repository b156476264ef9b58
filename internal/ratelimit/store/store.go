// Package store provides the shared counter store behind the rate limiter.
package store

import (
	"context"
	"time"
)

// Counter is the state of a window counter right after an increment.
type Counter struct {
	// Count is the post-increment value.
	Count int64

	// TTL is the remaining lifetime of the counter key.
	TTL time.Duration

	// Created is true when this increment created the key.
	Created bool
}

// Store is an external atomic counter store shared by every server process.
type Store interface {
	// IncrementWithExpiry atomically adds delta to key and, when the key did
	// not exist, gives it the expiration. Increment, expiry and TTL read are
	// one round trip.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (*Counter, error)

	// Ping checks store reachability.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
