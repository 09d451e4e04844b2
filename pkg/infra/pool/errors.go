// Package pool provides ants-backed worker pools for notification dispatch.
package pool

import "errors"

var (
	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolOverload is returned when a non-blocking pool is full.
	ErrPoolOverload = errors.New("pool is overloaded")

	// ErrInvalidConfig is returned for a config the pool cannot run with.
	ErrInvalidConfig = errors.New("invalid pool config")
)
