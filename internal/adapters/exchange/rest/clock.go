package rest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ServerTimeFunc fetches the venue's current time in unix milliseconds.
type ServerTimeFunc func(ctx context.Context) (int64, error)

// Clock tracks the offset between local time and one venue's server time.
// Each adapter owns its own Clock.
type Clock struct {
	mu       sync.RWMutex
	source   ServerTimeFunc
	offset   int64 // milliseconds (server - local)
	lastSync time.Time
	now      func() time.Time
}

// NewClock creates a clock with zero offset.
func NewClock(source ServerTimeFunc) *Clock {
	return &Clock{source: source, now: time.Now}
}

// SetSource replaces the server time source.
func (c *Clock) SetSource(source ServerTimeFunc) {
	c.mu.Lock()
	c.source = source
	c.mu.Unlock()
}

// Sync refreshes the offset, assuming symmetric network latency.
func (c *Clock) Sync(ctx context.Context) error {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()
	if source == nil {
		return errors.New("no server time source configured")
	}

	before := c.now().UnixMilli()
	serverTime, err := source(ctx)
	if err != nil {
		return err
	}
	after := c.now().UnixMilli()
	local := before + (after-before)/2

	c.mu.Lock()
	c.offset = serverTime - local
	c.lastSync = c.now()
	c.mu.Unlock()
	return nil
}

// Synced reports whether Sync has succeeded at least once.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastSync.IsZero()
}

// Now returns the corrected venue time in unix milliseconds.
func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().UnixMilli() + c.offset
}

// Offset returns the current offset in milliseconds.
func (c *Clock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
