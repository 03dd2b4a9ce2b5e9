package cache

import "sync/atomic"

// Counter is a thread-safe monotonic counter.
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Value() uint64 {
	return c.v.Load()
}

func (c *Counter) Inc() uint64 {
	return c.v.Add(1)
}

func (c *Counter) Reset() {
	c.v.Store(0)
}
