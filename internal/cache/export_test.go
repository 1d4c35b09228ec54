package cache

import "time"

// Sweep exposes the sweep pass to tests.
func (c *Cache) Sweep(now time.Time) int {
	return c.sweep(now)
}

// SetAvailable overrides the availability flag, standing in for the probe
// loop in tests.
func (c *Cache) SetAvailable(available bool) {
	c.available.Store(available)
}
