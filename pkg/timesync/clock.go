// Package timesync tracks the offset between the local clock and a CLASP
// router's clock.
//
// The offset is seeded from the WELCOME time and refined by SYNC exchanges
// using the NTP estimate
//
//	offset = ((t2 - t1) + (t3 - t4)) / 2
//	rtt    = (t4 - t1) - (t3 - t2)
//
// where t1/t4 are local send/receive times and t2/t3 are router
// receive/send times, all in microseconds since the Unix epoch. Later
// samples are blended in with an exponential moving average.
package timesync

import (
	"math"
	"sync"
	"time"
)

const (
	// Alpha is the weight of a new SYNC sample.
	Alpha = 0.3

	// HistorySize is the number of RTT samples kept for jitter.
	HistorySize = 10
)

// Clock is safe for concurrent use.
type Clock struct {
	mu sync.RWMutex

	now func() time.Time

	offset   int64
	rtt      uint64
	jitter   uint64
	samples  int
	seeded   bool
	lastSync time.Time
	history  []uint64
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the local time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// New creates a clock with a zero offset.
func New(opts ...Option) *Clock {
	c := &Clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Local returns the local time in microseconds since the Unix epoch.
func (c *Clock) Local() uint64 {
	return uint64(c.now().UnixMicro())
}

// Seed sets the offset from a single router timestamp taken at receipt
// (the WELCOME time). SYNC history is discarded.
func (c *Clock) Seed(serverTime uint64) {
	local := c.Local()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = int64(serverTime) - int64(local)
	c.rtt = 0
	c.jitter = 0
	c.samples = 0
	c.history = c.history[:0]
	c.seeded = true
}

// ProcessSync applies a SYNC reply. t4 is taken from the local clock.
// Samples with a negative round trip are dropped and false is returned.
func (c *Clock) ProcessSync(t1, t2, t3 uint64) bool {
	return c.ProcessSyncAt(t1, t2, t3, c.Local())
}

// ProcessSyncAt is ProcessSync with an explicit receive time.
func (c *Clock) ProcessSyncAt(t1, t2, t3, t4 uint64) bool {
	rtt := (int64(t4) - int64(t1)) - (int64(t3) - int64(t2))
	if rtt < 0 {
		return false
	}
	offset := ((int64(t2) - int64(t1)) + (int64(t3) - int64(t4))) / 2

	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, uint64(rtt))
	if len(c.history) > HistorySize {
		c.history = c.history[1:]
	}
	if len(c.history) >= 2 {
		c.jitter = stddev(c.history)
	}

	if c.samples == 0 {
		c.offset = offset
		c.rtt = uint64(rtt)
	} else {
		c.offset = int64((1-Alpha)*float64(c.offset) + Alpha*float64(offset))
		c.rtt = uint64((1-Alpha)*float64(c.rtt) + Alpha*float64(rtt))
	}
	c.samples++
	c.seeded = true
	c.lastSync = c.now()
	return true
}

// Now returns the estimated router time in microseconds.
func (c *Clock) Now() uint64 {
	return c.ToServer(c.Local())
}

// ToServer converts a local timestamp to router time.
func (c *Clock) ToServer(local uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(int64(local) + c.offset)
}

// ToLocal converts a router timestamp to local time.
func (c *Clock) ToLocal(server uint64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(int64(server) - c.offset)
}

// Offset returns the router minus local offset in microseconds.
func (c *Clock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// RTT returns the smoothed round-trip time.
func (c *Clock) RTT() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.rtt) * time.Microsecond
}

// Jitter returns the standard deviation of recent round trips.
func (c *Clock) Jitter() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.jitter) * time.Microsecond
}

// Samples returns the number of SYNC samples since the last Seed.
func (c *Clock) Samples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.samples
}

// Seeded reports whether any offset has been applied.
func (c *Clock) Seeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seeded
}

// NeedsSync reports whether no SYNC sample exists or the last one is older
// than interval.
func (c *Clock) NeedsSync(interval time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.samples == 0 || c.now().Sub(c.lastSync) >= interval
}

// Quality scores the estimate from 0 (none) to 1 (low RTT, low jitter,
// many samples).
func (c *Clock) Quality() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.samples == 0 {
		return 0
	}
	rttScore := (10000 - float64(min(c.rtt, 10000))) / 10000
	jitterScore := (1000 - float64(min(c.jitter, 1000))) / 1000
	sampleScore := float64(min(c.samples, 10)) / 10
	q := rttScore*0.4 + jitterScore*0.4 + sampleScore*0.2
	return math.Max(0, math.Min(1, q))
}

func stddev(xs []uint64) uint64 {
	var sum uint64
	for _, x := range xs {
		sum += x
	}
	mean := float64(sum / uint64(len(xs)))
	var variance float64
	for _, x := range xs {
		d := float64(x) - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return uint64(math.Sqrt(variance))
}
