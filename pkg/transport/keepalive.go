package transport

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// Keep-alive defaults.
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures WebSocket ping monitoring. A zero
// PingInterval disables it.
type KeepAliveConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest a dead peer can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAlive sends sequenced pings and reports a dead peer after
// MaxMissedPongs consecutive pings go unanswered.
type KeepAlive struct {
	config    KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()

	mu          sync.Mutex
	seq         uint32
	pending     bool
	pendingSeq  uint32
	pingSent    time.Time
	missed      int
	lastRTT     time.Duration
	running     bool
	stopCh      chan struct{}
	loopStopped chan struct{}
}

// NewKeepAlive creates a keep-alive monitor. Zero config fields take
// their defaults.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs <= 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
	}
}

// Start begins pinging. It is a no-op if already running.
func (k *KeepAlive) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return
	}
	k.running = true
	k.stopCh = make(chan struct{})
	k.loopStopped = make(chan struct{})
	go k.loop(ctx, k.stopCh, k.loopStopped)
}

// Stop halts pinging and waits for the loop to exit.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	k.running = false
	close(k.stopCh)
	done := k.loopStopped
	k.mu.Unlock()
	<-done
}

// PongReceived records a pong. Pongs for older pings are ignored.
func (k *KeepAlive) PongReceived(seq uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pending && seq == k.pendingSeq {
		k.pending = false
		k.missed = 0
		k.lastRTT = time.Since(k.pingSent)
	}
}

// RTT returns the round trip of the last answered ping.
func (k *KeepAlive) RTT() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastRTT
}

// Missed returns the current run of unanswered pings.
func (k *KeepAlive) Missed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.missed
}

func (k *KeepAlive) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.config.PingInterval)
	defer ticker.Stop()

	pongTimer := time.NewTimer(k.config.PongTimeout)
	pongTimer.Stop()
	defer pongTimer.Stop()

	ping := func() {
		k.mu.Lock()
		k.seq++
		seq := k.seq
		k.pending = true
		k.pendingSeq = seq
		k.pingSent = time.Now()
		k.mu.Unlock()

		// A failed send is counted by the pong timer like a lost pong.
		_ = k.sendPing(seq)
		pongTimer.Reset(k.config.PongTimeout)
	}

	ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			ping()
		case <-pongTimer.C:
			k.mu.Lock()
			dead := false
			if k.pending {
				k.pending = false
				k.missed++
				dead = k.missed >= k.config.MaxMissedPongs
			}
			k.mu.Unlock()
			if dead {
				if k.onTimeout != nil {
					k.onTimeout()
				}
				return
			}
		}
	}
}

func encodePingSeq(seq uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, seq)
}

func decodePingSeq(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}
