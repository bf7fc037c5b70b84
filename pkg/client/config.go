package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/metrics"
	"github.com/clasp-protocol/clasp-go/pkg/transport"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Defaults.
const (
	DefaultName             = "clasp-go"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultGetTimeout       = 5 * time.Second
	DefaultSyncInterval     = 30 * time.Second
)

// DefaultFeatures are the signal types announced in HELLO.
var DefaultFeatures = []string{"param", "event", "stream", "gesture", "timeline"}

// ErrInvalidConfig is returned for unusable configurations.
var ErrInvalidConfig = errors.New("invalid client config")

// Config configures a Client.
type Config struct {
	// URL is the router WebSocket URL, e.g. ws://localhost:7330/clasp.
	URL string `yaml:"url"`

	// Name is sent in HELLO.
	Name string `yaml:"name"`

	// Features lists supported signal types sent in HELLO.
	Features []string `yaml:"features"`

	// Token is an optional bearer token sent in HELLO.
	Token string `yaml:"token"`

	// Encoding selects the payload encoding: "msgpack" (default) or "cbor".
	Encoding string `yaml:"encoding"`

	// HandshakeTimeout bounds the wait for WELCOME (default 10s).
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// GetTimeout bounds each Get and QuerySignals (default 5s). The
	// caller's context can end the wait sooner.
	GetTimeout time.Duration `yaml:"get_timeout"`

	// SyncInterval is the clock resync period. Zero disables resync.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// Reconnect enables automatic reconnection after transport loss.
	Reconnect bool `yaml:"reconnect"`

	// ReconnectBackoff sets the delay between attempts. The default is a
	// fixed 5s interval.
	ReconnectBackoff connection.BackoffConfig `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts bounds one reconnect cycle (0 = unbounded).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// KeepAlive configures WebSocket pings. Zero PingInterval disables them.
	KeepAlive transport.KeepAliveConfig `yaml:"keepalive"`

	// Header is sent with the WebSocket upgrade request.
	Header http.Header `yaml:"-"`

	// TLSConfig is used for wss:// URLs.
	TLSConfig *tls.Config `yaml:"-"`

	// Logger receives operational logs. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// ProtocolLogger captures protocol events. Nil disables capture.
	ProtocolLogger log.Logger `yaml:"-"`

	// Metrics records session activity. Nil disables metrics.
	Metrics *metrics.Metrics `yaml:"-"`
}

// DefaultConfig returns a Config with reconnection, resync and keep-alive
// enabled.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		Name:             DefaultName,
		Features:         append([]string(nil), DefaultFeatures...),
		Encoding:         wire.MessagePack.Name(),
		HandshakeTimeout: DefaultHandshakeTimeout,
		GetTimeout:       DefaultGetTimeout,
		SyncInterval:     DefaultSyncInterval,
		Reconnect:        true,
		ReconnectBackoff: connection.FixedBackoff(connection.ReconnectInterval),
		KeepAlive:        transport.DefaultKeepAliveConfig(),
	}
}

// applyDefaults fills zero fields that have a non-zero default. Reconnect,
// SyncInterval and KeepAlive keep their zero meaning (disabled).
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Features == nil {
		c.Features = append([]string(nil), DefaultFeatures...)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.GetTimeout <= 0 {
		c.GetTimeout = DefaultGetTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if _, err := wire.EncodingByName(c.Encoding); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: negative sync_interval", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: negative max_reconnect_attempts", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig. Durations use Go syntax
// ("5s", "250ms").
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
