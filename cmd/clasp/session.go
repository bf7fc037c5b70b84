package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clasp-protocol/clasp-go/pkg/client"
	"github.com/clasp-protocol/clasp-go/pkg/discovery"
	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/metrics"
)

// options are the flags shared by every command that talks to a router.
type options struct {
	URL         string
	ConfigFile  string
	Name        string
	Token       string
	Encoding    string
	Timeout     time.Duration
	LogLevel    string
	ProtocolLog string
	MetricsAddr string

	// Reconnect is set by long-running commands.
	Reconnect bool
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.URL, "url", "", "Router URL (default: discover via mDNS)")
	fs.StringVar(&o.ConfigFile, "config", "", "YAML client configuration file")
	fs.StringVar(&o.Name, "name", "", "Client name sent in HELLO")
	fs.StringVar(&o.Token, "token", "", "Bearer token sent in HELLO")
	fs.StringVar(&o.Encoding, "encoding", "", "Payload encoding: msgpack or cbor")
	fs.DurationVar(&o.Timeout, "timeout", 5*time.Second, "Connect and request timeout")
	fs.StringVar(&o.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.StringVar(&o.ProtocolLog, "protocol-log", "", "Write a protocol capture file")
	fs.StringVar(&o.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

// newFlagSet returns a flag set with the shared options registered.
func newFlagSet(name, argsUsage string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  clasp %s [flags] %s\n\nFlags:\n", name, argsUsage)
		fs.PrintDefaults()
	}
	if o != nil {
		o.register(fs)
	}
	return fs
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// config builds the client configuration from the config file and flags.
// Flags win over the file.
func (o *options) config(ctx context.Context) (client.Config, error) {
	cfg := client.DefaultConfig(o.URL)
	if o.ConfigFile != "" {
		loaded, err := client.LoadConfig(o.ConfigFile)
		if err != nil {
			return client.Config{}, err
		}
		cfg = loaded
	}
	if o.URL != "" {
		cfg.URL = o.URL
	}
	if o.Name != "" {
		cfg.Name = o.Name
	}
	if o.Token != "" {
		cfg.Token = o.Token
	}
	if o.Encoding != "" {
		cfg.Encoding = o.Encoding
	}
	if o.Timeout > 0 {
		cfg.GetTimeout = o.Timeout
	}
	cfg.Reconnect = o.Reconnect

	level, err := parseLevel(o.LogLevel)
	if err != nil {
		return client.Config{}, err
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.URL == "" {
		url, err := discoverURL(ctx, o.Timeout)
		if err != nil {
			return client.Config{}, err
		}
		cfg.Logger.Info("using discovered router", "url", url)
		cfg.URL = url
	}
	return cfg, nil
}

func discoverURL(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := discovery.NewBrowser(discovery.BrowserConfig{}).Find(ctx)
	if err != nil {
		return "", fmt.Errorf("no -url given and no router found: %w", err)
	}
	return r.URL(), nil
}

// session is a connected client plus the resources opened for it.
type session struct {
	*client.Client
	closers []func() error
}

func (s *session) Close() error {
	return errors.Join(s.Client.Close(), s.closeResources())
}

// dial creates a client from o and connects it.
func (o *options) dial(ctx context.Context) (*session, error) {
	cfg, err := o.config(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{}

	if o.ProtocolLog != "" {
		fl, err := log.NewFileLogger(o.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("protocol log: %w", err)
		}
		cfg.ProtocolLogger = fl
		s.closers = append(s.closers, fl.Close)
	}

	if o.MetricsAddr != "" {
		m, err := metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
		cfg.Metrics = m

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: o.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cfg.Logger.Error("metrics server failed", "addr", o.MetricsAddr, "error", err)
			}
		}()
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}

	c, err := client.New(cfg)
	if err != nil {
		return nil, errors.Join(err, s.closeResources())
	}
	s.Client = c

	connectCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := c.Connect(connectCtx); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func (s *session) closeResources() error {
	var err error
	for _, c := range s.closers {
		err = errors.Join(err, c())
	}
	return err
}

// requireArgs checks the positional argument count.
func requireArgs(fs *flag.FlagSet, min, max int) error {
	n := fs.NArg()
	if n < min || (max >= 0 && n > max) {
		fs.Usage()
		return fmt.Errorf("clasp %s: wrong number of arguments", fs.Name())
	}
	return nil
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
