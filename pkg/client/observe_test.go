package client

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-protocol/clasp-go/internal/testrouter"
	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/metrics"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *captureLogger) Log(e log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *captureLogger) messages(dir log.Direction, typ wire.MessageType) []*log.MessageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*log.MessageEvent
	for _, e := range l.events {
		if e.Message != nil && e.Direction == dir && e.Message.Type == string(typ) {
			out = append(out, e.Message)
		}
	}
	return out
}

func (l *captureLogger) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntitySession {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

func (l *captureLogger) errors() []*log.ErrorEventData {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*log.ErrorEventData
	for _, e := range l.events {
		if e.Error != nil {
			out = append(out, e.Error)
		}
	}
	return out
}

func TestProtocolLoggerRecordsRejectedFrame(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	plog := &captureLogger{}
	c := connected(t, r, func(cfg *Config) {
		cfg.ProtocolLogger = plog
	})

	payload, err := wire.MessagePack.Marshal(map[string]any{"type": "TELEPORT"})
	require.NoError(t, err)
	frame, err := wire.EncodeFrame(wire.Frame{Payload: payload})
	require.NoError(t, err)
	r.SendRaw(frame)

	assert.Eventually(t, func() bool {
		return c.State() == connection.StateDisconnected
	}, wait, 5*time.Millisecond)

	errs := plog.errors()
	require.Len(t, errs, 1)
	assert.Equal(t, log.LayerWire, errs[0].Layer)
	assert.Equal(t, "decode TELEPORT", errs[0].Context)
	assert.Contains(t, errs[0].Message, "TELEPORT")
}

func TestProtocolLoggerCapturesMessages(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	plog := &captureLogger{}
	c := connected(t, r, func(cfg *Config) {
		cfg.ProtocolLogger = plog
	})

	require.NoError(t, c.Set(context.Background(), "/mixer/fader", 0.5))
	_, err := c.On("/mixer/**", func(wire.Value, string) {})
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	hello := plog.messages(log.DirectionOut, wire.TypeHello)
	require.Len(t, hello, 1)

	welcome := plog.messages(log.DirectionIn, wire.TypeWelcome)
	require.Len(t, welcome, 1)

	sets := plog.messages(log.DirectionOut, wire.TypeSet)
	require.Len(t, sets, 1)
	assert.Equal(t, "/mixer/fader", sets[0].Address)
	assert.Equal(t, uint8(wire.QoSConfirm), sets[0].QoS)

	subs := plog.messages(log.DirectionOut, wire.TypeSubscribe)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].SubscriptionID)
	assert.Equal(t, "/mixer/**", subs[0].Address)

	assert.Equal(t, []string{"CONNECTING", "AWAITING_WELCOME", "CONNECTED"}, plog.states()[:3])

	plog.mu.Lock()
	for _, e := range plog.events {
		assert.False(t, e.Timestamp.IsZero())
	}
	plog.mu.Unlock()
}

func TestMetricsRecordSession(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	r.SetParam("/m", int64(1))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	c := connected(t, r, func(cfg *Config) {
		cfg.Metrics = m
		cfg.GetTimeout = 50 * time.Millisecond
	})

	_, err = c.On("/m", func(wire.Value, string) {})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/m")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/nothing")
	require.Error(t, err)

	expected := `
# HELP clasp_client_connected 1 while a session is established
# TYPE clasp_client_connected gauge
clasp_client_connected 1
# HELP clasp_client_get_timeouts_total Point reads that timed out
# TYPE clasp_client_get_timeouts_total counter
clasp_client_get_timeouts_total 1
# HELP clasp_client_subscriptions Registered subscriptions
# TYPE clasp_client_subscriptions gauge
clasp_client_subscriptions 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"clasp_client_connected",
		"clasp_client_get_timeouts_total",
		"clasp_client_subscriptions",
	))

	count, err := testutil.GatherAndCount(reg, "clasp_client_frames_total")
	require.NoError(t, err)
	assert.Positive(t, count)

	require.NoError(t, c.Close())
	assert.Equal(t, 0.0, gaugeValue(t, reg, "clasp_client_connected"))
}

func gaugeValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
