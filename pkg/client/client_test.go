package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-protocol/clasp-go/internal/testrouter"
	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/subscription"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

const wait = 2 * time.Second

func newClient(t *testing.T, url string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(url)
	cfg.Reconnect = false
	cfg.SyncInterval = 0
	cfg.KeepAlive.PingInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connected(t *testing.T, r *testrouter.Router, mutate func(*Config)) *Client {
	t.Helper()
	c := newClient(t, r.URL(), mutate)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

// collector records handler invocations.
type collector struct {
	mu    sync.Mutex
	calls []call
	ch    chan call
}

type call struct {
	value wire.Value
	addr  string
}

func newCollector() *collector {
	return &collector{ch: make(chan call, 64)}
}

func (c *collector) HandleValue(v wire.Value, addr string) {
	c.mu.Lock()
	c.calls = append(c.calls, call{v, addr})
	c.mu.Unlock()
	c.ch <- call{v, addr}
}

func (c *collector) next(t *testing.T) call {
	t.Helper()
	select {
	case got := <-c.ch:
		return got
	case <-time.After(wait):
		t.Fatal("handler not called")
		return call{}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// barrier sends a SET on a private address and waits until it is handled,
// so every frame the router sent earlier has been processed.
func barrier(t *testing.T, c *Client, r *testrouter.Router) {
	t.Helper()
	seen := make(chan struct{}, 1)
	unsub, err := c.On("/__barrier", func(wire.Value, string) {
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer unsub()

	r.Send(&wire.Set{Address: "/__barrier", Value: true})
	select {
	case <-seen:
	case <-time.After(wait):
		t.Fatal("barrier not reached")
	}
}

func TestConnectHandshake(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{Name: "studio"})
	c := connected(t, r, func(cfg *Config) {
		cfg.Name = "desk"
		cfg.Token = "secret"
		cfg.Features = []string{"param"}
	})

	assert.True(t, c.IsConnected())
	assert.Equal(t, connection.StateConnected, c.State())
	assert.NotEmpty(t, c.SessionID())
	assert.Equal(t, "studio", c.RouterName())

	hellos := r.Hellos()
	require.Len(t, hellos, 1)
	assert.Equal(t, wire.ProtocolVersion, hellos[0].Version)
	assert.Equal(t, "desk", hellos[0].Name)
	assert.Equal(t, "secret", hellos[0].Token)
	assert.Equal(t, []string{"param"}, hellos[0].Features)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestWelcomeSeedsClockOffset(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{Offset: 10 * time.Second})
	c := connected(t, r, nil)

	offset := c.Clock().Offset()
	assert.InDelta(t, 10_000_000, offset, 500_000)
	assert.InDelta(t, float64(r.Now()), float64(c.Time()), 500_000)
}

func TestHandshakeTimeout(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{SilentHandshake: true})
	c := newClient(t, r.URL(), func(cfg *Config) {
		cfg.HandshakeTimeout = 100 * time.Millisecond
	})

	start := time.Now()
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), wait)

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "handshake", ce.Op)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, connection.StateDisconnected, c.State())
}

func TestHandshakeRejected(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{
		Reject: &wire.ErrorMessage{Code: wire.ErrorUnauthorized, Message: "bad token"},
	})
	c := newClient(t, r.URL(), nil)

	err := c.Connect(context.Background())
	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, wire.ErrorUnauthorized, se.Code)
	assert.Equal(t, se, c.LastError())
	assert.False(t, c.IsConnected())
}

func TestHandshakeIgnoresEarlyMessages(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{
		BeforeWelcome: []wire.Message{&wire.Set{Address: "/early", Value: int64(1)}, &wire.Ping{}},
	})
	c := connected(t, r, nil)

	_, ok := c.Cached("/early")
	assert.False(t, ok)
}

func TestDialFailure(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	r.Refuse(true)
	c := newClient(t, r.URL(), nil)

	err := c.Connect(context.Background())
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "dial", ce.Op)
	assert.Equal(t, connection.StateDisconnected, c.State())

	// A later attempt can succeed.
	r.Refuse(false)
	require.NoError(t, c.Connect(context.Background()))
}

func TestWildcardDispatch(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	col := newCollector()
	_, err := c.Subscribe("/x/*/y", col)
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Send(&wire.Set{Address: "/x/1/2/y", Value: int64(0)})
	r.Send(&wire.Set{Address: "/x/1/y", Value: int64(5)})

	got := col.next(t)
	assert.Equal(t, "/x/1/y", got.addr)
	assert.Equal(t, int64(5), got.value)

	barrier(t, c, r)
	assert.Equal(t, 1, col.count())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	col := newCollector()
	unsub, err := c.Subscribe("/cmd/**", col)
	require.NoError(t, err)
	sub := r.WaitFor(wire.TypeSubscribe, 1)[0].(*wire.Subscribe)
	assert.Equal(t, "/cmd/**", sub.Pattern)

	reset := &wire.Publish{Address: "/cmd/reset", Signal: wire.SignalEvent, Payload: "now"}
	r.Send(reset)
	got := col.next(t)
	assert.Equal(t, "now", got.value)

	unsub()
	unsub()
	msgs := r.WaitFor(wire.TypeUnsubscribe, 1)
	assert.Equal(t, sub.ID, msgs[0].(*wire.Unsubscribe).ID)

	r.Send(reset)
	barrier(t, c, r)
	assert.Equal(t, 1, col.count())
}

func TestSubscriptionIDsIncrease(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := c.On(p, func(wire.Value, string) {})
		require.NoError(t, err)
	}
	msgs := r.WaitFor(wire.TypeSubscribe, 3)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].(*wire.Subscribe).ID, msgs[i-1].(*wire.Subscribe).ID)
	}
}

func TestSubscribeRejectsBadPattern(t *testing.T) {
	c := newClient(t, "ws://127.0.0.1:1/clasp", nil)

	_, err := c.On("no-slash", func(wire.Value, string) {})
	assert.Error(t, err)
	_, err = c.Subscribe("/a", nil)
	assert.Error(t, err)
}

func TestSubscriptionOptionsSent(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	_, err := c.On("/sensor/**", func(wire.Value, string) {},
		subscription.WithMaxRate(30), subscription.WithTypes(wire.SignalStream))
	require.NoError(t, err)

	sub := r.WaitFor(wire.TypeSubscribe, 1)[0].(*wire.Subscribe)
	require.NotNil(t, sub.Options)
	require.NotNil(t, sub.Options.MaxRate)
	assert.Equal(t, uint32(30), *sub.Options.MaxRate)
	assert.Equal(t, []wire.SignalType{wire.SignalStream}, sub.Types)
}

func TestSignalTypeFilter(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	col := newCollector()
	_, err := c.Subscribe("/s/**", col, subscription.WithTypes(wire.SignalStream))
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Send(&wire.Publish{Address: "/s/e", Signal: wire.SignalEvent})
	r.Send(&wire.Publish{Address: "/s/x", Signal: wire.SignalStream, Value: 0.5})

	got := col.next(t)
	assert.Equal(t, "/s/x", got.addr)
	barrier(t, c, r)
	assert.Equal(t, 1, col.count())
}

func TestGetCacheHitSendsNothing(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	r.Send(&wire.Set{Address: "/mixer/fader", Value: 0.75})
	require.Eventually(t, func() bool {
		_, ok := c.Cached("/mixer/fader")
		return ok
	}, wait, 5*time.Millisecond)

	before := len(r.Received())
	v, err := c.Get(context.Background(), "/mixer/fader")
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)

	barrier(t, c, r)
	for _, m := range r.Received()[before:] {
		assert.NotEqual(t, wire.TypeGet, m.Type())
	}
}

func TestGetRoundTrip(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	r.SetParam("/b", "hello")
	c := connected(t, r, nil)

	v, err := c.Get(context.Background(), "/b")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	cached, ok := c.Cached("/b")
	assert.True(t, ok)
	assert.Equal(t, "hello", cached)
	assert.Len(t, r.ReceivedOf(wire.TypeGet), 1)
}

func TestGetTimeoutRemovesWaiter(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, func(cfg *Config) {
		cfg.GetTimeout = 50 * time.Millisecond
	})

	_, err := c.Get(context.Background(), "/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "/missing", te.Address)

	c.mu.Lock()
	assert.Zero(t, c.pending.Len())
	c.mu.Unlock()
}

func TestGetContextCancel(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "/missing")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.mu.Lock()
	assert.Zero(t, c.pending.Len())
	c.mu.Unlock()
}

func TestConcurrentGetsSameAddress(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	r.SetParam("/shared", int64(7))
	c := connected(t, r, nil)

	var wg sync.WaitGroup
	results := make([]wire.Value, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "/shared")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(7), results[i])
	}
}

func TestSnapshotUpdatesCacheAndDispatches(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	col := newCollector()
	_, err := c.Subscribe("/p/**", col)
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Send(&wire.Snapshot{Params: []wire.ParamValue{
		{Address: "/p/a", Value: int64(1)},
		{Address: "/p/b", Value: int64(2)},
	}})

	assert.Equal(t, "/p/a", col.next(t).addr)
	assert.Equal(t, "/p/b", col.next(t).addr)
	v, ok := c.Cached("/p/b")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestInboundBundleDispatchesEach(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	col := newCollector()
	_, err := c.Subscribe("/**", col)
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Send(&wire.Bundle{Messages: []wire.Message{
		&wire.Set{Address: "/one", Value: int64(1)},
		&wire.Publish{Address: "/two", Signal: wire.SignalEvent},
	}})

	assert.Equal(t, "/one", col.next(t).addr)
	assert.Equal(t, "/two", col.next(t).addr)
	_, cached := c.Cached("/two")
	assert.False(t, cached, "events are not cached")
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	errCh := make(chan error, 4)
	c.OnError(func(err error) { errCh <- err })

	_, err := c.On("/boom", func(wire.Value, string) { panic("kaput") })
	require.NoError(t, err)
	col := newCollector()
	_, err = c.Subscribe("/boom", col)
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 2)

	r.Send(&wire.Set{Address: "/boom", Value: int64(1)})

	assert.Equal(t, "/boom", col.next(t).addr)
	select {
	case err := <-errCh:
		var cbe *CallbackError
		require.True(t, errors.As(err, &cbe))
		assert.Equal(t, "subscription", cbe.Handler)
		assert.Equal(t, "kaput", cbe.Panic)
		assert.Equal(t, "/boom", cbe.Address)
	case <-time.After(wait):
		t.Fatal("error handler not called")
	}
	assert.True(t, c.IsConnected())
}

func TestServerErrorReported(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	errCh := make(chan error, 1)
	c.OnError(func(err error) { errCh <- err })

	r.Send(&wire.ErrorMessage{Code: wire.ErrorLockHeld, Message: "locked", Address: "/a"})

	select {
	case err := <-errCh:
		var se *ServerError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, wire.ErrorLockHeld, se.Code)
		assert.Equal(t, "/a", se.Address)
	case <-time.After(wait):
		t.Fatal("error handler not called")
	}
	assert.Error(t, c.LastError())
	assert.True(t, c.IsConnected())
}

func TestPingAnsweredWithPong(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	connected(t, r, nil)

	r.Send(&wire.Ping{})
	r.WaitFor(wire.TypePong, 1)
}

func TestOutboundMessages(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "/a", 0.5))
	require.NoError(t, c.SetLocked(ctx, "/a", 0.6))
	require.NoError(t, c.SetUnlocked(ctx, "/a", 0.7))
	require.NoError(t, c.Emit(ctx, "/cue/go", map[string]any{"n": int64(3)}))
	require.NoError(t, c.Stream(ctx, "/sensor/x", 0.25))
	require.NoError(t, c.Gesture(ctx, "/touch", 4, wire.PhaseStart, []any{0.1, 0.2}))

	sets := r.WaitFor(wire.TypeSet, 3)
	assert.Equal(t, &wire.Set{Address: "/a", Value: 0.5}, sets[0])
	assert.True(t, sets[1].(*wire.Set).Lock)
	assert.True(t, sets[2].(*wire.Set).Unlock)

	pubs := r.WaitFor(wire.TypePublish, 3)
	emit := pubs[0].(*wire.Publish)
	assert.Equal(t, wire.SignalEvent, emit.Signal)
	assert.Equal(t, map[string]any{"n": int64(3)}, emit.Payload)
	require.NotNil(t, emit.Timestamp)
	assert.InDelta(t, float64(r.Now()), float64(*emit.Timestamp), float64(5*time.Second/time.Microsecond))

	stream := pubs[1].(*wire.Publish)
	assert.Equal(t, wire.SignalStream, stream.Signal)
	assert.Equal(t, 0.25, stream.Value)
	require.NotNil(t, stream.Timestamp)

	gesture := pubs[2].(*wire.Publish)
	assert.Equal(t, wire.SignalGesture, gesture.Signal)
	assert.Equal(t, wire.PhaseStart, gesture.Phase)
	require.NotNil(t, gesture.ID)
	assert.Equal(t, uint32(4), *gesture.ID)

	assert.Eventually(t, func() bool {
		v, _ := r.Param("/a")
		return v == 0.7
	}, wait, 5*time.Millisecond)
}

func TestOutboundBundle(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)
	ctx := context.Background()

	require.NoError(t, c.Bundle(ctx,
		&wire.Set{Address: "/light/1", Value: 1.0},
		&wire.Publish{Address: "/cue", Signal: wire.SignalEvent, Payload: "go"},
	))
	require.NoError(t, c.BundleAt(ctx, 123456, &wire.Set{Address: "/light/2", Value: 0.0}))
	assert.ErrorIs(t, c.Bundle(ctx), ErrEmptyBundle)

	bundles := r.WaitFor(wire.TypeBundle, 2)
	first := bundles[0].(*wire.Bundle)
	assert.Nil(t, first.Timestamp)
	assert.Len(t, first.Messages, 2)

	second := bundles[1].(*wire.Bundle)
	require.NotNil(t, second.Timestamp)
	assert.Equal(t, uint64(123456), *second.Timestamp)
}

func TestAddressValidation(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)
	ctx := context.Background()

	assert.Error(t, c.Set(ctx, "/a/*", 1))
	assert.Error(t, c.Set(ctx, "a", 1))
	assert.Error(t, c.Emit(ctx, "", nil))
	_, err := c.Get(ctx, "/a//b")
	assert.Error(t, err)
}

func TestNotConnectedAndClosed(t *testing.T) {
	c := newClient(t, "ws://127.0.0.1:1/clasp", nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "/a", 1), ErrNotConnected)
	_, err := c.Get(ctx, "/a")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, connection.StateClosed, c.State())
	assert.ErrorIs(t, c.Set(ctx, "/a", 1), ErrClosed)
	assert.ErrorIs(t, c.Connect(ctx), ErrClosed)
	_, err = c.On("/a", func(wire.Value, string) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeBeforeConnect(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := newClient(t, r.URL(), nil)

	col := newCollector()
	_, err := c.Subscribe("/early/**", col)
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	sub := r.WaitFor(wire.TypeSubscribe, 1)[0].(*wire.Subscribe)
	assert.Equal(t, "/early/**", sub.Pattern)

	r.Send(&wire.Set{Address: "/early/x", Value: true})
	assert.Equal(t, "/early/x", col.next(t).addr)
}

func TestNoCallbacksAfterClose(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	var calls atomic.Int32
	_, err := c.On("/after/**", func(wire.Value, string) { calls.Add(1) })
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	require.NoError(t, c.Close())
	assert.Equal(t, connection.StateClosed, c.State())
	assert.Empty(t, c.SessionID())

	r.Send(&wire.Set{Address: "/after/x", Value: int64(1)})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestCloseFromHandler(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	done := make(chan error, 1)
	_, err := c.On("/quit", func(wire.Value, string) { done <- c.Close() })
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Send(&wire.Set{Address: "/quit", Value: true})
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Close from handler deadlocked")
	}
	assert.Equal(t, connection.StateClosed, c.State())
}

func TestCloseWaitsForRunningHandler(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := connected(t, r, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	_, err := c.On("/a", func(wire.Value, string) {
		close(entered)
		<-release
	})
	require.NoError(t, err)
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Send(&wire.Snapshot{Params: []wire.ParamValue{
		{Address: "/a", Value: int64(1)},
		{Address: "/b", Value: int64(2)},
	}})
	select {
	case <-entered:
	case <-time.After(wait):
		t.Fatal("handler not called")
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a handler was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Close did not return after the handler finished")
	}

	_, ok := c.Cached("/b")
	assert.False(t, ok, "cache changed after Close")
	assert.Equal(t, connection.StateClosed, c.State())
}

func TestQueryFailsWhenSessionLost(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{SilentQuery: true})
	c := connected(t, r, func(cfg *Config) {
		cfg.GetTimeout = time.Minute
	})

	errc := make(chan error, 1)
	go func() {
		_, err := c.QuerySignals(context.Background(), "/**")
		errc <- err
	}()
	r.WaitFor(wire.TypeQuery, 1)

	r.Drop()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(wait):
		t.Fatal("query outlived its session")
	}

	c.mu.Lock()
	n := len(c.queries)
	c.mu.Unlock()
	assert.Zero(t, n)

	_, err := c.QuerySignals(context.Background(), "/**")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectAndDisconnectHandlers(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := newClient(t, r.URL(), nil)

	var connects atomic.Int32
	disconnected := make(chan error, 1)
	c.OnConnect(func() { connects.Add(1) })
	remove := c.OnConnect(func() { panic("ignored") })
	remove()
	c.OnDisconnect(func(reason error) { disconnected <- reason })

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(1), connects.Load())

	r.Drop()
	select {
	case reason := <-disconnected:
		var ce *ConnectionError
		assert.True(t, errors.As(reason, &ce))
	case <-time.After(wait):
		t.Fatal("disconnect handler not called")
	}
	assert.Eventually(t, func() bool {
		return c.State() == connection.StateDisconnected
	}, wait, 5*time.Millisecond)
}

func TestReconnectResubscribes(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := newClient(t, r.URL(), func(cfg *Config) {
		cfg.Reconnect = true
		cfg.ReconnectBackoff = connection.FixedBackoff(20 * time.Millisecond)
	})

	connects := make(chan struct{}, 4)
	c.OnConnect(func() { connects <- struct{}{} })

	col := newCollector()
	_, err := c.Subscribe("/live/**", col)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	<-connects
	r.WaitFor(wire.TypeSubscribe, 1)

	r.Drop()

	select {
	case <-connects:
	case <-time.After(wait):
		t.Fatal("not reconnected")
	}
	assert.Equal(t, 2, r.Sessions())
	subs := r.WaitFor(wire.TypeSubscribe, 2)
	assert.Equal(t, subs[0].(*wire.Subscribe).ID, subs[1].(*wire.Subscribe).ID)

	r.Send(&wire.Set{Address: "/live/x", Value: int64(9)})
	assert.Equal(t, int64(9), col.next(t).value)
}

func TestReconnectRetriesUntilRouterReturns(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := newClient(t, r.URL(), func(cfg *Config) {
		cfg.Reconnect = true
		cfg.ReconnectBackoff = connection.FixedBackoff(10 * time.Millisecond)
	})
	require.NoError(t, c.Connect(context.Background()))

	r.Refuse(true)
	r.Drop()
	time.Sleep(60 * time.Millisecond)
	assert.False(t, c.IsConnected())

	r.Refuse(false)
	assert.Eventually(t, c.IsConnected, wait, 5*time.Millisecond)
}

func TestReconnectGivesUp(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := newClient(t, r.URL(), func(cfg *Config) {
		cfg.Reconnect = true
		cfg.ReconnectBackoff = connection.FixedBackoff(10 * time.Millisecond)
		cfg.MaxReconnectAttempts = 2
	})
	errCh := make(chan error, 4)
	c.OnError(func(err error) { errCh <- err })
	require.NoError(t, c.Connect(context.Background()))

	r.Refuse(true)
	r.Drop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, connection.ErrAttemptsExceeded)
	case <-time.After(wait):
		t.Fatal("give-up not reported")
	}
	assert.False(t, c.IsConnected())
}

func TestMalformedFrameEndsSessionWithoutReconnect(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{})
	c := newClient(t, r.URL(), func(cfg *Config) {
		cfg.Reconnect = true
		cfg.ReconnectBackoff = connection.FixedBackoff(10 * time.Millisecond)
	})
	errCh := make(chan error, 4)
	c.OnError(func(err error) { errCh <- err })
	require.NoError(t, c.Connect(context.Background()))

	r.SendRaw([]byte{0x00, 0x00, 0x00, 0x00})

	select {
	case err := <-errCh:
		var pe *wire.ProtocolError
		assert.True(t, errors.As(err, &pe))
		assert.ErrorIs(t, err, wire.ErrBadMagic)
	case <-time.After(wait):
		t.Fatal("protocol error not reported")
	}
	assert.Eventually(t, func() bool {
		return c.State() == connection.StateDisconnected
	}, wait, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, r.Sessions())
}

func TestSyncRefinesClock(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{Offset: 3 * time.Second})
	c := connected(t, r, func(cfg *Config) {
		cfg.SyncInterval = 20 * time.Millisecond
	})

	r.WaitFor(wire.TypeSync, 2)
	assert.Eventually(t, func() bool {
		return c.Clock().Samples() > 0
	}, wait, 5*time.Millisecond)
	assert.InDelta(t, 3_000_000, c.Clock().Offset(), 500_000)
}

func TestSignalsFromAnnounceAndQuery(t *testing.T) {
	defs := []wire.SignalDefinition{
		{Address: "/mixer/ch/1/fader", Type: wire.SignalParam, Datatype: "f32"},
		{Address: "/mixer/ch/2/fader", Type: wire.SignalParam, Datatype: "f32"},
		{Address: "/lights/1", Type: wire.SignalParam},
	}
	r := testrouter.New(t, testrouter.Options{Signals: defs})
	c := connected(t, r, nil)

	got, err := c.QuerySignals(context.Background(), "/mixer/**")
	require.NoError(t, err)
	assert.Equal(t, defs[:2], got)

	r.Send(&wire.Announce{Namespace: "/cue", Signals: []wire.SignalDefinition{
		{Address: "/cue/go", Type: wire.SignalEvent},
	}})
	assert.Eventually(t, func() bool {
		s, _ := c.Signals("/cue/*")
		return len(s) == 1
	}, wait, 5*time.Millisecond)

	all, err := c.Signals("/**")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "/cue/go", all[0].Address)

	_, err = c.Signals("bad")
	assert.Error(t, err)
}

func TestCBOREncoding(t *testing.T) {
	r := testrouter.New(t, testrouter.Options{Encoding: wire.CBOR})
	r.SetParam("/c", "cbor")
	c := connected(t, r, func(cfg *Config) {
		cfg.Encoding = "cbor"
	})

	v, err := c.Get(context.Background(), "/c")
	require.NoError(t, err)
	assert.Equal(t, "cbor", v)
}
