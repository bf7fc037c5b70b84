package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeatures(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"p", []string{"param"}},
		{"psetg", []string{"param", "stream", "event", "timeline", "gesture"}},
		{"pxq", []string{"param"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFeatures(tt.in))
		})
	}

	assert.Equal(t, "pe", EncodeFeatures([]string{"param", "bogus", "event"}))
}

func TestDecodeRouterTXT(t *testing.T) {
	r, err := DecodeRouterTXT(TXTRecordMap{"name": "Studio", "ws": "9000", "features": "pe", "version": "2"})
	require.NoError(t, err)
	assert.Equal(t, "Studio", r.Name)
	assert.Equal(t, uint16(9000), r.Port)
	assert.Equal(t, "2", r.Version)
	assert.Equal(t, []string{"param", "event"}, r.Features)

	r, err = DecodeRouterTXT(TXTRecordMap{})
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultPort), r.Port)

	for _, bad := range []string{"abc", "0", "70000"} {
		_, err := DecodeRouterTXT(TXTRecordMap{"ws": bad})
		assert.True(t, errors.Is(err, ErrBadPort), "port %q", bad)
	}
}

func TestTXTRoundTrip(t *testing.T) {
	in := &Router{Name: "Main", Port: 7331, Version: "2", Features: []string{"param", "gesture"}}
	out, err := DecodeRouterTXT(StringsToTXTRecords(TXTRecordsToStrings(EncodeRouterTXT(in))))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"name=a=b", "flag", "", "=x"})
	assert.Equal(t, TXTRecordMap{"name": "a=b", "flag": ""}, txt)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://192.168.1.5:7330/clasp", WebSocketURL("192.168.1.5", 7330))
	assert.Equal(t, "ws://[fe80::1]:7330/clasp", WebSocketURL("fe80::1", 7330))

	r := &Router{Port: 7330}
	assert.Empty(t, r.URL())
	r.Addresses = []string{"10.0.0.2"}
	assert.Equal(t, "ws://10.0.0.2:7330/clasp", r.URL())
}

func newEntry(instance string, txt []string, ips ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{HostName: instance + ".local.", Port: 7330, Text: txt}
	e.Instance = instance
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestAggregate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	out := make(chan Event)
	go aggregate(ctx, entries, removed, out)

	entries <- newEntry("router-1", []string{"name=Stage", "ws=7331", "features=ps"}, "10.0.0.1")
	ev := recv(t, out)
	assert.Equal(t, RouterFound, ev.Kind)
	assert.Equal(t, "Stage", ev.Router.Name)
	assert.Equal(t, "router-1.local.", ev.Router.Host)
	assert.Equal(t, "ws://10.0.0.1:7331/clasp", ev.Router.URL())

	// Same instance on a second interface only adds an address.
	entries <- newEntry("router-1", []string{"name=Stage", "ws=7331"}, "fe80::1")

	// Malformed TXT is dropped.
	entries <- newEntry("broken", []string{"ws=nope"}, "10.0.0.9")

	// Unnamed router falls back to the instance name.
	entries <- newEntry("router-2", nil, "10.0.0.2")
	ev = recv(t, out)
	assert.Equal(t, "router-2", ev.Router.Name)
	assert.Equal(t, uint16(DefaultPort), ev.Router.Port)

	removed <- newEntry("router-1", nil, "10.0.0.1")
	removed <- newEntry("router-1", nil, "fe80::1")
	ev = recv(t, out)
	assert.Equal(t, RouterLost, ev.Kind)
	assert.Equal(t, "router-1", ev.Router.Instance)

	close(entries)
	_, ok := <-out
	assert.False(t, ok)
}

func TestAggregateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event)
	go aggregate(ctx, make(chan *zeroconf.ServiceEntry), make(chan *zeroconf.ServiceEntry), out)

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("aggregate did not stop")
	}
}

func TestMergeRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addrs)

	addrs = removeAddresses(addrs, newEntry("x", nil, "10.0.0.1"))
	assert.Equal(t, []string{"10.0.0.2"}, addrs)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "FOUND", RouterFound.String())
	assert.Equal(t, "LOST", RouterLost.String())
	assert.Equal(t, "UNKNOWN", EventKind(9).String())
}
