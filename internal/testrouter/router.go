// Package testrouter runs an in-process CLASP router for tests.
//
// The router speaks just enough of the protocol to exercise a client:
// it answers HELLO with WELCOME, GET with SNAPSHOT for known parameters,
// SYNC with a timestamped SYNC and QUERY with RESULT. Everything it
// receives is recorded, and tests push messages to connected clients with
// Send.
package testrouter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clasp-protocol/clasp-go/pkg/address"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Options configures a Router.
type Options struct {
	// Name is sent in WELCOME (default "test-router").
	Name string

	// Encoding is the payload encoding (default MessagePack).
	Encoding wire.Encoding

	// Offset shifts the router clock relative to the local clock.
	Offset time.Duration

	// SilentHandshake makes the router never answer HELLO.
	SilentHandshake bool

	// Reject answers HELLO with this ERROR instead of WELCOME.
	Reject *wire.ErrorMessage

	// BeforeWelcome messages are sent after HELLO, ahead of WELCOME.
	BeforeWelcome []wire.Message

	// Signals are returned for matching QUERY messages.
	Signals []wire.SignalDefinition

	// SilentQuery leaves QUERY unanswered.
	SilentQuery bool
}

// Router is a fake CLASP router.
type Router struct {
	t        testing.TB
	opts     Options
	srv      *httptest.Server
	codec    wire.Codec
	upgrader websocket.Upgrader

	mu       sync.Mutex
	peers    map[*peer]struct{}
	params   map[string]wire.Value
	received []wire.Message
	hellos   []*wire.Hello
	sessions int
	refuse   bool
}

type peer struct {
	ws      *websocket.Conn
	wmu     sync.Mutex
	session string
}

func (p *peer) write(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.ws.WriteMessage(websocket.BinaryMessage, data)
}

// New starts a router and stops it when the test ends.
func New(t testing.TB, opts Options) *Router {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "test-router"
	}
	r := &Router{
		t:      t,
		opts:   opts,
		codec:  wire.Codec{Encoding: opts.Encoding},
		peers:  make(map[*peer]struct{}),
		params: make(map[string]wire.Value),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{wire.Subprotocol},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

// URL returns the router's WebSocket URL.
func (r *Router) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/clasp"
}

// Close drops all clients and stops the server.
func (r *Router) Close() {
	r.Drop()
	r.srv.Close()
}

// Refuse makes new upgrade requests fail with 503 while on is true.
func (r *Router) Refuse(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refuse = on
}

// Drop closes every client socket without a close handshake.
func (r *Router) Drop() {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[*peer]struct{})
	r.mu.Unlock()

	for _, p := range peers {
		_ = p.ws.Close()
	}
}

// SetParam stores a value returned for GET.
func (r *Router) SetParam(addr string, v wire.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[addr] = v
}

// Param returns the value last stored by SetParam or a client SET.
func (r *Router) Param(addr string) (wire.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.params[addr]
	return v, ok
}

// Send encodes msg and sends it to every connected client.
func (r *Router) Send(msg wire.Message) {
	r.t.Helper()
	data, err := r.codec.Encode(msg)
	if err != nil {
		r.t.Fatalf("testrouter: encode %s: %v", msg.Type(), err)
	}
	r.SendRaw(data)
}

// SendRaw sends data as one binary message to every connected client.
func (r *Router) SendRaw(data []byte) {
	for _, p := range r.connected() {
		_ = p.write(data)
	}
}

// Connections returns the number of clients past the handshake.
func (r *Router) Connections() int {
	return len(r.connected())
}

// Sessions returns the number of WELCOME messages sent.
func (r *Router) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

// Hellos returns the HELLO messages received.
func (r *Router) Hellos() []*wire.Hello {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*wire.Hello(nil), r.hellos...)
}

// Received returns all messages received, in order.
func (r *Router) Received() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Message(nil), r.received...)
}

// ReceivedOf returns the received messages of one type.
func (r *Router) ReceivedOf(typ wire.MessageType) []wire.Message {
	var out []wire.Message
	for _, m := range r.Received() {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until at least n messages of typ were received and
// returns them. It fails the test after two seconds.
func (r *Router) WaitFor(typ wire.MessageType, n int) []wire.Message {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := r.ReceivedOf(typ)
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			r.t.Fatalf("testrouter: got %d %s messages, want %d", len(msgs), typ, n)
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitConnections blocks until n clients are connected.
func (r *Router) WaitConnections(n int) {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.Connections() != n {
		if time.Now().After(deadline) {
			r.t.Fatalf("testrouter: %d connections, want %d", r.Connections(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Now returns the router clock in microseconds.
func (r *Router) Now() uint64 {
	return uint64(time.Now().Add(r.opts.Offset).UnixMicro())
}

func (r *Router) connected() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		if p.session != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	refuse := r.refuse
	r.mu.Unlock()
	if refuse {
		http.Error(w, "router unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}

	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := r.codec.Decode(data)
		if err != nil {
			continue
		}

		r.mu.Lock()
		r.received = append(r.received, msg)
		r.mu.Unlock()

		r.handle(p, msg)
	}
}

func (r *Router) reply(p *peer, msg wire.Message) {
	data, err := r.codec.Encode(msg)
	if err != nil {
		return
	}
	_ = p.write(data)
}

func (r *Router) handle(p *peer, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Hello:
		r.mu.Lock()
		r.hellos = append(r.hellos, m)
		r.mu.Unlock()

		if r.opts.SilentHandshake {
			return
		}
		if r.opts.Reject != nil {
			r.reply(p, r.opts.Reject)
			return
		}
		for _, pre := range r.opts.BeforeWelcome {
			r.reply(p, pre)
		}

		// Register first so Send reaches the client as soon as it sees
		// WELCOME.
		session := uuid.NewString()
		r.mu.Lock()
		p.session = session
		r.sessions++
		r.mu.Unlock()

		r.reply(p, &wire.Welcome{
			Version:  wire.ProtocolVersion,
			Session:  session,
			Name:     r.opts.Name,
			Features: []string{"param", "event", "stream"},
			Time:     r.Now(),
		})

	case *wire.Set:
		r.SetParam(m.Address, m.Value)

	case *wire.Get:
		v, ok := r.Param(m.Address)
		if !ok {
			return
		}
		r.reply(p, &wire.Snapshot{Params: []wire.ParamValue{{Address: m.Address, Value: v, Revision: 1}}})

	case *wire.Sync:
		t2 := r.Now()
		t3 := r.Now()
		r.reply(p, &wire.Sync{T1: m.T1, T2: &t2, T3: &t3})

	case *wire.Query:
		if r.opts.SilentQuery {
			return
		}
		var defs []wire.SignalDefinition
		for _, d := range r.opts.Signals {
			if address.Match(m.Pattern, d.Address) {
				defs = append(defs, d)
			}
		}
		r.reply(p, &wire.Result{Signals: defs})
	}
}
