package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// Transport errors.
var (
	ErrClosed      = errors.New("connection closed")
	ErrSubprotocol = errors.New("router did not accept subprotocol")
)

// Defaults.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultQueueSize    = 64

	// DefaultMaxMessageSize fits the largest frame: header, timestamp and
	// a full payload.
	DefaultMaxMessageSize = wire.HeaderSize + wire.TimestampSize + wire.MaxPayloadSize

	closeGracePeriod = time.Second
)

// Config configures Dial.
type Config struct {
	// Subprotocol offered to the router (default "clasp.v2").
	Subprotocol string

	// HandshakeTimeout bounds the HTTP upgrade (default: ctx only).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write (default 10s).
	WriteTimeout time.Duration

	// MaxMessageSize limits inbound messages.
	MaxMessageSize int64

	// QueueSize is the outbound queue depth (default 64).
	QueueSize int

	// KeepAlive enables WebSocket pings when PingInterval > 0.
	KeepAlive KeepAliveConfig

	// Header is sent with the upgrade request.
	Header http.Header

	// TLSConfig is used for wss:// URLs.
	TLSConfig *tls.Config

	// Logger receives transport-layer protocol events.
	Logger log.Logger
}

func (c *Config) applyDefaults() {
	if c.Subprotocol == "" {
		c.Subprotocol = wire.Subprotocol
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	c.Logger = log.OrNoop(c.Logger)
}

// CloseError reports why the router side went away.
type CloseError struct {
	// Code is the WebSocket close code, or 0 if the socket failed without
	// a close frame.
	Code int
	Text string
	Err  error
}

func (e *CloseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("connection closed: %d %s", e.Code, e.Text)
	}
	return fmt.Sprintf("connection closed: %v", e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// Is makes every CloseError match ErrClosed.
func (e *CloseError) Is(target error) bool {
	return target == ErrClosed
}

type outbound struct {
	data   []byte
	result chan error
}

// Conn is a client WebSocket connection carrying CLASP frames.
type Conn struct {
	id     string
	url    string
	ws     *websocket.Conn
	config Config
	logger log.Logger

	out        chan outbound
	closing    chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}

	keepAlive *KeepAlive
}

// Dial opens a WebSocket to url offering the CLASP subprotocol.
func Dial(ctx context.Context, url string, config Config) (*Conn, error) {
	config.applyDefaults()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     []string{config.Subprotocol},
		TLSClientConfig:  config.TLSConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if p := ws.Subprotocol(); p != "" && p != config.Subprotocol {
		ws.Close()
		return nil, fmt.Errorf("%w: got %q", ErrSubprotocol, p)
	}

	return newConn(ws, url, config), nil
}

func newConn(ws *websocket.Conn, url string, config Config) *Conn {
	c := &Conn{
		id:         uuid.NewString(),
		url:        url,
		ws:         ws,
		config:     config,
		logger:     config.Logger,
		out:        make(chan outbound, config.QueueSize),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	ws.SetReadLimit(config.MaxMessageSize)
	ws.SetPingHandler(c.handlePing)
	ws.SetPongHandler(c.handlePong)

	c.logState("", "CONNECTED", url)
	go c.writeLoop()

	if config.KeepAlive.PingInterval > 0 {
		c.keepAlive = NewKeepAlive(config.KeepAlive, c.sendPing, func() {
			c.logError("keepalive", "pong timeout")
			c.ws.Close()
		})
		c.keepAlive.Start(context.Background())
	}
	return c
}

// ID returns the connection UUID.
func (c *Conn) ID() string {
	return c.id
}

// URL returns the dialed URL.
func (c *Conn) URL() string {
	return c.url
}

// Send queues frame and waits for the write to finish.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	req := outbound{data: frame, result: make(chan error, 1)}

	select {
	case c.out <- req:
	case <-c.writerDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-c.writerDone:
		select {
		case err := <-req.result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next binary message. Text messages are skipped.
func (c *Conn) Receive() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.closeErr(err)
		}
		if mt != websocket.BinaryMessage {
			c.logError("receive", "ignored non-binary message")
			continue
		}
		c.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			RemoteAddr:   c.url,
			Frame:        log.NewFrameEvent(data),
		})
		return data, nil
	}
}

// Interrupt makes a blocked Receive return. The connection is unusable
// for reads afterwards.
func (c *Conn) Interrupt() {
	_ = c.ws.SetReadDeadline(time.Now())
}

// Close sends a normal close frame and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		<-c.writerDone

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		code := websocket.CloseNormalClosure
		c.logControl(log.DirectionOut, log.ControlMsgClose, &code)

		err = c.ws.Close()
		c.logState("CONNECTED", "CLOSED", "local close")
	})
	return err
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.closing:
			return
		case req := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.ws.WriteMessage(websocket.BinaryMessage, req.data)
			req.result <- err
			if err != nil {
				c.logError("write", err.Error())
				c.ws.Close()
				return
			}
			c.logger.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: c.id,
				Direction:    log.DirectionOut,
				Layer:        log.LayerTransport,
				Category:     log.CategoryMessage,
				RemoteAddr:   c.url,
				Frame:        log.NewFrameEvent(req.data),
			})
		}
	}
}

func (c *Conn) sendPing(seq uint32) error {
	c.logControl(log.DirectionOut, log.ControlMsgPing, nil)
	return c.ws.WriteControl(websocket.PingMessage, encodePingSeq(seq), time.Now().Add(c.config.WriteTimeout))
}

func (c *Conn) handlePing(data string) error {
	c.logControl(log.DirectionIn, log.ControlMsgPing, nil)
	err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.config.WriteTimeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Conn) handlePong(data string) error {
	c.logControl(log.DirectionIn, log.ControlMsgPong, nil)
	if seq, ok := decodePingSeq([]byte(data)); ok && c.keepAlive != nil {
		c.keepAlive.PongReceived(seq)
	}
	return nil
}

func (c *Conn) closeErr(err error) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code := ce.Code
		c.logControl(log.DirectionIn, log.ControlMsgClose, &code)
		return &CloseError{Code: ce.Code, Text: ce.Text, Err: err}
	}
	return &CloseError{Err: err}
}

func (c *Conn) logState(oldState, newState, reason string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.url,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *Conn) logControl(dir log.Direction, typ log.ControlMsgType, code *int) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   c.url,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, CloseCode: code},
	})
}

func (c *Conn) logError(op, msg string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   c.url,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: msg,
			Context: op,
		},
	})
}
