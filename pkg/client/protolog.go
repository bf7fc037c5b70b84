package client

import (
	"time"

	"github.com/clasp-protocol/clasp-go/pkg/connection"
	"github.com/clasp-protocol/clasp-go/pkg/log"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// logEvent stamps and forwards a protocol event.
func (c *Client) logEvent(e log.Event) {
	if _, noop := c.plog.(log.NoopLogger); noop {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.RemoteAddr == "" {
		e.RemoteAddr = c.config.URL
	}
	if e.SessionID == "" {
		e.SessionID = c.SessionID()
	}
	c.plog.Log(e)
}

func (c *Client) logMessage(dir log.Direction, msg wire.Message, qos wire.QoS) {
	if _, noop := c.plog.(log.NoopLogger); noop {
		return
	}
	me := &log.MessageEvent{
		Type: msg.Type().String(),
		QoS:  uint8(qos),
	}
	switch m := msg.(type) {
	case *wire.Set:
		me.Address = m.Address
	case *wire.Get:
		me.Address = m.Address
	case *wire.Publish:
		me.Address = m.Address
	case *wire.Ack:
		me.Address = m.Address
	case *wire.ErrorMessage:
		me.Address = m.Address
	case *wire.Subscribe:
		me.Address = m.Pattern
		me.SubscriptionID = &m.ID
	case *wire.Unsubscribe:
		me.SubscriptionID = &m.ID
	}
	if payload, err := wire.ToMap(msg); err == nil {
		me.Payload = payload
	}

	c.logEvent(log.Event{
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message:   me,
	})
}

func (c *Client) logState(from, to connection.State, reason string) {
	c.logger.Debug("state change", "from", from, "to", to, "reason", reason)
	c.logEvent(log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

// logDecodeError records an inbound frame that did not decode, tagged with
// its message type when the payload is still readable.
func (c *Client) logDecodeError(data []byte, err error) {
	context := "decode"
	if f, ferr := wire.DecodeFrame(data); ferr == nil {
		if typ, perr := wire.PeekType(c.codec.Encoding, f.Payload); perr == nil && typ != "" {
			context = "decode " + string(typ)
		}
	}
	c.logger.Debug("inbound frame rejected", "context", context, "error", err)
	c.logEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		Frame:     log.NewFrameEvent(data),
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: context,
		},
	})
}
