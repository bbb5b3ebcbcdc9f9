// Package gateway is the WebSocket transport in front of the session
// router. It owns framing, payload validation, and the heartbeat; all
// protocol semantics live behind it in the session package.
package gateway

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/session"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

type Gateway struct {
	log        *slog.Logger
	router     *session.Router
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	bufferSize int
}

func NewGateway(log *slog.Logger, router *session.Router, bufferSize int) *Gateway {
	return &Gateway{
		log:    log,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect cross-origin; authorization happens
			// on the authenticate event, not on the HTTP handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate:   validator.New(),
		bufferSize: bufferSize,
	}
}

// ServeHTTP upgrades the connection and runs it to completion: one read
// loop (this goroutine) and one write pump. The closer handed to the
// router only signals the write pump; the pump flushes buffered events
// before actually closing the socket, so a terminal event (unauthorized)
// still reaches the client. Whatever way the connection dies, the
// router's Disconnect runs exactly once with effect.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	connSink := sink.NewConnSink(g.log, g.bufferSize)
	quit := make(chan struct{})
	var closeOnce sync.Once
	closer := func() {
		closeOnce.Do(func() { close(quit) })
	}
	connID := g.router.Connect(connSink, closer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.writePump(ws, connSink, quit)
	}()

	g.readPump(r.Context(), ws, connID, connSink)

	g.router.Disconnect(context.Background(), connID)
	closer()
	<-done
}

// readPump decodes inbound envelopes and hands them to the router. It is
// the sole reader; the heartbeat deadline is refreshed on every pong.
func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, connID string, connSink *sink.ConnSink) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("websocket read error", "conn_id", connID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.rejectPayload(ctx, connID, connSink, err)
			continue
		}
		cmd, err := decodeCommand(g.validate, env)
		if err != nil {
			g.rejectPayload(ctx, connID, connSink, err)
			continue
		}

		g.router.HandleEvent(ctx, connID, cmd)
	}
}

// rejectPayload reports a malformed frame as a scoped validation error;
// a bad payload never costs the client its connection.
func (g *Gateway) rejectPayload(ctx context.Context, connID string, connSink *sink.ConnSink, err error) {
	g.log.Debug("rejected inbound payload", "conn_id", connID, "error", err)
	_ = connSink.Consume(ctx, event.Error{
		Code:    errors.CodeValidation,
		Message: err.Error(),
	})
}

// writePump is the sole writer: it drains the connection sink, marshals
// envelopes, and keeps the heartbeat alive. It owns the socket close.
func (g *Gateway) writePump(ws *websocket.Conn, connSink *sink.ConnSink, quit <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-quit:
			// Flush whatever is already buffered, then close politely.
			for {
				select {
				case evt := <-connSink.Events:
					if g.writeEvent(ws, evt) != nil {
						return
					}
				default:
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case evt := <-connSink.Events:
			if g.writeEvent(ws, evt) != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEvent marshals and writes one envelope. A marshaling failure is a
// bug in an event type, logged and skipped; a write failure kills the pump.
func (g *Gateway) writeEvent(ws *websocket.Conn, evt event.DomainEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		g.log.Error("event marshaling failed", "event", evt.EventName(), "error", err)
		return nil
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(Envelope{Event: evt.EventName(), Data: data})
}
