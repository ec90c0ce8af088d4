// internal/agent/conn.go
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NestozAI/VibeCheck/internal/protocol"
)

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// send delivers an outbound message best-effort. Messages are dropped when
// no connection is open; the relay re-syncs state on reconnect.
func (a *Agent) send(msg protocol.Message) {
	if a.sendFn != nil {
		a.sendFn(msg)
		return
	}

	a.connMu.Lock()
	c := a.conn
	a.connMu.Unlock()

	if c == nil {
		slog.Debug("not connected, dropping message", "type", msg.Type())
		return
	}
	if err := c.send(msg); err != nil {
		slog.Warn("send failed", "type", msg.Type(), "error", err)
	}
}

// runConnection dials the relay, announces the session, and pumps inbound
// frames until the socket dies or ctx is cancelled.
func (a *Agent) runConnection(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?key=%s", a.cfg.ServerURL, url.QueryEscape(a.cfg.APIKey))
	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: false,
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.ServerURL, err)
	}

	c := &wsConn{ws: ws}
	a.connMu.Lock()
	a.conn = c
	a.connMu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		a.connMu.Lock()
		a.conn = nil
		a.connMu.Unlock()
		ws.Close()
	}()

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	slog.Info("connected", "server", a.cfg.ServerURL, "work_dir", a.cfg.WorkDir)
	a.sendSessionSync()
	go a.pingLoop(c, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		msgType, msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("undecodable frame, ignoring", "error", err)
			continue
		}
		if msg == nil {
			slog.Debug("unknown message type, ignoring", "type", msgType)
			continue
		}
		a.dispatch(msg)
	}
}

// sendSessionSync announces the working directory and any loaded session id
// after connecting.
func (a *Agent) sendSessionSync() {
	var sessionID *string
	if id := a.executor.SessionID(); id != "" {
		sessionID = &id
	}
	a.send(protocol.SessionSync{WorkDir: a.cfg.WorkDir, SessionID: sessionID})
}

// pingLoop emits keepalive pings until the connection closes.
func (a *Agent) pingLoop(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(protocol.Ping{}); err != nil {
				slog.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
