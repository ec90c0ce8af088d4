// internal/screenshot/capture.go
package screenshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// PortWaitTimeout bounds how long CapturePort waits for a dev server
	// to start accepting connections.
	PortWaitTimeout = 30 * time.Second

	// navigationTimeout bounds page load inside the browser.
	navigationTimeout = 15 * time.Second

	// settleDelay lets the page finish painting after the load event.
	settleDelay = 500 * time.Millisecond
)

// FindProjectDir locates the directory to preview: workDir itself if it has
// an index.html, otherwise the first first-level subdirectory that does.
// Returns "" when nothing looks like a web project.
func FindProjectDir(workDir string) string {
	if hasIndexHTML(workDir) {
		return workDir
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(workDir, entry.Name())
		if hasIndexHTML(dir) {
			return dir
		}
	}
	return ""
}

func hasIndexHTML(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "index.html"))
	return err == nil && !info.IsDir()
}

// WaitForPort polls addr (host:port) until it accepts a TCP connection or
// the timeout elapses.
func WaitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("port %s not ready after %s", addr, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

type devtoolsTarget struct {
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// resolvePageSocket finds a page target on a DevTools endpoint and returns
// its debugger websocket URL.
func resolvePageSocket(ctx context.Context, devtoolsAddr string) (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/json/list", devtoolsAddr), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query devtools endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("devtools endpoint returned %s", resp.Status)
	}

	var targets []devtoolsTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode devtools targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no page target on devtools endpoint %s", devtoolsAddr)
}

type cdpCommand struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type cdpMessage struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// cdpSession is one DevTools protocol connection. Commands are issued
// serially; responses and events are demultiplexed by id/method.
type cdpSession struct {
	conn   *websocket.Conn
	nextID int
}

func dialCDP(ctx context.Context, wsURL string) (*cdpSession, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools socket: %w", err)
	}
	return &cdpSession{conn: conn}, nil
}

func (s *cdpSession) Close() error {
	return s.conn.Close()
}

// call sends one command and reads frames until its response arrives.
// Events received while waiting are discarded.
func (s *cdpSession) call(deadline time.Time, method string, params map[string]any) (json.RawMessage, error) {
	s.nextID++
	id := s.nextID

	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(cdpCommand{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		s.conn.SetReadDeadline(deadline)
		var msg cdpMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}
		if msg.ID != id {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("%s failed: %s", method, msg.Error.Message)
		}
		return msg.Result, nil
	}
}

// waitEvent reads frames until the named event arrives or the deadline
// passes.
func (s *cdpSession) waitEvent(deadline time.Time, method string) error {
	for {
		s.conn.SetReadDeadline(deadline)
		var msg cdpMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("wait for %s: %w", method, err)
		}
		if msg.Method == method {
			return nil
		}
	}
}

// Capture navigates a headless browser page to url and returns a PNG of the
// viewport. devtoolsAddr is the host:port of a running browser's DevTools
// endpoint.
func Capture(ctx context.Context, devtoolsAddr, url string) ([]byte, error) {
	wsURL, err := resolvePageSocket(ctx, devtoolsAddr)
	if err != nil {
		return nil, err
	}

	session, err := dialCDP(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	deadline := time.Now().Add(navigationTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if _, err := session.call(deadline, "Page.enable", nil); err != nil {
		return nil, err
	}
	if _, err := session.call(deadline, "Page.navigate", map[string]any{"url": url}); err != nil {
		return nil, err
	}
	if err := session.waitEvent(deadline, "Page.loadEventFired"); err != nil {
		return nil, err
	}
	time.Sleep(settleDelay)

	result, err := session.call(deadline.Add(5*time.Second), "Page.captureScreenshot",
		map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}

	var shot struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &shot); err != nil {
		return nil, fmt.Errorf("decode screenshot result: %w", err)
	}
	png, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot data: %w", err)
	}
	return png, nil
}

// CapturePort waits for a local dev server on port, then captures its root
// page.
func CapturePort(ctx context.Context, devtoolsAddr string, port int) ([]byte, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if err := WaitForPort(ctx, addr, PortWaitTimeout); err != nil {
		return nil, err
	}
	return Capture(ctx, devtoolsAddr, fmt.Sprintf("http://%s/", addr))
}
