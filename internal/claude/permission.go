// internal/claude/permission.go
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// PermissionRequest is one gate check forwarded by the permission-server
// subcommand over the relay socket.
type PermissionRequest struct {
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// PermissionResponse is the verdict sent back over the relay socket.
type PermissionResponse struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// permissionRelay listens on a unix socket for gate checks coming from the
// MCP permission-prompt tool (which runs in a child process spawned by the
// assistant CLI) and answers them with the in-process permission callback.
type permissionRelay struct {
	ctx        context.Context
	fn         PermissionFunc
	socketPath string
	listener   net.Listener
}

func newPermissionRelay(ctx context.Context, fn PermissionFunc) *permissionRelay {
	socketDir := filepath.Join(os.TempDir(), "vibecheck-perm")
	return &permissionRelay{
		ctx:        ctx,
		fn:         fn,
		socketPath: filepath.Join(socketDir, fmt.Sprintf("%s.sock", uuid.New().String())),
	}
}

// Start begins accepting relay connections and returns the socket path plus
// a cleanup func.
func (r *permissionRelay) Start() (string, func(), error) {
	if err := os.MkdirAll(filepath.Dir(r.socketPath), 0o755); err != nil {
		return "", nil, fmt.Errorf("create permission socket dir: %w", err)
	}
	listener, err := net.Listen("unix", r.socketPath)
	if err != nil {
		return "", nil, fmt.Errorf("listen on permission socket: %w", err)
	}
	r.listener = listener

	go r.acceptLoop()

	cleanup := func() {
		_ = r.listener.Close()
		_ = os.Remove(r.socketPath)
	}
	return r.socketPath, cleanup, nil
}

func (r *permissionRelay) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.ctx.Done():
			default:
				slog.Debug("permission relay closed", "error", err)
			}
			return
		}
		go r.handleConn(conn)
	}
}

func (r *permissionRelay) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req PermissionRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			slog.Warn("permission relay decode error", "error", err)
			continue
		}

		approved, message := r.fn(r.ctx, req.ToolName, req.Input)
		resp := PermissionResponse{Approved: approved, Message: message}

		payload, err := json.Marshal(resp)
		if err != nil {
			slog.Warn("permission relay marshal error", "error", err)
			continue
		}
		payload = append(payload, '\n')
		if _, err := conn.Write(payload); err != nil {
			slog.Warn("permission relay write error", "error", err)
			return
		}
	}
}

// writePermissionMCPConfig writes a temp MCP config that re-execs this
// binary's permission-server subcommand pointed at the relay socket.
func writePermissionMCPConfig(socketPath string) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("vibecheck-mcp-%s.json", uuid.New().String()))
	payload := map[string]any{
		"mcpServers": map[string]any{
			"vibecheck": map[string]any{
				"command": os.Args[0],
				"args":    []string{"permission-server", "--sock", socketPath},
				"type":    "stdio",
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode mcp config: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", fmt.Errorf("write mcp config: %w", err)
	}
	return path, nil
}

// AskPermission connects to the relay socket and forwards one gate check.
// It is used by the permission-server subcommand running inside the
// assistant CLI's MCP child process.
func AskPermission(socketPath string, req PermissionRequest) (*PermissionResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial permission socket: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode permission request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send permission request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read permission response: %w", err)
		}
		return nil, fmt.Errorf("permission socket closed without response")
	}
	var resp PermissionResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode permission response: %w", err)
	}
	return &resp, nil
}
