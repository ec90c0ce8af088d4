package main

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/NestozAI/VibeCheck/internal/claude"
)

func init() {
	rootCmd.AddCommand(permissionServerCmd)
	permissionServerCmd.Flags().String("sock", "", "permission relay socket path (required)")
	_ = permissionServerCmd.MarkFlagRequired("sock")
}

// permissionServerCmd is re-executed by the assistant CLI as its MCP
// permission-prompt server. The exposed approve tool forwards each gate
// check over the relay socket to the daemon, which runs the actual
// trusted-path logic and the UI approval round-trip.
var permissionServerCmd = &cobra.Command{
	Use:    "permission-server",
	Short:  "Run the MCP permission-prompt server (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		socketPath, _ := cmd.Flags().GetString("sock")

		srv := mcpserver.NewMCPServer("vibecheck", "1.0.0",
			mcpserver.WithToolCapabilities(false),
		)
		srv.AddTools(approveTool(socketPath))
		return mcpserver.ServeStdio(srv)
	},
}

func approveTool(socketPath string) mcpserver.ServerTool {
	tool := mcplib.NewTool("approve",
		mcplib.WithDescription("Check whether a tool invocation is permitted"),
		mcplib.WithString("tool_name",
			mcplib.Required(),
			mcplib.Description("Name of the tool being invoked"),
		),
		mcplib.WithObject("input",
			mcplib.Description("The tool's input object"),
		),
		mcplib.WithString("tool_use_id",
			mcplib.Description("Identifier of this tool use"),
		),
	)
	return mcpserver.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			return handleApprove(socketPath, req)
		},
	}
}

// handleApprove relays one gate check and translates the verdict into the
// allow/deny JSON shape the assistant CLI expects from its
// permission-prompt tool.
func handleApprove(socketPath string, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := req.GetArguments()

	toolName, _ := args["tool_name"].(string)
	if toolName == "" {
		return mcplib.NewToolResultError("tool_name is required"), nil
	}

	var input json.RawMessage
	if raw, ok := args["input"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("encode input: %v", err)), nil
		}
		input = encoded
	}
	toolUseID, _ := args["tool_use_id"].(string)

	resp, err := claude.AskPermission(socketPath, claude.PermissionRequest{
		ToolName:  toolName,
		Input:     input,
		ToolUseID: toolUseID,
	})
	if err != nil {
		// Fail closed: an unreachable daemon denies the call.
		return permissionVerdict(false, fmt.Sprintf("permission relay unavailable: %v", err), nil)
	}

	if resp.Approved {
		return permissionVerdict(true, "", input)
	}
	return permissionVerdict(false, resp.Message, nil)
}

func permissionVerdict(allow bool, message string, input json.RawMessage) (*mcplib.CallToolResult, error) {
	verdict := map[string]any{}
	if allow {
		verdict["behavior"] = "allow"
		verdict["updatedInput"] = input
		if input == nil {
			verdict["updatedInput"] = json.RawMessage(`{}`)
		}
	} else {
		verdict["behavior"] = "deny"
		verdict["message"] = message
	}
	encoded, err := json.Marshal(verdict)
	if err != nil {
		return nil, err
	}
	return mcplib.NewToolResultText(string(encoded)), nil
}
