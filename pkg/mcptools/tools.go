// Package mcptools exposes coordination state to agents as MCP tools, so an
// agent told "resource busy" can see who holds what before retrying.
package mcptools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pixperk/stompguard/pkg/introspect"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewServer creates an MCP server with every coordination tool registered.
func NewServer(src introspect.Source) *server.MCPServer {
	s := server.NewMCPServer(
		"stompguard",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	Register(s, src)
	return s
}

// Register adds the coordination tools to s.
func Register(s *server.MCPServer, src introspect.Source) {
	locks := NewListLocksTool(src)
	s.AddTool(locks.Definition(), locks.Handle)

	stats := NewContentionStatsTool(src)
	s.AddTool(stats.Definition(), stats.Handle)

	policies := NewPoliciesTool(src)
	s.AddTool(policies.Definition(), policies.Handle)

	resolve := NewResolveKeyTool(src)
	s.AddTool(resolve.Definition(), resolve.Handle)
}

// ListLocksTool handles coord_list_locks.
type ListLocksTool struct {
	src introspect.Source
}

func NewListLocksTool(src introspect.Source) *ListLocksTool {
	return &ListLocksTool{src: src}
}

func (t *ListLocksTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_list_locks",
		mcp.WithDescription(
			"List the resource locks currently held by agents, with holder, fencing token and remaining lease.",
		),
	)
}

func (t *ListLocksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := t.src.Locks()

	var sb strings.Builder
	sb.WriteString("## Held Locks\n\n")
	if len(report.Locks) == 0 {
		sb.WriteString("No locks are held.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	for _, l := range report.Locks {
		sb.WriteString(fmt.Sprintf("- **%s** held by %s (session %s), token %d, expires in %s\n",
			l.Key, l.Agent, l.Session, l.Token, time.Duration(l.RemainingMs)*time.Millisecond))
	}
	sb.WriteString(fmt.Sprintf("\nFencing counter: %d\n", report.FencingCounter))
	return mcp.NewToolResultText(sb.String()), nil
}

// ContentionStatsTool handles coord_contention_stats.
type ContentionStatsTool struct {
	src introspect.Source
}

func NewContentionStatsTool(src introspect.Source) *ContentionStatsTool {
	return &ContentionStatsTool{src: src}
}

func (t *ContentionStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_contention_stats",
		mcp.WithDescription(
			"Show per-resource contention: guarded runs, busy rejections, errors and lock wait times, most contended first.",
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of resources to list (default 20)"),
		),
	)
}

func (t *ContentionStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	report := t.src.Contention()

	var sb strings.Builder
	sb.WriteString("## Contention\n\n")
	if len(report.Keys) == 0 {
		sb.WriteString("No guarded runs recorded yet.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	sb.WriteString("| Resource | Runs | Busy | Errors | Avg wait | Max wait | Last holder |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for i, k := range report.Keys {
		if i == limit {
			sb.WriteString(fmt.Sprintf("\n_%d more not shown_\n", len(report.Keys)-limit))
			break
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %.1fms | %.1fms | %s |\n",
			k.Key, k.Runs, k.Busy, k.Errors, k.AvgWaitMs, k.MaxWaitMs, k.LastHolder))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// PoliciesTool handles coord_policies.
type PoliciesTool struct {
	src introspect.Source
}

func NewPoliciesTool(src introspect.Source) *PoliciesTool {
	return &PoliciesTool{src: src}
}

func (t *PoliciesTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_policies",
		mcp.WithDescription(
			"Show the resource classes in force: concurrency mode, lease TTL, interactive and batch wait ceilings, conflict strategy.",
		),
	)
}

func (t *PoliciesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := t.src.Policies()

	var sb strings.Builder
	sb.WriteString("## Resource Classes\n\n")
	sb.WriteString("| Class | Mode | Key prefix | Lease TTL | Interactive wait | Batch wait | Conflicts |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, c := range report.Classes {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
			c.Class, c.Mode, c.KeyPrefix, c.LeaseTTL, c.InteractiveMaxWait, c.BatchMaxWait, c.ConflictStrategy))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ResolveKeyTool handles coord_resolve_key.
type ResolveKeyTool struct {
	src introspect.Source
}

func NewResolveKeyTool(src introspect.Source) *ResolveKeyTool {
	return &ResolveKeyTool{src: src}
}

func (t *ResolveKeyTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_resolve_key",
		mcp.WithDescription(
			"Resolve a resource class and scope to its canonical lock key and report who holds it, if anyone.",
		),
		mcp.WithString("class",
			mcp.Required(),
			mcp.Description("Resource class: file-mutex, db-single-writer, graph-merge or docgen-idempotent"),
		),
		mcp.WithString("scope",
			mcp.Required(),
			mcp.Description("Absolute file path, database name, graph id or repository id"),
		),
	)
}

func (t *ResolveKeyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class := req.GetString("class", "")
	scope := req.GetString("scope", "")
	if class == "" || scope == "" {
		return mcp.NewToolResultError("class and scope are required"), nil
	}

	view, err := t.src.ResolveKey(class, scope)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot resolve: %v", err)), nil
	}

	holder := "free"
	if view.HeldBy != "" {
		holder = "held by " + view.HeldBy
	}
	return mcp.NewToolResultText(fmt.Sprintf("**%s** (%s): %s\n", view.Key, view.Class, holder)), nil
}

// intArg reads an integer argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}
