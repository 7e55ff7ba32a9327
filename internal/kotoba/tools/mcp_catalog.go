package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Kotoba/internal/kotoba/tools/mcp"
)

// MCPClient is the subset of *mcp.Client used by MCPCatalog.
type MCPClient interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// MCPCatalog exposes the allow-listed tools of an MCP server.
type MCPCatalog struct {
	client  MCPClient
	allow   map[string]bool
	schemas *schemaSet
	logger  *slog.Logger

	mu     sync.RWMutex
	listed map[string]bool
}

var _ Catalog = (*MCPCatalog)(nil)

// NewMCPCatalog wraps client. An empty allow list means DefaultAllow.
func NewMCPCatalog(client MCPClient, allow []string, logger *slog.Logger) *MCPCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPCatalog{
		client:  client,
		allow:   allowSet(allow),
		schemas: newSchemaSet(),
		logger:  logger,
		listed:  make(map[string]bool),
	}
}

// ListFunctions fetches the server's tool list, drops everything outside
// the allow-list and refreshes the cached schemas. A tool whose schema does
// not compile is dropped with a warning.
func (c *MCPCatalog) ListFunctions(ctx context.Context) ([]Function, error) {
	tools, err := c.client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: list mcp tools: %w", err)
	}
	listed := make(map[string]bool, len(tools))
	out := make([]Function, 0, len(tools))
	for _, t := range tools {
		if !c.allow[t.Name] {
			continue
		}
		if err := c.schemas.set(t.Name, t.InputSchema); err != nil {
			c.logger.Warn("tools: dropping mcp tool with bad schema", "tool", t.Name, "err", err)
			continue
		}
		listed[t.Name] = true
		out = append(out, Function{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	c.mu.Lock()
	c.listed = listed
	c.mu.Unlock()
	return out, nil
}

func (c *MCPCatalog) known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listed[name]
}

func (c *MCPCatalog) Call(ctx context.Context, name string, args map[string]any, timeout time.Duration) CallResult {
	if !c.allow[name] {
		return failed(fmt.Errorf("%w: %s is not allowed", ErrUnknownFunction, name))
	}
	if !c.known(name) {
		if _, err := c.ListFunctions(ctx); err != nil {
			return failed(err)
		}
		if !c.known(name) {
			return failed(fmt.Errorf("%w: %s", ErrUnknownFunction, name))
		}
	}
	if err := c.schemas.validate(name, args); err != nil {
		return failed(err)
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := c.client.CallTool(ctx, name, args)
	if err != nil {
		c.logger.Warn("tools: mcp call failed", "tool", name, "elapsed", time.Since(start), "err", err)
		return failed(err)
	}
	if res.IsError {
		msg := res.Text()
		if msg == "" {
			msg = "the tool reported an error"
		}
		return CallResult{Status: StatusError, Error: msg}
	}
	c.logger.Debug("tools: mcp call ok", "tool", name, "elapsed", time.Since(start))
	return CallResult{Status: StatusSuccess, Data: res.Text()}
}
