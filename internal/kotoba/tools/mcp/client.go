package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/bdobrica/Kotoba/common/version"
)

// ErrClosed is returned for calls made after the server went away.
var ErrClosed = errors.New("mcp: connection closed")

// Client talks to one MCP server. It is safe for concurrent use.
type Client struct {
	name   string
	w      io.WriteCloser
	logger *slog.Logger
	wait   func() error

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *response
	closed  bool
	done    chan struct{}

	server Implementation
}

// Start launches command and performs the MCP handshake on its stdio.
func Start(ctx context.Context, name, command string, args, env []string, logger *slog.Logger) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("mcp %s: stdout pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("mcp %s: start %s: %w", name, command, err)
	}
	c, err := Connect(ctx, name, stdout, stdin, logger)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	c.wait = cmd.Wait
	return c, nil
}

// Connect runs the handshake over an existing stream pair. Start uses it
// for child processes; tests use it with pipes.
func Connect(ctx context.Context, name string, r io.Reader, w io.WriteCloser, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:    name,
		w:       w,
		logger:  logger,
		pending: make(map[int64]chan *response),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)

	var init initializeResult
	err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: "kotoba", Version: version.Version},
	}, &init)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("mcp %s: initialize: %w", name, err)
	}
	if err := c.send(request{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
		w.Close()
		return nil, fmt.Errorf("mcp %s: initialized notification: %w", name, err)
	}
	c.server = init.ServerInfo
	logger.Info("mcp: server ready", "name", name, "server", init.ServerInfo.Name, "version", init.ServerInfo.Version)
	return c, nil
}

// Server returns the implementation info reported during the handshake.
func (c *Client) Server() Implementation { return c.server }

// ListTools returns every tool the server exposes, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var (
		all    []Tool
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var res listToolsResult
		if err := c.call(ctx, "tools/list", params, &res); err != nil {
			return nil, err
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool invokes name with args.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var res CallToolResult
	if err := c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close closes the write side and, for child processes, waits for exit. It
// returns once the server has closed its output.
func (c *Client) Close() error {
	err := c.w.Close()
	if c.wait != nil {
		if werr := c.wait(); werr != nil && err == nil {
			err = werr
		}
	}
	<-c.done
	return err
}

func (c *Client) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	data = append(data, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(data)
	return err
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan *response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.send(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		forget()
		return fmt.Errorf("mcp %s: write %s: %w", c.name, method, err)
	}

	select {
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("mcp %s: decode %s result: %w", c.name, method, err)
		}
		return nil
	}
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.done)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp: unparseable line", "name", c.name, "err", err)
			continue
		}
		if resp.ID == 0 {
			// Server notification.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- &response{ID: id, Error: &RPCError{Code: -32000, Message: ErrClosed.Error()}}
		delete(c.pending, id)
	}
	c.mu.Unlock()
}
