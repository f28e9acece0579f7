package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// Server is one connected MCP server with its cached tool schemas.
type Server struct {
	name      string
	transport transport
	tools     []Tool
}

func (s *Server) Name() string  { return s.name }
func (s *Server) Tools() []Tool { return s.tools }

var initRetryDelays = []time.Duration{time.Second, 2 * time.Second}

// connect performs the initialize handshake, retrying briefly since
// stdio servers need a moment to come up, then caches the tool list.
func connect(ctx context.Context, name string, t transport) (*Server, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "seele", "version": "1.0.0"},
	}

	var resp *Response
	var err error
	for attempt := 0; attempt <= len(initRetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(initRetryDelays[attempt-1]):
			case <-ctx.Done():
				return nil, errs.New(errs.Timeout, ctx.Err())
			}
			log.Warn().Str("server", name).Int("attempt", attempt).Msg("retrying MCP handshake")
		}
		resp, err = t.Call(ctx, "initialize", params)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	if resp.Error != nil {
		return nil, errs.Newf(errs.UpstreamFailure, "initialize %s: %d %s", name, resp.Error.Code, resp.Error.Message)
	}
	if err := t.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("complete %s handshake: %w", name, err)
	}

	s := &Server{name: name, transport: t}
	if err := s.refreshTools(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("server", name).Int("tools", len(s.tools)).Msg("connected MCP server")
	return s, nil
}

func (s *Server) refreshTools(ctx context.Context) error {
	resp, err := s.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools on %s: %w", s.name, err)
	}
	if resp.Error != nil {
		return errs.Newf(errs.UpstreamFailure, "list tools on %s: %d %s", s.name, resp.Error.Code, resp.Error.Message)
	}
	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return errs.New(errs.UpstreamFailure, fmt.Errorf("decode tool list from %s: %w", s.name, err))
	}
	s.tools = result.Tools
	return nil
}

// CallTool invokes a tool and returns its textual result. A result the
// server marks as an error comes back as an UpstreamFailure.
func (s *Server) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	resp, err := s.transport.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", errs.Newf(errs.UpstreamFailure, "tool %s on %s: %d %s", name, s.name, resp.Error.Code, resp.Error.Message)
	}
	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", errs.New(errs.UpstreamFailure, fmt.Errorf("decode tool result from %s: %w", s.name, err))
	}
	if result.IsError {
		return "", errs.Newf(errs.UpstreamFailure, "tool %s failed: %s", name, result.Text())
	}
	return result.Text(), nil
}

func (s *Server) Close() error {
	return s.transport.Close()
}
