package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
	"github.com/xonecas/seele/internal/provider"
)

// ServerConfig describes one server entry in the config file. A set
// command selects the stdio transport; otherwise url must be set.
type ServerConfig struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	URL         string            `json:"url"`
	BearerToken string            `json:"bearerToken"`
	Headers     map[string]string `json:"headers"`
}

type configFile struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// LoadConfig reads the server config file, expanding ${NAME} references
// from the environment. A missing file yields an empty config.
func LoadConfig(path string) (map[string]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("MCP config not found, no external tools")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read MCP config: %w", err)
	}

	expanded := os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	})

	var cfg configFile
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errs.New(errs.BadArgument, fmt.Errorf("parse MCP config %s: %w", path, err))
	}
	return cfg.Servers, nil
}

// Manager owns the server connections and presents their tools.
type Manager struct {
	servers []*Server
}

// Connect opens every configured server. A server that fails to connect
// is logged and skipped so one broken entry doesn't take the rest down.
func Connect(ctx context.Context, configs map[string]ServerConfig, timeout time.Duration) *Manager {
	m := &Manager{}
	for name, cfg := range configs {
		srv, err := connectServer(ctx, name, cfg, timeout)
		if err != nil {
			log.Error().Err(err).Str("server", name).Msg("skipping unreachable MCP server")
			continue
		}
		m.servers = append(m.servers, srv)
	}
	return m
}

func connectServer(ctx context.Context, name string, cfg ServerConfig, timeout time.Duration) (*Server, error) {
	switch {
	case cfg.Command != "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		t, err := newStdioTransport(cfg.Command, cfg.Args, env)
		if err != nil {
			return nil, err
		}
		return connect(ctx, name, t)
	case cfg.URL != "":
		headers := make(map[string]string, len(cfg.Headers)+1)
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		if cfg.BearerToken != "" {
			headers["Authorization"] = "Bearer " + cfg.BearerToken
		}
		return connect(ctx, name, newHTTPTransport(cfg.URL, headers, timeout))
	default:
		return nil, errs.Newf(errs.BadArgument, "server %s has neither command nor url", name)
	}
}

// ServerTool adapts one discovered tool to the registry's tool shape.
type ServerTool struct {
	server *Server
	tool   Tool
}

func (t *ServerTool) Definition() provider.Tool {
	return provider.Tool{
		Name:        t.tool.Name,
		Description: t.tool.Description,
		Parameters:  t.tool.InputSchema,
	}
}

func (t *ServerTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return t.server.CallTool(ctx, t.tool.Name, args)
}

// Tools returns an adapter per discovered tool, across all servers.
func (m *Manager) Tools() []*ServerTool {
	var out []*ServerTool
	seen := make(map[string]string)
	for _, srv := range m.servers {
		for _, tool := range srv.Tools() {
			if prev, dup := seen[tool.Name]; dup {
				log.Warn().Str("tool", tool.Name).Str("kept", prev).Str("dropped", srv.Name()).
					Msg("duplicate MCP tool name, keeping first")
				continue
			}
			seen[tool.Name] = srv.Name()
			out = append(out, &ServerTool{server: srv, tool: tool})
		}
	}
	return out
}

func (m *Manager) Close() {
	for _, srv := range m.servers {
		if err := srv.Close(); err != nil {
			log.Warn().Err(err).Str("server", srv.Name()).Msg("closing MCP server")
		}
	}
}
