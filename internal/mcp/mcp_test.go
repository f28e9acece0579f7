package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newFakeServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var methods []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		methods = append(methods, req.Method)

		if auth := r.Header.Get("Authorization"); auth != "Bearer sekrit" {
			t.Errorf("Authorization = %q", auth)
		}

		w.Header().Set("Mcp-Session-Id", "sess-1")
		switch req.Method {
		case "initialize":
			writeResult(w, req.ID, map[string]any{"protocolVersion": protocolVersion})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			if r.Header.Get("Mcp-Session-Id") != "sess-1" {
				t.Error("session ID not echoed after initialize")
			}
			writeResult(w, req.ID, map[string]any{"tools": []Tool{{
				Name:        "fetch_weather",
				Description: "current weather",
				InputSchema: json.RawMessage(`{"type": "object"}`),
			}}})
		case "tools/call":
			var params callToolParams
			_ = json.Unmarshal(req.Params, &params)
			if params.Name != "fetch_weather" {
				t.Errorf("tool name = %q", params.Name)
			}
			writeResult(w, req.ID, ToolResult{Content: []ContentBlock{{Type: "text", Text: "sunny, 22C"}}})
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, &methods
}

func writeResult(w http.ResponseWriter, id any, result any) {
	data, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: id, Result: data})
}

func TestHTTPServerHandshakeAndCall(t *testing.T) {
	fake, methods := newFakeServer(t)

	headers := map[string]string{"Authorization": "Bearer sekrit"}
	srv, err := connect(context.Background(), "weather", newHTTPTransport(fake.URL, headers, 5*time.Second))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer srv.Close()

	if len(srv.Tools()) != 1 || srv.Tools()[0].Name != "fetch_weather" {
		t.Fatalf("tools = %+v", srv.Tools())
	}

	out, err := srv.CallTool(context.Background(), "fetch_weather", json.RawMessage(`{"city": "Lisbon"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out != "sunny, 22C" {
		t.Errorf("out = %q", out)
	}

	want := []string{"initialize", "notifications/initialized", "tools/list", "tools/call"}
	if len(*methods) != len(want) {
		t.Fatalf("methods = %v, want %v", *methods, want)
	}
	for i, m := range want {
		if (*methods)[i] != m {
			t.Errorf("method[%d] = %q, want %q", i, (*methods)[i], m)
		}
	}
}

func TestParseSSEResponse(t *testing.T) {
	stream := strings.NewReader(
		"event: message\n" +
			"data: {\"jsonrpc\": \"2.0\", \"method\": \"notifications/progress\"}\n" +
			"\n" +
			"data: {\"jsonrpc\": \"2.0\", \"id\": 7, \"result\": {\"ok\": true}}\n" +
			"\n")
	resp, err := parseSSEResponse(stream)
	if err != nil {
		t.Fatalf("parseSSEResponse: %v", err)
	}
	if id, ok := resp.ID.(float64); !ok || id != 7 {
		t.Errorf("ID = %v", resp.ID)
	}
	if !strings.Contains(string(resp.Result), "ok") {
		t.Errorf("Result = %s", resp.Result)
	}
}

func TestParseSSEResponseEmpty(t *testing.T) {
	if _, err := parseSSEResponse(strings.NewReader("event: ping\n\n")); err == nil {
		t.Fatal("empty stream accepted")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("WEATHER_TOKEN", "tok-123")
	path := filepath.Join(t.TempDir(), "mcp_servers.json")
	content := `{
		"mcpServers": {
			"weather": {"url": "https://mcp.example.com", "bearerToken": "${WEATHER_TOKEN}"},
			"files": {"command": "mcp-files", "args": ["--root", "/data"], "env": {"TOKEN": "${WEATHER_TOKEN}"}}
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgs, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfgs["weather"].BearerToken != "tok-123" {
		t.Errorf("bearerToken = %q", cfgs["weather"].BearerToken)
	}
	if cfgs["files"].Env["TOKEN"] != "tok-123" {
		t.Errorf("env TOKEN = %q", cfgs["files"].Env["TOKEN"])
	}
	if cfgs["files"].Command != "mcp-files" || len(cfgs["files"].Args) != 2 {
		t.Errorf("files config = %+v", cfgs["files"])
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfgs, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || cfgs != nil {
		t.Fatalf("missing file: %v, %v", cfgs, err)
	}
}
