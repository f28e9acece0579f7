package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// httpTransport speaks Streamable HTTP: JSON-RPC over POST with either
// JSON or SSE responses, tracking the server-issued session ID.
type httpTransport struct {
	endpoint  string
	headers   map[string]string
	client    *http.Client
	requestID atomic.Int64
	sessionID string
}

func newHTTPTransport(endpoint string, headers map[string]string, timeout time.Duration) *httpTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (*Response, error) {
	req, err := newRequest(t.requestID.Add(1), method, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return t.send(ctx, req)
}

func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	req, err := newRequest(nil, method, params)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	_, err = t.send(ctx, req)
	return err
}

func (t *httpTransport) send(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.UpstreamFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("MCP-Protocol-Version", protocolVersion)
	if t.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("post %s: %w", t.endpoint, err))
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.sessionID = sid
	}

	if httpResp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, errs.Newf(errs.UpstreamFailure, "server %s returned %d: %s",
			t.endpoint, httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	// Notifications may come back 202/204 with no body.
	if req.ID == nil {
		return nil, nil
	}

	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return parseSSEResponse(httpResp.Body)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("read response: %w", err))
	}
	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("decode response: %w", err))
	}
	return &resp, nil
}

// parseSSEResponse scans a Server-Sent Events stream for the first
// complete JSON-RPC response carrying an ID.
func parseSSEResponse(body io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var dataLines []string
	flush := func() *Response {
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "")
		dataLines = nil

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			log.Debug().Err(err).Msg("skipping malformed SSE event")
			return nil
		}
		if resp.ID == nil {
			return nil
		}
		return &resp
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			if resp := flush(); resp != nil {
				return resp, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("read SSE stream: %w", err))
	}
	if resp := flush(); resp != nil {
		return resp, nil
	}
	return nil, errs.Newf(errs.UpstreamFailure, "no response in SSE stream")
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
