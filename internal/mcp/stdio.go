package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// stdioTransport runs a server as a child process and exchanges
// newline-delimited JSON-RPC over its stdin/stdout. Requests are
// serialised; MCP stdio servers answer in order.
type stdioTransport struct {
	cmd       *exec.Cmd
	stdin     *bufio.Writer
	stdout    *bufio.Scanner
	mu        sync.Mutex
	requestID atomic.Int64
}

func newStdioTransport(command string, args, env []string) (*stdioTransport, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("start %s: %w", command, err))
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	return &stdioTransport{
		cmd:    cmd,
		stdin:  bufio.NewWriter(stdin),
		stdout: scanner,
	}, nil
}

func (t *stdioTransport) Call(ctx context.Context, method string, params any) (*Response, error) {
	id := t.requestID.Add(1)
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.write(req); err != nil {
		return nil, err
	}

	// Read until the matching response; servers may interleave
	// notifications and requests of their own, which we skip.
	for t.stdout.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, errs.New(errs.Timeout, err)
		}
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Debug().Err(err).Msg("skipping malformed stdio line")
			continue
		}
		if matchID(resp.ID, id) {
			return &resp, nil
		}
	}
	if err := t.stdout.Err(); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("read server stdout: %w", err))
	}
	return nil, errs.Newf(errs.UpstreamFailure, "server closed stdout before responding to %s", method)
}

func (t *stdioTransport) Notify(ctx context.Context, method string, params any) error {
	req, err := newRequest(nil, method, params)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(req)
}

func (t *stdioTransport) write(req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := t.stdin.Write(append(body, '\n')); err != nil {
		return errs.New(errs.UpstreamFailure, fmt.Errorf("write to server stdin: %w", err))
	}
	if err := t.stdin.Flush(); err != nil {
		return errs.New(errs.UpstreamFailure, fmt.Errorf("flush server stdin: %w", err))
	}
	return nil
}

// matchID compares a decoded JSON-RPC ID (float64 after unmarshal) with
// the integer we sent.
func matchID(got any, want int64) bool {
	switch v := got.(type) {
	case float64:
		return int64(v) == want
	case json.Number:
		n, err := v.Int64()
		return err == nil && n == want
	default:
		return false
	}
}

func (t *stdioTransport) Close() error {
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}
