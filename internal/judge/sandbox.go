package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ExitKind classifies a single sandbox run. A non-nil error from Run means
// the sandbox itself failed (unreachable, crashed); program misbehavior is
// always reported through ExitKind.
type ExitKind string

const (
	ExitExited         ExitKind = "Exited"
	ExitTimedOut       ExitKind = "TimedOut"
	ExitMemoryExceeded ExitKind = "MemoryExceeded"
	ExitRuntimeError   ExitKind = "RuntimeError"
	ExitCompileError   ExitKind = "CompileError"
)

type RunRequest struct {
	Language      string `json:"language"`
	Code          string `json:"code"`
	Input         string `json:"input"`
	TimeLimitMs   int    `json:"time_limit_ms"`
	MemoryLimitKb int    `json:"memory_limit_kb"`
}

type RunResult struct {
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr,omitempty"`
	ExitKind ExitKind `json:"exit_kind"`
	TimeMs   int      `json:"time_ms"`
	MemoryKb int      `json:"memory_kb"`
}

// Sandbox runs one submission's code against one test case's input.
// Implementations may be a local isolation layer, a container, or a remote
// service; the pool treats it as opaque.
type Sandbox interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// HTTPSandbox talks to an external executor service over HTTP.
type HTTPSandbox struct {
	url    string
	client *http.Client
}

func NewHTTPSandbox(url string, timeout time.Duration) *HTTPSandbox {
	return &HTTPSandbox{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSandbox) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sandbox build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	}

	var result RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sandbox decode response: %w", err)
	}
	return &result, nil
}
