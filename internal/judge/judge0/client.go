// Package judge0 is a model.Judge backed by a Judge0 compatible REST API.
package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codearena/internal/judge/model"
	"codearena/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/breaker"
	"go.uber.org/zap"
)

const (
	defaultTimeout          = 5 * time.Second
	defaultMaxResponseBytes = 4 << 20
	submissionsPath         = "/submissions?base64_encoded=false&wait=true"
)

// Config holds judge endpoint settings.
type Config struct {
	BaseURL string `yaml:"baseURL"`
	// RapidAPI style credentials.
	APIKey  string `yaml:"apiKey"`
	APIHost string `yaml:"apiHost"`
	// Self-hosted Judge0 auth token.
	AuthToken        string        `yaml:"authToken"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerName      string        `yaml:"breakerName"`
	MaxResponseBytes int64         `yaml:"maxResponseBytes"`
}

// Client calls Judge0 once per Execute. It never retries.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker breaker.Breaker
}

// NewClient creates a Judge0 client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("judge0 base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "judge0:" + cfg.BaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		breaker: breaker.NewBreaker(breaker.WithName(cfg.BreakerName)),
	}, nil
}

type submissionRequest struct {
	SourceCode     string   `json:"source_code"`
	LanguageID     int      `json:"language_id"`
	Stdin          string   `json:"stdin"`
	ExpectedOutput string   `json:"expected_output"`
	CPUTimeLimit   *float64 `json:"cpu_time_limit,omitempty"`
	MemoryLimit    *int64   `json:"memory_limit,omitempty"`
}

type submissionStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type submissionResponse struct {
	Stdout        *string          `json:"stdout"`
	Stderr        *string          `json:"stderr"`
	CompileOutput *string          `json:"compile_output"`
	Message       *string          `json:"message"`
	Time          *string          `json:"time"`
	Memory        *int64           `json:"memory"`
	Status        submissionStatus `json:"status"`
}

// Execute runs req synchronously and maps the judge status to a verdict.
func (c *Client) Execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error) {
	var out model.ExecResult
	err := c.breaker.DoWithAcceptable(func() error {
		res, err := c.execute(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, acceptable)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		logger.Warn(ctx, "judge circuit open", zap.String("breaker", c.cfg.BreakerName))
		return model.ExecResult{}, fmt.Errorf("%w: %v", model.ErrJudgeUnavailable, err)
	}
	return model.ExecResult{}, err
}

// acceptable decides which errors do not count against the breaker. execute
// returns bare context errors only when the caller's own context ended; a
// per-call timeout is wrapped as ErrJudgeUnavailable and still counts.
func acceptable(err error) bool {
	switch {
	case err == nil, errors.Is(err, model.ErrJudgeRejected):
		return true
	case errors.Is(err, model.ErrJudgeUnavailable):
		return false
	default:
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
}

func (c *Client) execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return model.ExecResult{}, fmt.Errorf("%w: encode request: %v", model.ErrJudgeRejected, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+submissionsPath, bytes.NewReader(body))
	if err != nil {
		return model.ExecResult{}, fmt.Errorf("%w: build request: %v", model.ErrJudgeRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	}
	if c.cfg.APIHost != "" {
		httpReq.Header.Set("X-RapidAPI-Host", c.cfg.APIHost)
	}
	if c.cfg.AuthToken != "" {
		httpReq.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// The caller went away; this is not a judge failure.
		if ctx.Err() != nil {
			return model.ExecResult{}, ctx.Err()
		}
		return model.ExecResult{}, fmt.Errorf("%w: %v", model.ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return model.ExecResult{}, ctx.Err()
		}
		return model.ExecResult{}, fmt.Errorf("%w: read response: %v", model.ErrJudgeUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return model.ExecResult{}, fmt.Errorf("%w: http status %d", model.ErrJudgeUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return model.ExecResult{}, fmt.Errorf("%w: http status %d: %s", model.ErrJudgeRejected, resp.StatusCode, truncate(string(raw), 256))
	}

	var decoded submissionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return model.ExecResult{}, fmt.Errorf("%w: decode response: %v", model.ErrJudgeUnavailable, err)
	}
	return toResult(decoded), nil
}

func buildRequest(req model.ExecRequest) submissionRequest {
	out := submissionRequest{
		SourceCode:     req.Source,
		LanguageID:     req.LanguageID,
		Stdin:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
	}
	if req.Limits.CPUTimeMs > 0 {
		seconds := float64(req.Limits.CPUTimeMs) / 1000
		out.CPUTimeLimit = &seconds
	}
	if req.Limits.MemoryKB > 0 {
		kb := req.Limits.MemoryKB
		out.MemoryLimit = &kb
	}
	return out
}

func toResult(resp submissionResponse) model.ExecResult {
	res := model.ExecResult{
		Verdict:  MapStatus(resp.Status.ID),
		Stdout:   deref(resp.Stdout),
		Stderr:   deref(resp.Stderr),
		TimeMs:   parseSeconds(deref(resp.Time)),
		StatusID: resp.Status.ID,
	}
	if resp.Memory != nil && *resp.Memory > 0 {
		res.MemoryKB = *resp.Memory
	}
	if resp.Status.ID == statusCompilationError {
		res.Stderr = deref(resp.CompileOutput)
	}
	if res.Stderr == "" && res.Verdict == model.VerdictJudgeError {
		res.Stderr = deref(resp.Message)
	}
	return res
}

// parseSeconds converts Judge0's "0.012" style seconds into milliseconds.
func parseSeconds(raw string) int64 {
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return int64(seconds*1000 + 0.5)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
