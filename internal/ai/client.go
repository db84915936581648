package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the chat completions URL of the hosted API.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultModel is used when a request names none.
	DefaultModel = "gpt-4o"
	// DefaultTemperature is used when a request leaves temperature unset.
	DefaultTemperature = 0.7

	defaultHTTPTimeout = 120 * time.Second
	fallbackAPIError   = "Failed to communicate with OpenAI API"
)

var noOpLogger = zap.NewNop()

// Message is one chat turn. Role is "system", "user", or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body sent to the chat completions endpoint.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// Response reports the outcome of one completion. Data is set on success and
// Error otherwise; Debug carries whatever the endpoint returned for diagnostics.
type Response struct {
	Success bool           `json:"success"`
	Data    string         `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Debug   map[string]any `json:"debug,omitempty"`
}

// Completer sends a chat request on behalf of the holder of apiKey.
type Completer interface {
	Complete(ctx context.Context, apiKey string, request Request) Response
}

// ClientConfig describes the dependencies of an HTTP client.
type ClientConfig struct {
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Completer = (*Client)(nil)

// NewClient applies defaults and returns a client.
func NewClient(cfg ClientConfig) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, logger: logger}
}

type completionChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   map[string]any     `json:"usage"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete never returns a Go error; transport and API failures become an
// unsuccessful Response.
func (c *Client) Complete(ctx context.Context, apiKey string, request Request) Response {
	if strings.TrimSpace(apiKey) == "" {
		return Response{Error: MissingAPIKeyMessage}
	}
	if request.Model == "" {
		request.Model = DefaultModel
	}
	if request.Temperature == 0 {
		request.Temperature = DefaultTemperature
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return c.failure("encode_failed", fmt.Errorf("marshal request: %w", err))
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return c.failure("request_failed", fmt.Errorf("create request: %w", err))
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+apiKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return c.failure("request_failed", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return c.failure("read_failed", fmt.Errorf("read response: %w", err))
	}

	if httpResponse.StatusCode != http.StatusOK {
		var envelope errorEnvelope
		message := fallbackAPIError
		debug := map[string]any{"status": httpResponse.StatusCode}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
		var raw map[string]any
		if json.Unmarshal(body, &raw) == nil {
			debug["body"] = raw
		}
		c.logger.Warn("completion request rejected",
			zap.String("operation", "ai.complete"),
			zap.String("reason", "api_error"),
			zap.Int("status", httpResponse.StatusCode),
		)
		return Response{Error: message, Debug: debug}
	}

	var decoded completionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return c.failure("decode_failed", fmt.Errorf("unmarshal response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return c.failure("decode_failed", errors.New("response contained no choices"))
	}
	return Response{
		Success: true,
		Data:    decoded.Choices[0].Message.Content,
		Debug: map[string]any{
			"usage": decoded.Usage,
			"model": decoded.Model,
			"id":    decoded.ID,
		},
	}
}

func (c *Client) failure(reason string, err error) Response {
	c.logger.Warn("completion request failed",
		zap.String("operation", "ai.complete"),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return Response{Error: err.Error()}
}
