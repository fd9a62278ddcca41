package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient calls a relay exposing POST {prompt} -> {reply}.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPClient creates a client for the relay at endpoint
// (e.g. http://localhost:8787/api/chat).
func NewHTTPClient(logger zerolog.Logger, endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("provider", "http-chat").Logger(),
	}
}

func (c *HTTPClient) Name() string {
	return "http"
}

func (c *HTTPClient) Complete(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{"prompt": req.Prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug().Int("status", resp.StatusCode).Str("body", string(data)).Msg("Chat relay failed")
		return "", &UpstreamError{Provider: c.Name(), Status: resp.StatusCode, Message: ErrorMessage(data)}
	}

	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &UpstreamError{Provider: c.Name(), Status: resp.StatusCode, Message: "malformed reply: " + err.Error()}
	}
	if strings.TrimSpace(out.Reply) == "" {
		return "", &UpstreamError{Provider: c.Name(), Status: resp.StatusCode, Message: ErrEmptyReply.Error()}
	}

	c.logger.Debug().
		Int("replyLen", len(out.Reply)).
		Dur("took", time.Since(startTime)).
		Msg("Chat reply received")

	return out.Reply, nil
}

// ErrorMessage extracts the message of a JSON {"error": "..."} body, or
// returns the trimmed body as plain text.
func ErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no error body"
	}
	return msg
}
