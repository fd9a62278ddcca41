// Package chat talks to chat-completion backends: a relay endpoint, OpenAI,
// or Gemini.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyPrompt = errors.New("prompt is required")
	ErrEmptyReply  = errors.New("empty reply")
)

// Turn is one prior user/assistant exchange sent as context.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Request is a single completion request.
type Request struct {
	Prompt  string `json:"prompt"`
	History []Turn `json:"-"`
}

// Validate rejects requests that must never reach the network.
func (r *Request) Validate() error {
	if r == nil || strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Client produces a reply for a prompt.
type Client interface {
	Name() string
	Complete(ctx context.Context, req *Request) (string, error)
}

// UpstreamError is a non-success answer from a chat backend.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s chat error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s chat error %d: %s", e.Provider, e.Status, e.Message)
}
