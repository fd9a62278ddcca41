// Package tts provides Text-to-Speech synthesis for the avatar's replies.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("text is required")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
)

// MaxTextLength bounds a single synthesis request.
const MaxTextLength = 4096

// Provider is the interface all TTS providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "http")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// Health checks if the provider is available
	Health(ctx context.Context) error
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice"`
	Speed   float64 `json:"speed,omitempty"` // 0.25 to 4.0
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio          []byte        `json:"-"`
	Format         string        `json:"format"` // mp3
	ProcessingTime time.Duration `json:"processing_time"`
	VoiceID        string        `json:"voice_id"`
	Provider       string        `json:"provider"`
	Cached         bool          `json:"cached,omitempty"`
}

// ContentType returns the MIME type of the audio.
func (r *SynthesizeResponse) ContentType() string {
	switch r.Format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

// UpstreamError is a non-success answer from a synthesis endpoint.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s TTS error %d: %s", e.Provider, e.Status, e.Message)
}

// Validate rejects requests that must never reach the network.
func (r *SynthesizeRequest) Validate() error {
	if r == nil || strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}
