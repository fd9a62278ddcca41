package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI TTS voices
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceFable   = "fable"   // British, expressive
	VoiceOnyx    = "onyx"    // Male, deep
	VoiceNova    = "nova"    // Female, warm and natural
	VoiceShimmer = "shimmer" // Female, clear and bright
)

const OpenAIAPIEndpoint = "https://api.openai.com/v1"

// OpenAIProvider implements TTS using OpenAI's speech API
type OpenAIProvider struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *OpenAIConfig
}

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	APIKey       string        `json:"api_key"`
	Endpoint     string        `json:"endpoint"`      // defaults to OpenAIAPIEndpoint
	Model        string        `json:"model"`         // tts-1 or tts-1-hd
	DefaultVoice string        `json:"default_voice"` // alloy, echo, fable, onyx, nova, shimmer
	Speed        float64       `json:"speed"`         // 0.25 to 4.0
	Timeout      time.Duration `json:"timeout"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		Endpoint:     OpenAIAPIEndpoint,
		Model:        "tts-1",
		DefaultVoice: VoiceNova,
		Speed:        1.0,
		Timeout:      30 * time.Second,
	}
}

// NewOpenAIProvider creates a new OpenAI TTS provider
func NewOpenAIProvider(logger zerolog.Logger, config *OpenAIConfig) *OpenAIProvider {
	if config == nil {
		config = DefaultOpenAIConfig()
	}
	if config.Endpoint == "" {
		config.Endpoint = OpenAIAPIEndpoint
	}
	if config.Model == "" {
		config.Model = "tts-1"
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = VoiceNova
	}

	// Get API key from config or environment
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &OpenAIProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("provider", "openai-tts").Logger(),
		config: config,
	}
}

// Name returns the provider identifier
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider has an API key configured
func (p *OpenAIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// openAITTSRequest is the request format for OpenAI TTS API
type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to audio using OpenAI TTS
func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured: %w", ErrProviderUnavailable)
	}

	startTime := time.Now()

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.config.DefaultVoice
	}
	openAIVoice := p.mapVoice(voiceID)

	speed := req.Speed
	if speed == 0 {
		speed = p.config.Speed
	}

	ttsReq := openAITTSRequest{
		Model:          p.config.Model,
		Input:          req.Text,
		Voice:          openAIVoice,
		ResponseFormat: "mp3",
		Speed:          speed,
	}

	body, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(p.config.Endpoint, "/") + "/audio/speech"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("voice", openAIVoice).
		Str("model", p.config.Model).
		Int("textLen", len(req.Text)).
		Msg("Sending TTS request to OpenAI")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		p.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(bodyBytes)).
			Msg("OpenAI TTS request failed")
		return nil, &UpstreamError{Provider: p.Name(), Status: resp.StatusCode, Message: errorMessage(bodyBytes)}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	processingTime := time.Since(startTime)

	p.logger.Info().
		Str("voice", openAIVoice).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("OpenAI TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          audioData,
		Format:         "mp3",
		ProcessingTime: processingTime,
		VoiceID:        openAIVoice,
		Provider:       p.Name(),
	}, nil
}

// mapVoice passes OpenAI voices through and maps anything else to the default
func (p *OpenAIProvider) mapVoice(voiceID string) string {
	if isOpenAIVoice(voiceID) {
		return voiceID
	}
	if isOpenAIVoice(p.config.DefaultVoice) {
		return p.config.DefaultVoice
	}
	return VoiceNova
}

func isOpenAIVoice(v string) bool {
	switch v {
	case VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer:
		return true
	}
	return false
}

// Health checks if OpenAI API is configured
func (p *OpenAIProvider) Health(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrProviderUnavailable
	}
	return nil
}

// errorMessage extracts a message from a JSON {"error": ...} body, falling
// back to the raw text. OpenAI nests the message under error.message.
func errorMessage(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(body))
}
