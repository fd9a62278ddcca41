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

const (
	ElevenLabsAPIEndpoint  = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel - calm, natural female
)

type ElevenLabsProvider struct {
	apiKey string
	logger zerolog.Logger
	config *ElevenLabsConfig
	client *http.Client
}

type ElevenLabsConfig struct {
	APIKey       string        `json:"api_key"`
	Endpoint     string        `json:"endpoint"`
	DefaultVoice string        `json:"default_voice"`
	ModelID      string        `json:"model_id"`
	Stability    float64       `json:"stability"`
	Similarity   float64       `json:"similarity_boost"`
	Timeout      time.Duration `json:"timeout"`
}

func DefaultElevenLabsConfig() *ElevenLabsConfig {
	return &ElevenLabsConfig{
		Endpoint:     ElevenLabsAPIEndpoint,
		DefaultVoice: ElevenLabsDefaultVoice,
		ModelID:      "eleven_turbo_v2_5",
		Stability:    0.5,
		Similarity:   0.75,
		Timeout:      30 * time.Second,
	}
}

func NewElevenLabsProvider(logger zerolog.Logger, config *ElevenLabsConfig) *ElevenLabsProvider {
	defaults := DefaultElevenLabsConfig()
	if config == nil {
		config = defaults
	}
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = defaults.DefaultVoice
	}
	if config.ModelID == "" {
		config.ModelID = defaults.ModelID
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}

	return &ElevenLabsProvider{
		apiKey: apiKey,
		logger: logger.With().Str("provider", "elevenlabs-tts").Logger(),
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (p *ElevenLabsProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// friendly names accepted in place of ElevenLabs voice ids
var elevenLabsVoiceMap = map[string]string{
	"nova":    "21m00Tcm4TlvDq8ikWAM", // Rachel
	"shimmer": "EXAVITQu4vr4xnSDxMaL", // Bella
	"alloy":   "MF3mGyEYCl7XYWbV9V6O", // Emily
	"echo":    "VR6AewLTigWG4xSOukaG", // Arnold
	"onyx":    "ErXwobaYiN019PkySvjV", // Antoni
	"fable":   "TxGEqnHWrfWFTfGW9XjX", // Josh
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !p.IsAvailable() {
		return nil, fmt.Errorf("ElevenLabs API key not set: %w", ErrProviderUnavailable)
	}

	startTime := time.Now()

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.config.DefaultVoice
	}
	if mapped, ok := elevenLabsVoiceMap[voiceID]; ok {
		voiceID = mapped
	}

	payload := map[string]any{
		"text":     req.Text,
		"model_id": p.config.ModelID,
		"voice_settings": map[string]float64{
			"stability":        p.config.Stability,
			"similarity_boost": p.config.Similarity,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimRight(p.config.Endpoint, "/"), voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Provider: p.Name(), Status: resp.StatusCode, Message: errorMessage(body)}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	processingTime := time.Since(startTime)

	p.logger.Info().
		Str("voice", voiceID).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("ElevenLabs TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          audioData,
		Format:         "mp3",
		ProcessingTime: processingTime,
		VoiceID:        voiceID,
		Provider:       p.Name(),
	}, nil
}

func (p *ElevenLabsProvider) Health(ctx context.Context) error {
	if !p.IsAvailable() {
		return ErrProviderUnavailable
	}
	return nil
}
