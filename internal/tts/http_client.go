package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPProvider calls a relay exposing POST {text, voice} -> audio/mpeg,
// answering JSON {error} on failure.
type HTTPProvider struct {
	endpoint     string
	defaultVoice string
	client       *http.Client
	logger       zerolog.Logger
}

// NewHTTPProvider creates a provider for the relay at endpoint
// (e.g. http://localhost:8787/api/tts).
func NewHTTPProvider(logger zerolog.Logger, endpoint, defaultVoice string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		endpoint:     endpoint,
		defaultVoice: defaultVoice,
		client:       &http.Client{Timeout: timeout},
		logger:       logger.With().Str("provider", "http-tts").Logger(),
	}
}

func (p *HTTPProvider) Name() string {
	return "http"
}

func (p *HTTPProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()

	voice := req.VoiceID
	if voice == "" {
		voice = p.defaultVoice
	}

	body, err := json.Marshal(map[string]string{"text": req.Text, "voice": voice})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: p.Name(), Status: resp.StatusCode, Message: errorMessage(data)}
	}

	format := "mp3"
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		switch {
		case mt == "application/json":
			return nil, &UpstreamError{Provider: p.Name(), Status: resp.StatusCode, Message: "unexpected JSON response"}
		case strings.HasSuffix(mt, "wav"):
			format = "wav"
		case strings.HasSuffix(mt, "ogg"):
			format = "opus"
		}
	}
	if len(data) == 0 {
		return nil, &UpstreamError{Provider: p.Name(), Status: resp.StatusCode, Message: "empty audio"}
	}

	p.logger.Debug().
		Str("voice", voice).
		Int("audioBytes", len(data)).
		Dur("processingTime", time.Since(startTime)).
		Msg("Relay TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          data,
		Format:         format,
		ProcessingTime: time.Since(startTime),
		VoiceID:        voice,
		Provider:       p.Name(),
	}, nil
}

// Health reports the relay reachable when it answers at all.
func (p *HTTPProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, p.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	resp.Body.Close()
	return nil
}
