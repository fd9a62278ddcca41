package chat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini chat client.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// GeminiClient wraps the Gemini generate-content API.
type GeminiClient struct {
	client       *genai.Client
	model        string
	systemPrompt string
	maxTokens    int32
	logger       zerolog.Logger
}

// NewGeminiClient creates a client. The API key falls back to GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, logger zerolog.Logger, cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    int32(cfg.MaxTokens),
		logger:       logger.With().Str("provider", "gemini-chat").Logger(),
	}, nil
}

func (g *GeminiClient) Name() string {
	return "gemini"
}

func (g *GeminiClient) Complete(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, 1+2*len(req.History))
	for _, t := range req.History {
		contents = append(contents,
			&genai.Content{Role: "user", Parts: []*genai.Part{{Text: t.User}}},
			&genai.Content{Role: "model", Parts: []*genai.Part{{Text: t.Assistant}}},
		)
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}})

	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxTokens,
	}
	if g.systemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: g.systemPrompt}}}
	}

	startTime := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genConfig)
	if err != nil {
		g.logger.Error().Err(err).Str("model", g.model).Msg("Gemini generation failed")
		return "", &UpstreamError{Provider: g.Name(), Message: err.Error()}
	}

	text := extractText(resp)
	if text == "" {
		return "", &UpstreamError{Provider: g.Name(), Message: "empty response from Gemini"}
	}

	g.logger.Debug().
		Str("model", g.model).
		Int("length", len(text)).
		Dur("took", time.Since(startTime)).
		Msg("Gemini reply received")

	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return ""
	}

	var texts []string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	return strings.TrimSpace(strings.Join(texts, ""))
}
