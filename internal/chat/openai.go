package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

// OpenAIConfig configures the OpenAI chat client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // empty uses the public API
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// OpenAIClient wraps the OpenAI chat completion client.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
	maxTokens    int
	logger       zerolog.Logger
}

// NewOpenAIClient creates a client. The API key falls back to OPENAI_API_KEY.
func NewOpenAIClient(logger zerolog.Logger, cfg OpenAIConfig) *OpenAIClient {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIClient{
		client:       &client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		logger:       logger.With().Str("provider", "openai-chat").Logger(),
	}
}

func (o *OpenAIClient) Name() string {
	return "openai"
}

func (o *OpenAIClient) Complete(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2+2*len(req.History))
	if o.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(o.systemPrompt))
	}
	for _, t := range req.History {
		messages = append(messages, openai.UserMessage(t.User), openai.AssistantMessage(t.Assistant))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	startTime := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(o.maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &UpstreamError{Provider: o.Name(), Status: apiErr.StatusCode, Message: apiErr.Message}
		}
		return "", fmt.Errorf("openai completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Provider: o.Name(), Message: "no choices in response"}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &UpstreamError{Provider: o.Name(), Message: ErrEmptyReply.Error()}
	}

	o.logger.Debug().
		Str("model", o.model).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Dur("took", time.Since(startTime)).
		Msg("OpenAI reply received")

	return text, nil
}
