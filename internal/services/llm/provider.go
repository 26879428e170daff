// -----------------------------------------------------------------------
// LLM Providers - Claude and Gemini single-turn completion backends
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
)

const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// NewProvider builds the provider named in cfg. An empty provider name
// disables LLM features and returns nil without error.
func NewProvider(ctx context.Context, cfg *common.LLMConfig, logger arbor.ILogger) (interfaces.LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		logger.Info().Msg("LLM provider not configured, llm features disabled")
		return nil, nil
	case ProviderClaude:
		return NewClaudeProvider(&cfg.Claude, logger)
	case ProviderGemini:
		return NewGeminiProvider(ctx, &cfg.Gemini, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider '%s': must be 'claude' or 'gemini'", cfg.Provider)
	}
}

func parseTimeout(value string) (time.Duration, error) {
	if value == "" {
		return 2 * time.Minute, nil
	}
	timeout, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout duration '%s': %w", value, err)
	}
	return timeout, nil
}

// ClaudeProvider completes prompts with the Anthropic Messages API
type ClaudeProvider struct {
	config    *common.ClaudeConfig
	client    anthropic.Client
	timeout   time.Duration
	maxTokens int
	retry     *RetryConfig
	logger    arbor.ILogger
}

// NewClaudeProvider creates a Claude provider
func NewClaudeProvider(cfg *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for Claude (set llm.claude.api_key, QUARRY_CLAUDE_API_KEY or ANTHROPIC_API_KEY)")
	}

	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	timeout, err := parseTimeout(cfg.Timeout)
	if err != nil {
		return nil, err
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	logger.Debug().
		Str("model", cfg.Model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Msg("Claude provider initialized")

	return &ClaudeProvider{
		config:    cfg,
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		timeout:   timeout,
		maxTokens: maxTokens,
		retry:     NewDefaultRetryConfig(),
		logger:    logger,
	}, nil
}

// Name returns "claude"
func (p *ClaudeProvider) Name() string {
	return ProviderClaude
}

// Complete sends one user prompt with an optional system prompt
func (p *ClaudeProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	var resp *anthropic.Message
	err := withRetry(ctx, p.retry, p.logger, ProviderClaude, func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	p.logger.Debug().
		Int("prompt_length", len(prompt)).
		Int("response_length", text.Len()).
		Dur("duration", time.Since(start)).
		Msg("Claude completion finished")
	return text.String(), nil
}

// GeminiProvider completes prompts with the Gemini API
type GeminiProvider struct {
	config  *common.GeminiConfig
	client  *genai.Client
	timeout time.Duration
	retry   *RetryConfig
	logger  arbor.ILogger
}

// NewGeminiProvider creates a Gemini provider
func NewGeminiProvider(ctx context.Context, cfg *common.GeminiConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf("Google API key is required for Gemini (set llm.gemini.api_key, QUARRY_GEMINI_API_KEY or GOOGLE_API_KEY)")
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	timeout, err := parseTimeout(cfg.Timeout)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Str("model", cfg.Model).
		Dur("timeout", timeout).
		Msg("Gemini provider initialized")

	return &GeminiProvider{
		config:  cfg,
		client:  client,
		timeout: timeout,
		retry:   NewDefaultRetryConfig(),
		logger:  logger,
	}, nil
}

// Name returns "gemini"
func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

// Complete sends one user prompt with an optional system instruction
func (p *GeminiProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(p.config.Temperature),
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	start := time.Now()
	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, p.retry, p.logger, ProviderGemini, func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, p.config.Model, contents, config)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				text.WriteString(part.Text)
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini API")
	}

	p.logger.Debug().
		Int("prompt_length", len(prompt)).
		Int("response_length", text.Len()).
		Dur("duration", time.Since(start)).
		Msg("Gemini completion finished")
	return text.String(), nil
}
