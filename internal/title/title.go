// Package title derives session titles: a provisional one computed locally
// from the prompt, and a summarized one produced by a chat model.
package title

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// Default is used when the prompt has no usable words.
	Default = "New Session"

	// MaxLength bounds titles in runes.
	MaxLength = 50

	provisionalWords = 6
)

const systemPrompt = `You are a title generator. You output ONLY a thread title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, at most 50 characters
- No explanations, no quotes
- Use -ing verbs for actions (Debugging, Implementing, Analyzing)
- Keep exact: technical terms, numbers, filenames
- Remove: the, this, my, a, an
- Always output something meaningful

Examples:
"debug 500 errors in production" -> Debugging production 500 errors
"refactor user service" -> Refactoring user service
"implement rate limiting" -> Implementing rate limiting`

// Provisional returns the first few words of prompt, truncated to MaxLength.
func Provisional(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return Default
	}
	if len(words) > provisionalWords {
		words = words[:provisionalWords]
	}
	return truncate(strings.Join(words, " "))
}

// Clean turns raw model output into a title: first non-empty line, quotes
// stripped, truncated. It returns "" when nothing usable remains.
func Clean(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'`*# ")
		line = strings.TrimPrefix(line, "Title: ")
		if line != "" {
			return truncate(line)
		}
	}
	return ""
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxLength {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:MaxLength-3])) + "..."
}

// Generator produces a title for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatSummarizer asks a chat model for a title, retrying transient failures.
type ChatSummarizer struct {
	model model.BaseChatModel

	// MaxRetries bounds retries after the first attempt.
	MaxRetries uint64
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// NewChatSummarizer wraps m.
func NewChatSummarizer(m model.BaseChatModel) *ChatSummarizer {
	return &ChatSummarizer{model: m, MaxRetries: 2, InitialInterval: 500 * time.Millisecond}
}

// ClaudeConfig configures NewClaudeSummarizer.
type ClaudeConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewClaudeSummarizer builds a summarizer on the Anthropic messages API.
func NewClaudeSummarizer(ctx context.Context, cfg ClaudeConfig) (*ChatSummarizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("title: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 50
	}
	cc := &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}
	if cfg.BaseURL != "" {
		cc.BaseURL = &cfg.BaseURL
	}
	m, err := claude.NewChatModel(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}
	return NewChatSummarizer(m), nil
}

func (s *ChatSummarizer) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialInterval
	b.MaxInterval = 10 * s.InitialInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, s.MaxRetries), ctx)
}

// Generate returns a cleaned title for prompt.
func (s *ChatSummarizer) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return Default, nil
	}
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("Generate a title for this conversation:\n\n" + prompt),
	}

	var out string
	op := func() error {
		resp, err := s.model.Generate(ctx, msgs)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		out = Clean(resp.Content)
		if out == "" {
			return backoff.Permanent(errors.New("title: empty completion"))
		}
		return nil
	}
	if err := backoff.Retry(op, s.backoff(ctx)); err != nil {
		return "", err
	}
	return out, nil
}
