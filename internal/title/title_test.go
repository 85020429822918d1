package title

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisional(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"", Default},
		{"   \n\t", Default},
		{"fix the login bug", "fix the login bug"},
		{"please refactor   the user\nservice so that it is faster", "please refactor the user service so"},
		{strings.Repeat("x", 80), strings.Repeat("x", MaxLength-3) + "..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Provisional(tt.prompt), "prompt %q", tt.prompt)
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Debugging login flow", Clean("\n  \"Debugging login flow\"\nextra"))
	assert.Equal(t, "Refactoring storage", Clean("Title: Refactoring storage"))
	assert.Equal(t, "", Clean(" \n \"\" "))
	assert.Len(t, []rune(Clean(strings.Repeat("é", 70))), MaxLength)
}

type fakeModel struct {
	calls   atomic.Int32
	fail    int32
	content string
}

func (m *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if n := m.calls.Add(1); n <= m.fail {
		return nil, errors.New("overloaded")
	}
	return schema.AssistantMessage(m.content, nil), nil
}

func (m *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestChatSummarizer_RetriesTransientErrors(t *testing.T) {
	m := &fakeModel{fail: 2, content: "Implementing rate limiting\n"}
	s := NewChatSummarizer(m)
	s.InitialInterval = time.Millisecond

	got, err := s.Generate(context.Background(), "implement rate limiting")
	require.NoError(t, err)
	assert.Equal(t, "Implementing rate limiting", got)
	assert.EqualValues(t, 3, m.calls.Load())
}

func TestChatSummarizer_GivesUp(t *testing.T) {
	m := &fakeModel{fail: 100}
	s := NewChatSummarizer(m)
	s.InitialInterval = time.Millisecond

	_, err := s.Generate(context.Background(), "anything")
	assert.ErrorContains(t, err, "overloaded")
	assert.EqualValues(t, 1+s.MaxRetries, m.calls.Load())
}

func TestChatSummarizer_EmptyCompletionIsPermanent(t *testing.T) {
	m := &fakeModel{content: "   "}
	s := NewChatSummarizer(m)

	_, err := s.Generate(context.Background(), "anything")
	assert.ErrorContains(t, err, "empty completion")
	assert.EqualValues(t, 1, m.calls.Load())
}

func TestChatSummarizer_EmptyPrompt(t *testing.T) {
	m := &fakeModel{content: "unused"}
	got, err := NewChatSummarizer(m).Generate(context.Background(), " ")
	require.NoError(t, err)
	assert.Equal(t, Default, got)
	assert.Zero(t, m.calls.Load())
}

func TestClaudeSummarizer_MessagesAPI(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": "Debugging production errors"}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	s, err := NewClaudeSummarizer(context.Background(), ClaudeConfig{APIKey: "k", BaseURL: srv.URL, Model: "claude-test"})
	require.NoError(t, err)

	got, err := s.Generate(context.Background(), "debug 500 errors in production")
	require.NoError(t, err)
	assert.Equal(t, "Debugging production errors", got)
	assert.Equal(t, "claude-test", gotBody["model"])
}

func TestNewClaudeSummarizer_RequiresKey(t *testing.T) {
	_, err := NewClaudeSummarizer(context.Background(), ClaudeConfig{})
	assert.Error(t, err)
}
