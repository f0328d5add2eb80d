package narrative

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/churnlens/internal/ai"
	"github.com/KaramelBytes/churnlens/internal/explain"
)

type fakeRuntime struct {
	mu    sync.Mutex
	reqs  []ai.GenerateRequest
	reply string
	err   error
	delay time.Duration
}

func (f *fakeRuntime) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: f.reply}}}}, nil
}

var attrs = []explain.Attribution{
	{Feature: "Tenure <= 9.00", Weight: 0.2312},
	{Feature: "Contract > 1.00", Weight: -0.1104},
}

func TestExplainBuildsPrompt(t *testing.T) {
	rt := &fakeRuntime{reply: "  • short tenure\n"}
	g := New(rt, Config{Model: "gpt-4o-mini", Temperature: 0.7})

	out := g.Explain(context.Background(), attrs, map[string]any{"Tenure": 3}, 81.5)
	assert.Equal(t, Text{Text: "• short tenure"}, out)

	require.Len(t, rt.reqs, 1)
	req := rt.reqs[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Equal(t, "system", req.Messages[0].Role)
	user := req.Messages[1].Content
	assert.Contains(t, user, "81.50% churn probability")
	assert.Contains(t, user, "- Tenure <= 9.00: 0.2312\n- Contract > 1.00: -0.1104")
	assert.Contains(t, user, "\"Tenure\": 3")
}

func TestExplainFallsBackOnError(t *testing.T) {
	rt := &fakeRuntime{err: &ai.ServerError{APIError: &ai.APIError{StatusCode: 502}}}
	out := New(rt, Config{}).Explain(context.Background(), attrs, nil, 40)
	assert.Equal(t, Text{Text: FallbackExplanation, Fallback: true, Reason: "server"}, out)
}

func TestExplainTimeoutYieldsFallback(t *testing.T) {
	rt := &fakeRuntime{reply: "late", delay: 2 * time.Second}
	g := New(rt, Config{Timeout: 20 * time.Millisecond})
	start := time.Now()
	out := g.Explain(context.Background(), attrs, nil, 40)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, out.Fallback)
	assert.Equal(t, "timeout", out.Reason)
	assert.Equal(t, FallbackExplanation, out.Text)
}

func TestEmptyCompletionIsFallback(t *testing.T) {
	out := New(&fakeRuntime{reply: "   "}, Config{}).Explain(context.Background(), attrs, nil, 40)
	assert.Equal(t, "empty", out.Reason)
}

func TestExplainWithoutAttributions(t *testing.T) {
	rt := &fakeRuntime{reply: "unused"}
	out := New(rt, Config{}).Explain(context.Background(), nil, nil, 12.346)
	assert.True(t, out.Fallback)
	assert.Equal(t, FallbackRecord+" Predicted churn probability: 12.35%.", out.Text)
	assert.Empty(t, rt.reqs)
}

func TestTemplateWithoutRuntime(t *testing.T) {
	g := New(nil, Config{})
	assert.False(t, g.Enabled())
	out := g.Explain(context.Background(), attrs, nil, 70)
	assert.False(t, out.Fallback)
	lines := strings.Split(out.Text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "• Tenure <= 9.00 raises churn risk (weight +0.2312)", lines[0])
	assert.Equal(t, "• Contract > 1.00 lowers churn risk (weight -0.1104)", lines[1])

	ans := g.Answer(context.Background(), "ctx", "why?")
	assert.Equal(t, Text{Text: FallbackChat, Fallback: true, Reason: "disabled"}, ans)
}

func TestAnswer(t *testing.T) {
	rt := &fakeRuntime{reply: "Mostly month-to-month contracts."}
	out := New(rt, Config{}).Answer(context.Background(), "You are analyzing...", "What drives churn?")
	assert.Equal(t, "Mostly month-to-month contracts.", out.Text)
	assert.True(t, strings.HasSuffix(rt.reqs[0].Messages[1].Content, "\n\nUser Question: What drives churn?"))

	failing := &fakeRuntime{err: errors.New("boom")}
	out = New(failing, Config{}).Answer(context.Background(), "c", "q")
	assert.Equal(t, Text{Text: FallbackChat, Fallback: true, Reason: "other"}, out)
}
