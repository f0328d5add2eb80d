// Package narrative turns attributions and dataset context into prose through
// an ai.Runtime. Generation never fails outward: any runtime error or timeout
// yields a marked fallback text.
package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KaramelBytes/churnlens/internal/ai"
	"github.com/KaramelBytes/churnlens/internal/explain"
	"github.com/KaramelBytes/churnlens/internal/logging"
	"github.com/KaramelBytes/churnlens/internal/metrics"
)

const (
	FallbackExplanation = "Unable to generate explanation at this time."
	FallbackRecord      = "Unable to generate explanation for this customer."
	FallbackChat        = "Unable to answer right now: the language model is unavailable."
)

var errEmpty = errors.New("empty completion")

// Kinds label generations in logs and metrics.
const (
	KindExplain = "explain"
	KindChat    = "chat"
)

const (
	explainSystem = "You are an expert customer churn analyst who provides clear, actionable insights."

	chatSystem = `You are an expert customer churn analyst assistant. You help users understand their churn predictions and provide actionable insights.

Your responses should be:
- Clear and concise
- Data-driven based on the provided context
- Actionable with specific recommendations when appropriate
- Professional but friendly
- Format responses with bullet points when listing multiple items
- Use percentages and numbers from the actual data

When users ask about trends, patterns, or specific customers, analyze the provided data and give meaningful insights.`
)

// Config controls the generation requests.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout bounds each call; zero means only the caller's context applies.
	Timeout time.Duration
}

// Text is a generated (or substituted) piece of prose.
type Text struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
	// Reason is set for fallbacks, e.g. "timeout" or "rate_limit".
	Reason string `json:"reason,omitempty"`
}

// Generator produces narratives. A nil runtime makes explanations use a
// deterministic template and chat answers use FallbackChat.
type Generator struct {
	rt  ai.Runtime
	cfg Config
	log *slog.Logger
}

func New(rt ai.Runtime, cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = ai.DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Generator{rt: rt, cfg: cfg, log: logging.For("narrative")}
}

// Enabled reports whether a language model backs the generator.
func (g *Generator) Enabled() bool { return g.rt != nil }

// Explain describes why a record scored probability (0–100). profile is
// marshalled as indented JSON into the prompt.
func (g *Generator) Explain(ctx context.Context, attrs []explain.Attribution, profile any, probability float64) Text {
	if len(attrs) == 0 {
		return ProbabilityOnly(probability)
	}
	if g.rt == nil {
		return Text{Text: Template(attrs)}
	}
	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		g.log.Warn("marshal profile", slog.Any("err", err))
		profileJSON = []byte("{}")
	}
	prompt := ExplainPrompt(attrs, string(profileJSON), probability)
	return g.generate(ctx, KindExplain, explainSystem, prompt, FallbackExplanation)
}

// Answer replies to question given a pre-assembled dataset context.
func (g *Generator) Answer(ctx context.Context, datasetContext, question string) Text {
	if g.rt == nil {
		metrics.NarrativeFailures.WithLabelValues(KindChat, "disabled").Inc()
		return Text{Text: FallbackChat, Fallback: true, Reason: "disabled"}
	}
	prompt := datasetContext + "\n\nUser Question: " + question
	return g.generate(ctx, KindChat, chatSystem, prompt, FallbackChat)
}

func (g *Generator) generate(ctx context.Context, kind, system, prompt, fallback string) Text {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := g.rt.Generate(ctx, ai.GenerateRequest{
		Model: g.cfg.Model,
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	metrics.ExplanationDuration.WithLabelValues("narrative_" + kind).Observe(time.Since(start).Seconds())
	reason := ai.FailureReason(err)
	if err == nil && resp.Text() == "" {
		err, reason = errEmpty, "empty"
	}
	if err != nil {
		metrics.NarrativeFailures.WithLabelValues(kind, reason).Inc()
		g.log.Warn("generation failed, using fallback",
			slog.String("kind", kind), slog.String("reason", reason), slog.Any("err", err))
		return Text{Text: fallback, Fallback: true, Reason: reason}
	}
	return Text{Text: resp.Text()}
}

// ProbabilityOnly is used when no attributions could be computed.
func ProbabilityOnly(probability float64) Text {
	return Text{
		Text:     fmt.Sprintf("%s Predicted churn probability: %.2f%%.", FallbackRecord, probability),
		Fallback: true,
		Reason:   "no_attributions",
	}
}

// ExplainPrompt builds the user prompt for a record explanation.
func ExplainPrompt(attrs []explain.Attribution, profileJSON string, probability float64) string {
	var features strings.Builder
	for i, a := range attrs {
		if i > 0 {
			features.WriteByte('\n')
		}
		fmt.Fprintf(&features, "- %s: %.4f", a.Feature, a.Weight)
	}
	return fmt.Sprintf(`You are an expert data analyst specializing in customer churn prediction.

Based on the following LIME explainability metrics and customer data, provide a clear, concise explanation
of why this customer is predicted to have a %.2f%% churn probability.

LIME Feature Importances (positive values increase churn risk, negative values decrease it):
%s

Customer Profile:
%s

Please provide:
1. 3-5 bullet points explaining the key factors contributing to this churn prediction
2. Each bullet should be actionable and easy to understand
3. Focus on the most significant factors (highest absolute importance values)
4. Use simple, business-friendly language

Format your response as bullet points only, without any introduction or conclusion.`, probability, features.String(), profileJSON)
}

// Template renders attributions as bullets without a language model.
func Template(attrs []explain.Attribution) string {
	var b strings.Builder
	for i, a := range attrs {
		if i == 5 {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		effect := "raises"
		if a.Weight < 0 {
			effect = "lowers"
		}
		fmt.Fprintf(&b, "• %s %s churn risk (weight %+.4f)", a.Feature, effect, a.Weight)
	}
	return b.String()
}
