// Package query answers free-form questions about the active dataset.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KaramelBytes/churnlens/internal/logging"
	"github.com/KaramelBytes/churnlens/internal/narrative"
	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/utils"
)

// NoSessionMessage is returned, successfully, when nothing has been uploaded.
const NoSessionMessage = "Please upload a dataset first to analyze. I'll be able to provide insights once you've uploaded your churn data."

// ErrEmptyQuestion rejects blank questions.
var ErrEmptyQuestion = errors.New("no message provided")

// samplesPerClass is how many records of each class are shown to the model.
const samplesPerClass = 3

// Answerer generates an answer from a dataset context.
type Answerer interface {
	Answer(ctx context.Context, datasetContext, question string) narrative.Text
}

type Reply struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Engine assembles bounded context and delegates generation.
type Engine struct {
	gen Answerer
	// budget caps the context in estimated tokens; 0 means no cap.
	budget int
	log    *slog.Logger
}

func NewEngine(gen Answerer, budgetTokens int) *Engine {
	return &Engine{gen: gen, budget: budgetTokens, log: logging.For("query")}
}

// Answer replies to question about s. A nil session yields the upload
// guidance message.
func (e *Engine) Answer(ctx context.Context, question string, s *session.Session) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, ErrEmptyQuestion
	}
	if s == nil || s.Rows() == 0 {
		return Reply{Success: true, Response: NoSessionMessage}, nil
	}
	dc := BuildContext(s, e.budget)
	e.log.Debug("chat context", slog.Int("tokens", utils.CountTokens(dc)), slog.Uint64("generation", s.Generation))
	out := e.gen.Answer(ctx, dc, question)
	return Reply{Success: true, Response: out.Text, Fallback: out.Fallback}, nil
}

// BuildContext describes the dataset summary and a few sample records of each
// class. When budget > 0 samples are dropped, low-risk first, until the text
// fits; a summary that alone exceeds the budget is truncated.
func BuildContext(s *session.Session, budget int) string {
	var high, low []*session.Record
	for i := range s.Records {
		r := &s.Records[i]
		switch {
		case r.Prediction.Class == 1 && len(high) < samplesPerClass:
			high = append(high, r)
		case r.Prediction.Class == 0 && len(low) < samplesPerClass:
			low = append(low, r)
		}
	}
	header := summaryText(s)
	for {
		text := header + "\n\nSample High Risk Customers:\n" + samplesJSON(high) +
			"\n\nSample Low Risk Customers:\n" + samplesJSON(low)
		if budget <= 0 || utils.FitsTokens(text, budget) {
			return text
		}
		switch {
		case len(low) >= len(high) && len(low) > 0:
			low = low[:len(low)-1]
		case len(high) > 0:
			high = high[:len(high)-1]
		default:
			return utils.TruncateToTokenLimit(text, budget)
		}
	}
}

func summaryText(s *session.Session) string {
	labels := make([]string, 0, len(s.Columns)+len(session.DerivedColumns))
	for _, c := range s.Columns {
		labels = append(labels, session.Label(c))
	}
	for _, c := range session.DerivedColumns {
		labels = append(labels, session.Label(c))
	}
	sum := s.Summary
	return fmt.Sprintf(`You are analyzing a customer churn dataset with the following summary:
- Total Customers: %d
- High Risk Customers: %d
- Low Risk Customers: %d
- Average Churn Probability: %.2f%%
- Available Columns: %s`, sum.Total, sum.HighRiskCount, sum.LowRiskCount, sum.AvgProbability, strings.Join(labels, ", "))
}

func samplesJSON(recs []*session.Record) string {
	if len(recs) == 0 {
		return "[]"
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
