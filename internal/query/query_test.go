package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/churnlens/internal/narrative"
	"github.com/KaramelBytes/churnlens/internal/predict"
	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/table"
	"github.com/KaramelBytes/churnlens/internal/utils"
)

type recorder struct {
	context  string
	question string
	reply    narrative.Text
}

func (r *recorder) Answer(_ context.Context, dc, q string) narrative.Text {
	r.context, r.question = dc, q
	return r.reply
}

func dataset(classes ...int) *session.Session {
	cols := []string{"customer_id", "monthly_charges"}
	s := &session.Session{Columns: cols}
	high := 0
	for i, c := range classes {
		label, p := "Low Risk", 20.0
		if c == 1 {
			label, p = "High Risk", 80.0
			high++
		}
		s.Records = append(s.Records, session.Record{
			Index:      i,
			Columns:    cols,
			Values:     []table.Cell{{Raw: "C" + strings.Repeat("x", i)}, {Raw: "70.5"}},
			Prediction: session.Prediction{Probability: p, Label: label, Class: c},
		})
	}
	s.Summary = predict.Summary{Total: len(classes), HighRiskCount: high, LowRiskCount: len(classes) - high, AvgProbability: 42.5}
	return s
}

func TestNoSessionGuidance(t *testing.T) {
	r := &recorder{}
	reply, err := NewEngine(r, 0).Answer(context.Background(), "What is my churn rate?", nil)
	require.NoError(t, err)
	assert.Equal(t, Reply{Success: true, Response: NoSessionMessage}, reply)
	assert.Empty(t, r.question, "no generation without a session")
}

func TestEmptyQuestion(t *testing.T) {
	_, err := NewEngine(&recorder{}, 0).Answer(context.Background(), "   ", dataset(1))
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestContextContents(t *testing.T) {
	r := &recorder{reply: narrative.Text{Text: "Churn is concentrated in monthly plans."}}
	s := dataset(1, 0, 1, 1, 1, 0, 0, 0)
	reply, err := NewEngine(r, 0).Answer(context.Background(), " why? ", s)
	require.NoError(t, err)
	assert.Equal(t, "Churn is concentrated in monthly plans.", reply.Response)
	assert.Equal(t, "why?", r.question)

	dc := r.context
	assert.Contains(t, dc, "- Total Customers: 8\n- High Risk Customers: 4\n- Low Risk Customers: 4")
	assert.Contains(t, dc, "- Average Churn Probability: 42.50%")
	assert.Contains(t, dc, "- Available Columns: Customer Id, Monthly Charges, Churn Probability, Churn Prediction, Predicted Class")
	assert.Equal(t, 3, strings.Count(dc, `"Churn_Prediction": "High Risk"`))
	assert.Equal(t, 3, strings.Count(dc, `"Churn_Prediction": "Low Risk"`))
}

func TestFallbackReplyIsStillSuccessful(t *testing.T) {
	r := &recorder{reply: narrative.Text{Text: narrative.FallbackChat, Fallback: true}}
	reply, err := NewEngine(r, 0).Answer(context.Background(), "q", dataset(0))
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.True(t, reply.Fallback)
	assert.Equal(t, narrative.FallbackChat, reply.Response)
}

func TestContextRespectsBudget(t *testing.T) {
	s := dataset(1, 1, 1, 0, 0, 0)
	full := BuildContext(s, 0)
	fullTokens := utils.CountTokens(full)

	budget := fullTokens - 40
	trimmed := BuildContext(s, budget)
	assert.LessOrEqual(t, utils.CountTokens(trimmed), budget)
	assert.Less(t, strings.Count(trimmed, "Churn_Prediction"), 6)
	assert.Contains(t, trimmed, "Total Customers: 6")

	tiny := BuildContext(s, 10)
	assert.LessOrEqual(t, utils.CountTokens(tiny), 10)
}
