// Package churn ties the pipeline together: uploads become committed sessions,
// and explanations, chat answers and exports are served from the active one.
package churn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/churnlens/internal/explain"
	"github.com/KaramelBytes/churnlens/internal/logging"
	"github.com/KaramelBytes/churnlens/internal/metrics"
	"github.com/KaramelBytes/churnlens/internal/model"
	"github.com/KaramelBytes/churnlens/internal/narrative"
	"github.com/KaramelBytes/churnlens/internal/predict"
	"github.com/KaramelBytes/churnlens/internal/preprocess"
	"github.com/KaramelBytes/churnlens/internal/query"
	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/table"
)

// Options configures a Service.
type Options struct {
	// ModelPath is the artifact loaded on every upload.
	ModelPath string
	// LoadModel replaces loading from ModelPath when set.
	LoadModel func() (model.Classifier, error)

	Preprocess preprocess.Options
	Explain    explain.Options
	// ExplainTimeout bounds one explanation, surrogate and narrative together.
	ExplainTimeout time.Duration
	ExplainWorkers int
	// ChatContextTokens caps the dataset context sent with chat questions.
	ChatContextTokens int
}

// Service is safe for concurrent use.
type Service struct {
	store *session.Store
	narr  *narrative.Generator
	chat  *query.Engine
	opt   Options
	log   *slog.Logger
}

func New(store *session.Store, narr *narrative.Generator, opt Options) *Service {
	if opt.Preprocess == (preprocess.Options{}) {
		opt.Preprocess = preprocess.DefaultOptions()
	}
	if opt.ExplainWorkers <= 0 {
		opt.ExplainWorkers = 4
	}
	return &Service{
		store: store,
		narr:  narr,
		chat:  query.NewEngine(narr, opt.ChatContextTokens),
		opt:   opt,
		log:   logging.For("churn"),
	}
}

// Column is an original column with its display label.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Upload is the outcome of a committed upload.
type Upload struct {
	Session        *session.Session
	Columns        []Column
	PredictionTime time.Duration
	TotalTime      time.Duration
}

// Upload reads, preprocesses and scores a dataset, then replaces the active
// session with it. On any error the previous session stays active.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (*Upload, error) {
	start := time.Now()
	up, err := s.upload(ctx, filename, r)
	if err != nil {
		metrics.Uploads.WithLabelValues(Classify(err).String()).Inc()
		s.log.Warn("upload failed", slog.String("file", filename), slog.Any("err", err))
		return nil, err
	}
	up.TotalTime = time.Since(start)
	metrics.Uploads.WithLabelValues("ok").Inc()
	metrics.UploadDuration.Observe(up.TotalTime.Seconds())
	return up, nil
}

func (s *Service) upload(ctx context.Context, filename string, r io.Reader) (*Upload, error) {
	t, err := table.Read(filename, r)
	if err != nil {
		if errors.Is(err, table.ErrUnsupportedFormat) || errors.Is(err, table.ErrEmptyTable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	// a previously scored export carries stale predictions; they are replaced,
	// never fed to the model
	if replaced := t.DropColumns(session.DerivedColumns...); len(replaced) > 0 {
		s.log.Info("replacing prediction columns", slog.Any("columns", replaced))
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: no columns besides predictions", ErrInvalidInput)
	}
	res, enc, err := preprocess.Preprocess(t, s.opt.Preprocess)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	if dropped := res.Dropped(); len(dropped) > 0 {
		s.log.Info("columns dropped", slog.Any("columns", dropped))
	}

	clf, err := s.loadModel()
	if err != nil {
		return nil, err
	}
	bound, err := model.Bind(clf, res.FeatureNames)
	if err != nil {
		return nil, err
	}

	predStart := time.Now()
	pred, err := predict.Predict(ctx, bound, res.Matrix)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	predTime := time.Since(predStart)
	metrics.RowsPredicted.Add(float64(len(pred.Probabilities)))

	records := make([]session.Record, t.NumRows())
	for i, row := range t.Rows {
		records[i] = session.Record{
			Index:   i,
			Columns: t.Columns,
			Values:  row,
			Prediction: session.Prediction{
				Probability: pred.Percent(i),
				Label:       pred.Label(i),
				Class:       pred.Classes[i],
			},
		}
	}
	sess := &session.Session{
		ID:           uuid.NewString(),
		Source:       t.Name,
		CreatedAt:    time.Now().UTC(),
		Columns:      t.Columns,
		Records:      records,
		Matrix:       res.Matrix,
		FeatureNames: res.FeatureNames,
		Encoders:     enc,
		Dropped:      res.Dropped(),
		Summary:      predict.Summarize(pred),
		Classifier:   bound,
	}
	if _, err := s.store.Commit(sess); err != nil {
		return nil, err
	}
	s.log.Info("predictions completed",
		slog.String("file", t.Name),
		slog.Int("rows", sess.Rows()),
		slog.Int("high_risk", sess.Summary.HighRiskCount),
		slog.Duration("prediction_time", predTime))

	cols := make([]Column, len(t.Columns))
	for j, c := range t.Columns {
		cols[j] = Column{Key: c, Label: session.Label(c)}
	}
	return &Upload{Session: sess, Columns: cols, PredictionTime: predTime}, nil
}

func (s *Service) loadModel() (model.Classifier, error) {
	if s.opt.LoadModel != nil {
		return s.opt.LoadModel()
	}
	return model.Load(s.opt.ModelPath)
}

// ExplainResult is one explanation and how it was obtained.
type ExplainResult struct {
	Explanation    *session.Explanation
	Outcome        session.Outcome
	GenerationTime time.Duration
}

// Cached reports whether the explanation came from the cache.
func (r *ExplainResult) Cached() bool { return r.Outcome == session.Cached }

// Explain returns the explanation of record index in the active session,
// computing and caching it on first use.
func (s *Service) Explain(ctx context.Context, index int) (*ExplainResult, error) {
	start := time.Now()
	sess, ok := s.store.Current()
	if !ok {
		return nil, session.ErrNoSession
	}
	if _, err := sess.Record(index); err != nil {
		return nil, err
	}
	e, out, err := s.store.Resolve(ctx, sess.Generation, index, func() (*session.Explanation, error) {
		return s.compute(ctx, sess, index), nil
	})
	if err != nil {
		return nil, err
	}
	return &ExplainResult{Explanation: e, Outcome: out, GenerationTime: time.Since(start)}, nil
}

// compute runs detached from the caller so an abandoned request does not
// cancel work shared with other callers; ExplainTimeout still bounds it.
func (s *Service) compute(parent context.Context, sess *session.Session, index int) *session.Explanation {
	ctx, cancel := s.detach(parent)
	defer cancel()
	start := time.Now()
	ex, err := sess.Explainer(s.opt.Explain)
	var res *explain.Result
	if err == nil {
		res, err = ex.Explain(ctx, sess.Classifier, sess.Matrix[index])
	}
	metrics.ExplanationDuration.WithLabelValues("surrogate").Observe(time.Since(start).Seconds())
	return s.assemble(ctx, sess, index, res, err, start)
}

func (s *Service) detach(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if s.opt.ExplainTimeout > 0 {
		return context.WithTimeout(ctx, s.opt.ExplainTimeout)
	}
	return ctx, func() {}
}

// assemble turns a surrogate result, or its failure, into a cacheable
// explanation with a narrative.
func (s *Service) assemble(ctx context.Context, sess *session.Session, index int, res *explain.Result, explainErr error, start time.Time) *session.Explanation {
	rec := &sess.Records[index]
	if explainErr != nil {
		s.log.Warn("explanation degraded",
			slog.Int("index", index),
			slog.Uint64("generation", sess.Generation),
			slog.Any("err", explainErr))
		res = &explain.Result{}
	}
	text := s.narr.Explain(ctx, res.Attributions, rec.Profile(), rec.Prediction.Probability)
	attrs := res.Attributions
	if attrs == nil {
		attrs = []explain.Attribution{}
	}
	return &session.Explanation{
		Index:            index,
		Attributions:     attrs,
		Narrative:        text.Text,
		NarrativeFailed:  text.Fallback,
		ChurnProbability: rec.Prediction.Probability,
		Score:            res.Score,
		Intercept:        res.Intercept,
		LocalPrediction:  res.LocalPrediction,
		GeneratedAt:      time.Now().UTC(),
		Elapsed:          time.Since(start),
	}
}

// ExplainMany explains several records of the active session. Surrogates for
// uncached records are fitted in one bounded batch; results follow the order
// of indices.
func (s *Service) ExplainMany(ctx context.Context, indices []int) ([]*ExplainResult, error) {
	start := time.Now()
	sess, ok := s.store.Current()
	if !ok {
		return nil, session.ErrNoSession
	}
	out := make([]*ExplainResult, len(indices))
	pending := map[int][]int{}
	var missing []int
	for k, idx := range indices {
		e, err := s.store.Explanation(sess.Generation, idx)
		if err != nil {
			return nil, err
		}
		if e != nil {
			metrics.ExplanationCache.WithLabelValues(session.Cached.String()).Inc()
			out[k] = &ExplainResult{Explanation: e, Outcome: session.Cached}
			continue
		}
		if _, seen := pending[idx]; !seen {
			missing = append(missing, idx)
		}
		pending[idx] = append(pending[idx], k)
	}
	if len(missing) == 0 {
		return out, nil
	}

	// surrogates are fitted detached, like compute, since the results may be
	// shared with concurrent Explain callers
	bctx, cancel := s.detach(ctx)
	defer cancel()
	var items []explain.BatchItem
	ex, err := sess.Explainer(s.opt.Explain)
	if err == nil {
		items, err = ex.ExplainAll(bctx, sess.Classifier, sess.Matrix, missing, s.opt.ExplainWorkers)
		if err != nil {
			return nil, err
		}
	} else {
		items = make([]explain.BatchItem, len(missing))
		for k, idx := range missing {
			items[k] = explain.BatchItem{Index: idx, Err: err}
		}
	}
	metrics.ExplanationDuration.WithLabelValues("surrogate_batch").Observe(time.Since(start).Seconds())

	// each index still goes through Resolve so a concurrent Explain, or
	// another batch, shares one narrative with this one
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opt.ExplainWorkers)
	for _, it := range items {
		it := it
		g.Go(func() error {
			e, outcome, err := s.store.Resolve(gctx, sess.Generation, it.Index, func() (*session.Explanation, error) {
				actx, cancel := s.detach(ctx)
				defer cancel()
				return s.assemble(actx, sess, it.Index, it.Result, it.Err, start), nil
			})
			if err != nil {
				return err
			}
			for _, k := range pending[it.Index] {
				out[k] = &ExplainResult{Explanation: e, Outcome: outcome, GenerationTime: time.Since(start)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Chat answers a question about the active session. With no session the
// reply is the upload guidance, not an error.
func (s *Service) Chat(ctx context.Context, question string) (query.Reply, error) {
	sess, _ := s.store.Current()
	return s.chat.Answer(ctx, question, sess)
}

// Status describes the active session.
type Status struct {
	Loaded             bool   `json:"loaded"`
	CustomerCount      int    `json:"customer_count,omitempty"`
	Columns            int    `json:"columns,omitempty"`
	HasModel           bool   `json:"has_model,omitempty"`
	Message            string `json:"message"`
	SessionID          string `json:"session_id,omitempty"`
	Generation         uint64 `json:"generation,omitempty"`
	CachedExplanations int    `json:"cached_explanations,omitempty"`
}

func (s *Service) Status() Status {
	sess, ok := s.store.Current()
	if !ok {
		return Status{Message: "No dataset in memory. Please upload a CSV file."}
	}
	return Status{
		Loaded:             true,
		CustomerCount:      sess.Rows(),
		Columns:            len(sess.Columns),
		HasModel:           sess.Classifier != nil,
		Message:            "Dataset is loaded and ready for analysis",
		SessionID:          sess.ID,
		Generation:         sess.Generation,
		CachedExplanations: sess.CachedCount(),
	}
}

// Current exposes the active session for read-only use.
func (s *Service) Current() (*session.Session, bool) { return s.store.Current() }

// Reset drops the active session.
func (s *Service) Reset() { s.store.Invalidate() }
