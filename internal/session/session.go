// Package session holds the single active analysis session: the uploaded
// records, their processed features and predictions, and a per-record cache of
// explanations. Sessions are immutable once committed, apart from the cache.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KaramelBytes/churnlens/internal/explain"
	"github.com/KaramelBytes/churnlens/internal/model"
	"github.com/KaramelBytes/churnlens/internal/predict"
	"github.com/KaramelBytes/churnlens/internal/preprocess"
)

var (
	ErrNoSession       = errors.New("no dataset loaded")
	ErrStaleSession    = errors.New("session was replaced")
	ErrIndexOutOfRange = errors.New("customer index out of range")
)

// Session is one uploaded dataset. Build it completely, then Commit it.
type Session struct {
	ID         string
	Generation uint64
	Source     string
	CreatedAt  time.Time

	Columns      []string
	Records      []Record
	Matrix       [][]float64
	FeatureNames []string
	Encoders     preprocess.Encoders
	Dropped      []string
	Summary      predict.Summary
	// Classifier is bound to FeatureNames.
	Classifier model.Classifier

	explainerOnce sync.Once
	explainer     *explain.Explainer
	explainerErr  error

	cacheMu sync.RWMutex
	cache   map[int]*Explanation
}

// Explanation is an immutable cached explanation of one record.
type Explanation struct {
	Index            int                   `json:"index"`
	Attributions     []explain.Attribution `json:"attributions"`
	Narrative        string                `json:"narrative"`
	NarrativeFailed  bool                  `json:"narrative_failed"`
	ChurnProbability float64               `json:"churn_probability"`
	Score            float64               `json:"score"`
	Intercept        float64               `json:"intercept"`
	LocalPrediction  float64               `json:"local_prediction"`
	GeneratedAt      time.Time             `json:"generated_at"`
	Elapsed          time.Duration         `json:"elapsed"`
}

// Rows is the number of records.
func (s *Session) Rows() int { return len(s.Records) }

// Record returns the record at index i.
func (s *Session) Record(i int) (*Record, error) {
	if err := s.checkIndex(i); err != nil {
		return nil, err
	}
	return &s.Records[i], nil
}

func (s *Session) checkIndex(i int) error {
	if i < 0 || i >= len(s.Records) {
		return fmt.Errorf("index %d not in [0,%d): %w", i, len(s.Records), ErrIndexOutOfRange)
	}
	return nil
}

// Validate checks the row alignment invariants.
func (s *Session) Validate() error {
	if len(s.Records) != len(s.Matrix) {
		return fmt.Errorf("session has %d records and %d matrix rows", len(s.Records), len(s.Matrix))
	}
	for i, row := range s.Matrix {
		if len(row) != len(s.FeatureNames) {
			return fmt.Errorf("matrix row %d has %d values for %d features", i, len(row), len(s.FeatureNames))
		}
		if s.Records[i].Index != i {
			return fmt.Errorf("record %d carries index %d", i, s.Records[i].Index)
		}
	}
	return nil
}

// Explainer returns the session's explainer, fitting it on the first call.
// Later calls return the same explainer (or error) regardless of opt.
func (s *Session) Explainer(opt explain.Options) (*explain.Explainer, error) {
	s.explainerOnce.Do(func() {
		s.explainer, s.explainerErr = explain.New(s.Matrix, s.FeatureNames, opt)
	})
	return s.explainer, s.explainerErr
}

func (s *Session) cached(i int) (*Explanation, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	e, ok := s.cache[i]
	return e, ok
}

// putCached stores e unless an entry exists, and returns the entry that won.
func (s *Session) putCached(i int, e *Explanation) *Explanation {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if prev, ok := s.cache[i]; ok {
		return prev
	}
	if s.cache == nil {
		s.cache = make(map[int]*Explanation)
	}
	s.cache[i] = e
	return e
}

// CachedCount is the number of cached explanations.
func (s *Session) CachedCount() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}
