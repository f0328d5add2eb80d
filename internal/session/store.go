package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/KaramelBytes/churnlens/internal/logging"
	"github.com/KaramelBytes/churnlens/internal/metrics"
)

// Store owns the active session. Readers take a snapshot pointer and never
// observe a partly replaced session.
type Store struct {
	current atomic.Pointer[Session]
	gen     atomic.Uint64
	// commitMu serialises writers so generations are published in order.
	commitMu sync.Mutex
	flight   singleflight.Group
	log      *slog.Logger
}

func NewStore() *Store {
	return &Store{log: logging.For("session")}
}

// Commit publishes s as the active session, stamping the next generation.
// s must be fully built and not modified afterwards.
func (st *Store) Commit(s *Session) (uint64, error) {
	if s == nil {
		return 0, fmt.Errorf("commit nil session")
	}
	if err := s.Validate(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	st.commitMu.Lock()
	defer st.commitMu.Unlock()
	s.Generation = st.gen.Add(1)
	st.current.Store(s)
	metrics.SessionGeneration.Set(float64(s.Generation))
	metrics.SessionRows.Set(float64(s.Rows()))
	st.log.Info("session committed",
		slog.String("session_id", s.ID),
		slog.Uint64("generation", s.Generation),
		slog.Int("rows", s.Rows()),
		slog.Int("features", len(s.FeatureNames)))
	return s.Generation, nil
}

// Current returns the active session.
func (st *Store) Current() (*Session, bool) {
	s := st.current.Load()
	return s, s != nil
}

// Invalidate drops the active session. Work still running against it will
// find its results stale.
func (st *Store) Invalidate() {
	st.commitMu.Lock()
	defer st.commitMu.Unlock()
	st.gen.Add(1)
	if prev := st.current.Swap(nil); prev != nil {
		st.log.Info("session invalidated", slog.String("session_id", prev.ID), slog.Uint64("generation", prev.Generation))
	}
	metrics.SessionGeneration.Set(0)
	metrics.SessionRows.Set(0)
}

// at returns the session if it is still generation gen.
func (st *Store) at(gen uint64) (*Session, error) {
	s := st.current.Load()
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Generation != gen {
		return nil, fmt.Errorf("generation %d superseded by %d: %w", gen, s.Generation, ErrStaleSession)
	}
	return s, nil
}

// Explanation looks up a cached explanation. A nil result with a nil error is
// a miss and tells the caller to compute.
func (st *Store) Explanation(gen uint64, index int) (*Explanation, error) {
	s, err := st.at(gen)
	if err != nil {
		return nil, err
	}
	if err := s.checkIndex(index); err != nil {
		return nil, err
	}
	if e, ok := s.cached(index); ok {
		return e, nil
	}
	return nil, nil
}

// PutExplanation caches e for index in generation gen. The first value stored
// wins; later writes return it unchanged. Writing to a replaced generation
// stores nothing and returns ErrStaleSession.
func (st *Store) PutExplanation(gen uint64, index int, e *Explanation) (*Explanation, error) {
	s, err := st.at(gen)
	if err != nil {
		return nil, err
	}
	if err := s.checkIndex(index); err != nil {
		return nil, err
	}
	return s.putCached(index, e), nil
}

// Outcome says how Resolve produced its explanation.
type Outcome int

const (
	Computed Outcome = iota
	Cached
	// Shared means another concurrent caller computed it.
	Shared
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return "hit"
	case Shared:
		return "shared"
	}
	return "miss"
}

// Resolve returns the cached explanation for (gen, index) or computes it with
// compute. Concurrent callers for the same key share a single computation.
// compute must not depend on the caller's cancellation; ctx only bounds how
// long this caller waits.
func (st *Store) Resolve(ctx context.Context, gen uint64, index int, compute func() (*Explanation, error)) (*Explanation, Outcome, error) {
	e, err := st.Explanation(gen, index)
	if err != nil {
		return nil, Computed, err
	}
	if e != nil {
		metrics.ExplanationCache.WithLabelValues(Cached.String()).Inc()
		return e, Cached, nil
	}

	key := strconv.FormatUint(gen, 10) + ":" + strconv.Itoa(index)
	ch := st.flight.DoChan(key, func() (any, error) {
		// a previous flight may have filled the cache after our lookup
		if e, err := st.Explanation(gen, index); err != nil || e != nil {
			return e, err
		}
		fresh, err := compute()
		if err != nil {
			return nil, err
		}
		won, err := st.PutExplanation(gen, index, fresh)
		if err != nil {
			metrics.StaleResults.Inc()
			st.log.Warn("dropping explanation for replaced session",
				slog.Uint64("generation", gen), slog.Int("index", index))
			return nil, err
		}
		return won, nil
	})
	select {
	case <-ctx.Done():
		return nil, Computed, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, Computed, res.Err
		}
		out := Computed
		if res.Shared {
			out = Shared
		}
		metrics.ExplanationCache.WithLabelValues(out.String()).Inc()
		return res.Val.(*Explanation), out, nil
	}
}
