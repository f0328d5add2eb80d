package explain

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/churnlens/internal/model"
)

// BatchItem is the outcome for one row of ExplainAll.
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// ExplainAll explains the given rows of X with at most workers explanations in
// flight. A failing row is reported in its item and does not stop the others;
// only cancellation of ctx aborts the batch.
func (e *Explainer) ExplainAll(ctx context.Context, clf model.Classifier, X [][]float64, rows []int, workers int) ([]BatchItem, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]BatchItem, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, idx := range rows {
		k, idx := k, idx
		out[k].Index = idx
		if idx < 0 || idx >= len(X) {
			out[k].Err = fmt.Errorf("row %d outside [0,%d)", idx, len(X))
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Explain(gctx, clf, X[idx])
			out[k].Result, out[k].Err = res, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
