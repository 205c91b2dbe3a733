package batch

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cyber-rating/internal/rating"
)

// Result is the outcome of rating one Row. Exactly one of Quote and Err is set.
type Result struct {
	Row   Row
	Quote *rating.Quote
	Err   error
}

// Summary counts the outcomes of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Run rates rows with at most concurrency in flight. A failed row does not
// stop the batch. Results are in input order.
func Run(ctx context.Context, engine *rating.Engine, rows []Row, concurrency int) ([]Result, Summary, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]Result, len(rows))
	var failed atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			q, err := rateRow(engine, row)
			results[i] = Result{Row: row, Quote: q, Err: err}
			if err != nil {
				failed.Add(1)
				zap.L().Debug("batch: row failed",
					zap.String("component", "batch"),
					zap.Int("line", row.Line),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Summary{}, err
	}

	sum := Summary{Total: len(rows), Failed: int(failed.Load())}
	sum.Succeeded = sum.Total - sum.Failed
	zap.L().Info("batch: rating complete",
		zap.String("component", "batch"),
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return results, sum, nil
}

func rateRow(engine *rating.Engine, row Row) (*rating.Quote, error) {
	industry, err := engine.ResolveIndustry(row.Industry, row.NAICS)
	if err != nil {
		return nil, err
	}
	return engine.PriceWithBreakdown(rating.QuoteRequest{
		Industry:  industry,
		Revenue:   row.Revenue,
		Limit:     row.Limit,
		Retention: row.Retention,
		Controls:  row.Controls,
	})
}
