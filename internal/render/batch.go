package render

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"latex-equations/internal/logger"
)

// DefaultConcurrency is the default number of equations rendered at once
const DefaultConcurrency = 4

// Request asks for one equation to be rendered.
type Request struct {
	ID      string
	Latex   string
	Options Options
}

// Result carries the outcome of one Request. Latex is the source the SVG was
// rendered from so callers can drop results for equations edited since.
type Result struct {
	ID       string
	Latex    string
	SVG      string
	Err      error
	Duration time.Duration
}

// RenderBatch renders reqs with at most concurrency renders in flight.
// onResult is called once per request, in completion order, never
// concurrently. A failed equation does not stop the batch; the returned error
// is only the context's error when the batch was cancelled.
func RenderBatch(ctx context.Context, r Renderer, reqs []Request, concurrency int, onResult func(Result)) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	logger.Info("starting batch render",
		logger.String("engine", r.Name()),
		logger.Int("equations", len(reqs)),
		logger.Int("concurrency", concurrency))

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures int
	)
	g.SetLimit(concurrency)
	start := time.Now()

	for _, req := range reqs {
		req := req // per-iteration copy; go directive is 1.21 (pre-1.22 loopvar semantics)
		g.Go(func() error {
			res := Result{ID: req.ID, Latex: req.Latex}
			if err := ctx.Err(); err != nil {
				res.Err = unavailableError("render cancelled", err)
			} else {
				t := time.Now()
				res.SVG, res.Err = r.Render(ctx, req.Latex, req.Options)
				res.Duration = time.Since(t)
			}

			mu.Lock()
			defer mu.Unlock()
			if res.Err != nil {
				failures++
				logger.Debug("equation render failed",
					logger.String("id", req.ID),
					logger.String("kind", KindOf(res.Err).String()),
					logger.Err(res.Err))
			}
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("batch render completed",
		logger.Int("equations", len(reqs)),
		logger.Int("failed", failures),
		logger.Duration("elapsed", time.Since(start)))
	return ctx.Err()
}
