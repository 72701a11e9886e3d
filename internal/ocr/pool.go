package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// dispatcher runs unit(ctx, i) for every i in [0, n).
type dispatcher func(ctx context.Context, n int, unit func(ctx context.Context, i int)) error

// Pool recognizes region crops on a bounded number of goroutines.
type Pool struct {
	rec     Recognizer
	cache   Cache
	stats   *Stats
	workers int
	log     *slog.Logger

	dispatch dispatcher
}

// NewPool builds a pool. cache and stats may be nil; workers <= 0 means
// one per CPU.
func NewPool(rec Recognizer, cache Cache, stats *Stats, workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		rec:      rec,
		cache:    cache,
		stats:    stats,
		workers:  workers,
		log:      log,
		dispatch: parallel(workers),
	}
}

// RecognizeAll returns one Recognition per crop, indexed like crops no
// matter which worker finishes first. A failed region yields an empty
// Recognition. If the parallel run itself breaks, every crop is processed
// again sequentially with the same per-region function.
func (p *Pool) RecognizeAll(ctx context.Context, crops []image.Image) []Recognition {
	results := make([]Recognition, len(crops))
	unit := func(ctx context.Context, i int) {
		results[i] = p.recognizeOne(ctx, i, crops[i])
	}

	if err := p.dispatch(ctx, len(crops), unit); err != nil {
		p.log.Warn("parallel recognition failed, retrying sequentially", "regions", len(crops), "error", err)
		clear(results)
		_ = sequential(ctx, len(crops), unit)
	}
	return results
}

func (p *Pool) recognizeOne(ctx context.Context, i int, img image.Image) (rec Recognition) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("region recognition panicked", "region", i, "panic", fmt.Sprint(r))
			if p.stats != nil {
				p.stats.RecordFailure()
			}
			rec = Recognition{}
		}
	}()

	var key string
	if p.cache != nil {
		key = ImageKey(img)
		if r, ok := p.cache.Get(key); ok {
			if p.stats != nil {
				p.stats.RecordCacheHit()
			}
			return r
		}
	}

	start := time.Now()
	r, err := p.rec.Recognize(ctx, img)
	if err != nil {
		p.log.Warn("region recognition failed", "region", i, "error", err)
		if p.stats != nil {
			p.stats.RecordFailure()
		}
		return Recognition{}
	}
	if p.stats != nil {
		p.stats.Record(time.Since(start).Milliseconds())
	}
	r.Confidence = clampConfidence(r.Confidence)
	if p.cache != nil {
		p.cache.Set(key, r)
	}
	return r
}

func parallel(workers int) dispatcher {
	return func(ctx context.Context, n int, unit func(ctx context.Context, i int)) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := 0; i < n; i++ {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("worker for region %d: %v", i, r)
					}
				}()
				unit(gctx, i)
				return nil
			})
		}
		return g.Wait()
	}
}

func sequential(ctx context.Context, n int, unit func(ctx context.Context, i int)) error {
	for i := 0; i < n; i++ {
		unit(ctx, i)
	}
	return nil
}
