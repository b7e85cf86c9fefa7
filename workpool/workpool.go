// Package workpool fans independent work out to a bounded set of goroutines
// and hands the results back in submission order.
package workpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Item tags a value with its position in the input.
type Item[T any] struct {
	Index int
	Value T
}

// Map applies fn to every item using at most workers goroutines and returns
// the results in input order. No new item is started once ctx is done or fn
// has failed.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, index int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))

	if workers <= 1 || len(items) <= 1 {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := fn(ctx, i, item)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := fn(gctx, i, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Ordered runs fn over the items received on in with workers goroutines and
// calls emit for each result in Index order. Indices must be contiguous and
// start at zero. Ordered returns once in is closed and every result has been
// emitted, when emit fails, or when ctx is done.
func Ordered[T, R any](ctx context.Context, workers int, in <-chan Item[T], fn func(T) R, emit func(Item[R]) error) error {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan Item[R], workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-in:
					if !ok {
						return
					}
					result := Item[R]{Index: item.Index, Value: fn(item.Value)}
					select {
					case <-ctx.Done():
						return
					case done <- result:
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	pending := make(map[int]R)
	next := 0
	for result := range done {
		pending[result.Index] = result.Value
		for {
			value, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := emit(Item[R]{Index: next, Value: value}); err != nil {
				return err
			}
			next++
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("workpool: %d results held back waiting for index %d", len(pending), next)
	}
	return nil
}
