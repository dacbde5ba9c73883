// Package workerpool runs independent units of work over a bounded set of
// goroutines.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers normalizes a requested worker count. Values below one select the
// number of available CPUs.
func Workers(n int) int {
	if n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// For calls fn(i) for every i in [0, n) using at most workers goroutines.
//
// Work is handed out in contiguous chunks so that writes into disjoint
// output slots stay cache friendly. The first error returned by fn cancels
// the remaining chunks and is returned. A cancelled ctx stops scheduling new
// chunks; chunks already running finish.
func For(ctx context.Context, n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	workers = Workers(workers)
	if workers > n {
		workers = n
	}

	chunk := (n + workers*4 - 1) / (workers * 4)
	if chunk < 1 {
		chunk = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		if err := gctx.Err(); err != nil {
			break
		}
		start := start
		end := start + chunk
		if end > n {
			end = n
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
