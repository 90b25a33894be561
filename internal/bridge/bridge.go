// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package bridge runs blocking storage operations on a bounded worker
// pool so concurrent requests cannot pile unbounded pressure onto the
// backend connection. The pool bound is the sole admission control in
// front of the storage backend.
package bridge

import (
	"context"
	"runtime"

	"github.com/panjf2000/ants/v2"

	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

// MaxWorkers caps the pool regardless of available parallelism to keep
// backend connection pressure bounded.
const MaxWorkers = 8

// Pool is a bounded worker pool for blocking operations. Submissions
// beyond the bound queue rather than spawning additional workers.
type Pool struct {
	pool *ants.Pool
}

// New creates a pool with the given size, clamped to [1, MaxWorkers].
// size <= 0 selects the default of min(GOMAXPROCS, MaxWorkers).
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	size = min(size, MaxWorkers)

	p, err := ants.NewPool(size)
	if err != nil {
		return nil, quarryerr.Wrapf(err, quarryerr.CodeBridgeSubmitFailure, "creating worker pool of size %d", size)
	}
	return &Pool{pool: p}, nil
}

// Size returns the worker bound.
func (p *Pool) Size() int {
	return p.pool.Cap()
}

// Running returns the number of workers currently executing.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release stops the pool. In-flight operations run to completion.
func (p *Pool) Release() {
	p.pool.Release()
}

type result[T any] struct {
	val T
	err error
}

// Run submits op to the pool and waits for its result. If ctx is
// cancelled before op completes, Run returns ctx.Err() and the
// operation keeps running to completion with its result discarded;
// backend work is never preempted mid-flight.
func Run[T any](ctx context.Context, p *Pool, op func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ch := make(chan result[T], 1)
	if err := p.pool.Submit(func() {
		val, err := op()
		ch <- result[T]{val: val, err: err}
	}); err != nil {
		return zero, quarryerr.Wrap(err, quarryerr.CodeBridgeSubmitFailure, "submitting operation")
	}

	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is Run for operations without a result.
func Do(ctx context.Context, p *Pool, op func() error) error {
	_, err := Run(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
