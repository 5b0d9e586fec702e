// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent tasks (e.g. cross-validation folds) with bounded parallelism.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// Pool limits the number of tasks running at the same time.
type Pool struct {
	// maxParallelism is the limit of tasks running in parallel: 0 runs tasks inline, and a negative
	// value means unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool running at most maxParallelism tasks at the same time.
// If maxParallelism is 0, tasks run inline. If it is negative, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// NewDefault returns a Pool with parallelism runtime.NumCPU().
func NewDefault() *Pool {
	return New(runtime.NumCPU())
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running at the same time.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and starts task in a goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// Run calls task(ii) for ii in [0, numTasks), in parallel up to the pool's limit, and waits for all of
// them to finish. It returns the error of the lowest numbered task that failed, if any.
func (w *Pool) Run(numTasks int, task func(ii int) error) error {
	errs := make([]error, numTasks)
	var wg sync.WaitGroup
	for ii := range numTasks {
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			errs[ii] = task(ii)
		})
	}
	wg.Wait()
	for ii, err := range errs {
		if err != nil {
			return errors.WithMessagef(err, "task #%d of %d", ii, numTasks)
		}
	}
	return nil
}
