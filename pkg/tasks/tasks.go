// Package tasks runs in-process background work with bounded concurrency.
// Work that callers don't want to wait on is submitted here rather than left
// in a stray goroutine, and each submission returns a Handle so tests (and
// callers that do need the result) can observe completion.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// Handle tracks one submitted task.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Done is closed when the task finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error. It's only meaningful after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Completed returns a handle that is already done with err. It's returned
// when there is nothing to run.
func Completed(name string, err error) *Handle {
	h := &Handle{name: name, done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

type Pool struct {
	log  logger.Logger
	sem  chan struct{}
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc
}

// NewPool creates a pool running at most concurrency tasks at once.
func NewPool(concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		log:  logger.New(),
		sem:  make(chan struct{}, concurrency),
		ctx:  ctx,
		stop: cancel,
	}
}

// Submit runs fn in the background. The context passed to fn carries a
// request-scoped logger and is cancelled on Shutdown, not when the caller's
// request ends.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(h.done)

		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			h.err = errors.WithStack(p.ctx.Err())
			return
		}
		defer func() { <-p.sem }()

		log := p.log.ID(uuid.NewString()).Root(logger.Data{"task": name})
		ctx := log.WithContext(p.ctx)

		defer func() {
			if r := recover(); r != nil {
				h.err = errors.New(fmt.Sprintf("task panicked: %v", r))
				log.Error("task panicked", logger.Data{"panic": fmt.Sprint(r)})
			}
		}()

		h.err = fn(ctx)
		if h.err != nil {
			log.Err(h.err).Warn("task failed")
		}
	}()

	return h
}

// Shutdown cancels running tasks and waits for them to return.
func (p *Pool) Shutdown() {
	p.stop()
	p.wg.Wait()
}
