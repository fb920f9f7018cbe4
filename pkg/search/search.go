// Package search defines the web search boundary and a worker pool that runs
// blocking searches off the caller's goroutine.
package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
)

// Result is a single web search hit.
type Result struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Provider runs a web search for a query.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// ProviderFunc adapts a plain function to a Provider.
type ProviderFunc func(ctx context.Context, query string) ([]Result, error)

func (f ProviderFunc) Search(ctx context.Context, query string) ([]Result, error) {
	return f(ctx, query)
}

// ErrPoolClosed is returned for searches submitted after Close.
var ErrPoolClosed = errors.New("search pool closed")

// DefaultTimeout bounds a single search.
const DefaultTimeout = 20 * time.Second

type job struct {
	ctx     context.Context
	query   string
	pending *Pending
}

// Pending is a submitted search whose result can be awaited.
type Pending struct {
	Query   string
	done    chan struct{}
	results []Result
	err     error
}

func (p *Pending) resolve(results []Result, err error) {
	p.results, p.err = results, err
	close(p.done)
}

// Wait blocks until the search finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) ([]Result, error) {
	select {
	case <-p.done:
		return p.results, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pool runs searches on a fixed set of worker goroutines.
type Pool struct {
	provider Provider
	timeout  time.Duration
	jobs     chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines that serve searches from provider.
// Each search is bounded by searchTimeout (DefaultTimeout if zero).
func NewPool(provider Provider, workers int, searchTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if searchTimeout <= 0 {
		searchTimeout = DefaultTimeout
	}
	p := &Pool{
		provider: provider,
		timeout:  searchTimeout,
		jobs:     make(chan job),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	t := timeout.New[[]Result](timeout.Config{DefaultTimeout: p.timeout})
	for j := range p.jobs {
		ctx, cancel := context.WithTimeout(j.ctx, p.timeout)
		results, err := t.Execute(ctx, p.timeout, func(ctx context.Context) ([]Result, error) {
			return p.provider.Search(ctx, j.query)
		})
		cancel()
		j.pending.resolve(results, err)
	}
}

// Submit hands a query to the next free worker and returns immediately.
func (p *Pool) Submit(ctx context.Context, query string) *Pending {
	pending := &Pending{Query: query, done: make(chan struct{})}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		pending.resolve(nil, ErrPoolClosed)
		return pending
	}

	select {
	case p.jobs <- job{ctx: ctx, query: query, pending: pending}:
	case <-ctx.Done():
		pending.resolve(nil, ctx.Err())
	}
	return pending
}

// Search submits a query and waits for its result.
func (p *Pool) Search(ctx context.Context, query string) ([]Result, error) {
	return p.Submit(ctx, query).Wait(ctx)
}

// Close stops accepting work and waits for running searches to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
