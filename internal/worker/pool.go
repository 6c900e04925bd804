package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool runs several consumers over the same queue and runner.
type Pool struct {
	consumers []*Consumer
}

// NewPool builds n consumers from opts, naming them consumer-0..n-1.
func NewPool(n int, opts Options) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("worker: pool size must be at least 1, got %d", n)
	}
	p := &Pool{consumers: make([]*Consumer, 0, n)}
	for i := 0; i < n; i++ {
		o := opts
		o.Name = fmt.Sprintf("consumer-%d", i)
		c, err := New(o)
		if err != nil {
			return nil, err
		}
		p.consumers = append(p.consumers, c)
	}
	return p, nil
}

// Size is the number of consumers.
func (p *Pool) Size() int { return len(p.consumers) }

// Run starts every consumer and waits until all have stopped.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range p.consumers {
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	return g.Wait()
}
