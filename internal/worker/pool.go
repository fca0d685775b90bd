package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"habitloop/internal/config"
)

// Pool runs N processors against the same queue. Processors coordinate
// only through the claim protocol; there is no shared mutable state
// between them.
type Pool struct {
	processors []*Processor
}

// NewPool builds count processors with derived worker IDs.
func NewPool(cfg config.Config, q JobQueue, logger *zap.Logger, baseID string, count int) *Pool {
	if count < 1 {
		count = 1
	}
	pool := &Pool{}
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-%d", baseID, i)
		pool.processors = append(pool.processors, NewProcessor(cfg, q, logger, id))
	}
	return pool
}

// RegisterHandler binds a handler to a job type on every processor.
func (p *Pool) RegisterHandler(jobType string, handler Handler) {
	for _, proc := range p.processors {
		proc.RegisterHandler(jobType, handler)
	}
}

// Run blocks until the context is cancelled and every processor has
// drained its current batch.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, proc := range p.processors {
		wg.Add(1)
		go func(proc *Processor) {
			defer wg.Done()
			_ = proc.Run(ctx)
		}(proc)
	}
	wg.Wait()
}
