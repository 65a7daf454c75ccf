// Package pipeline implements the bounded pool of feature-extraction
// pipeline handles used to run batch enrollment work in parallel
// without oversubscribing the machine, grounded on
// original_source/pipeline_pool.py.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/errs"
	"github.com/buildbarn/eyed-registry/pkg/gallery"
)

// Extractor is the out-of-scope feature-extraction collaborator: the
// component that turns a raw eye image into iris/mask codes. Only its
// interface is specified here; pipeline owns none of its internals.
type Extractor interface {
	Extract(image []byte, eyeSide string) (*gallery.Template, error)
}

// ThreadBudget computes the per-instance internal thread cap a pool of
// poolSize extractors should each be configured with, so that
// poolSize*threads never oversubscribes the available CPUs.
func ThreadBudget(poolSize int) int {
	cpu := runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 1
	}
	threads := cpu / poolSize
	if threads < 1 {
		threads = 1
	}
	return threads
}

// Pool is a fixed-size, thread-safe pool of pre-loaded Extractor
// handles. Instances are loaded once at Load time; workers borrow one
// via Acquire and return it via Release.
type Pool struct {
	size int
	slots chan Extractor

	mu     sync.Mutex
	loaded bool
}

// NewPool constructs an empty Pool sized to hold size instances. Call
// Load to populate it.
func NewPool(size int) *Pool {
	return &Pool{size: size, slots: make(chan Extractor, size)}
}

// Load pre-loads the pool by calling factory once per slot, logging
// progress as each instance comes up. Call once at startup before
// Acquire is used.
func (p *Pool) Load(factory func() (Extractor, error), log *logrus.Entry) error {
	threads := ThreadBudget(p.size)
	log.WithFields(logrus.Fields{"pool_size": p.size, "threads_per_instance": threads}).
		Info("pre-loading pipeline pool")

	start := time.Now()
	for i := 0; i < p.size; i++ {
		instance, err := factory()
		if err != nil {
			return errs.Wrap(errs.KindPipelineInit, err, "failed to load pipeline instance")
		}
		p.slots <- instance
		log.WithField("instance", i+1).WithField("of", p.size).Info("pipeline instance loaded")
	}

	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	log.WithField("elapsed", time.Since(start)).Info("pipeline pool ready")
	return nil
}

// IsLoaded reports whether Load has completed successfully.
func (p *Pool) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Size returns the pool's configured capacity.
func (p *Pool) Size() int {
	return p.size
}

// Available returns the number of instances currently idle in the
// pool.
func (p *Pool) Available() int {
	return len(p.slots)
}

// Acquire borrows an instance, blocking until one is available or ctx
// is done. A context deadline exceeded while waiting is reported as
// errs.KindTimeout, matching the bounded-wait convention used
// throughout the registry.
func (p *Pool) Acquire(ctx context.Context) (Extractor, error) {
	select {
	case instance := <-p.slots:
		return instance, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, ctx.Err(), "no pipeline instance available")
	}
}

// Release returns instance to the pool. Callers should always invoke
// this via defer immediately after a successful Acquire.
func (p *Pool) Release(instance Extractor) {
	p.slots <- instance
}
