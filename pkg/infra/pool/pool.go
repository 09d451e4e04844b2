package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Type defines the type of worker pool.
type Type string

const (
	// DispatchPool delivers subscriber events. It runs a single worker
	// so that events submitted in write order are published in write
	// order; tasks on it must never block.
	DispatchPool Type = "dispatch"

	// CallbackPool executes whole-tree change callbacks. Callbacks are
	// user code and may be slow, so this pool runs several workers and
	// is kept off the dispatch path.
	CallbackPool Type = "callback"
)

// Config defines the configuration for a worker pool.
type Config struct {
	// Capacity is the maximum number of concurrent workers.
	Capacity int
	// ExpiryDuration is how long an idle worker survives.
	ExpiryDuration time.Duration
	// PreAlloc preallocates worker memory at construction.
	PreAlloc bool
	// Nonblocking makes Submit return ErrPoolOverload when full
	// instead of waiting for a worker.
	Nonblocking bool
	// MaxBlockingTasks caps the waiters when Nonblocking is false.
	// Zero means no cap.
	MaxBlockingTasks int
	// PanicHandler receives panics that escape a task.
	PanicHandler func(interface{})
}

// DispatchConfig returns the configuration for the event dispatch pool.
// A single blocking worker preserves submission order end to end.
func DispatchConfig() *Config {
	return &Config{
		Capacity:       1,
		ExpiryDuration: 10 * time.Second,
		PreAlloc:       true,
	}
}

// CallbackConfig returns the configuration for the callback pool.
func CallbackConfig() *Config {
	return &Config{
		Capacity:         16,
		ExpiryDuration:   30 * time.Second,
		MaxBlockingTasks: 64,
	}
}

// Pool wraps an ants pool with statistics and close-once semantics.
type Pool struct {
	name     string
	typ      Type
	pool     *ants.Pool
	config   *Config
	stats    *statsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type statsCounter struct {
	SubmittedTasks atomic.Int64
	CompletedTasks atomic.Int64
	FailedTasks    atomic.Int64
	RejectedTasks  atomic.Int64
	PanicRecovered atomic.Int64
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	SubmittedTasks int64
	CompletedTasks int64
	FailedTasks    int64
	RejectedTasks  int64
	PanicRecovered int64
}

// New creates a worker pool with the given configuration.
func New(name string, typ Type, config *Config) (*Pool, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: nil config for pool %q", ErrInvalidConfig, name)
	}
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d for pool %q", ErrInvalidConfig, config.Capacity, name)
	}

	p := &Pool{
		name:   name,
		typ:    typ,
		config: config,
		stats:  &statsCounter{},
	}

	inner, err := ants.NewPool(config.Capacity, buildAntsOptions(name, config)...)
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}
	p.pool = inner

	logger.Debugw("Worker pool created",
		"name", name,
		"type", string(typ),
		"capacity", config.Capacity,
	)
	return p, nil
}

func buildAntsOptions(name string, config *Config) []ants.Option {
	opts := []ants.Option{
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(config.PreAlloc),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
	}

	if config.PanicHandler != nil {
		opts = append(opts, ants.WithPanicHandler(config.PanicHandler))
	} else {
		opts = append(opts, ants.WithPanicHandler(func(p interface{}) {
			logger.Errorw("Worker panic recovered", "pool", name, "panic", p)
		}))
	}
	return opts
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Type returns the pool type.
func (p *Pool) Type() Type {
	return p.typ
}

// Running returns the number of currently running workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Submit hands a task to the pool. For a blocking pool, Submit waits
// until a worker is free; for a non-blocking pool, a full pool returns
// ErrPoolOverload.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.stats.SubmittedTasks.Add(1)
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.stats.PanicRecovered.Add(1)
				p.stats.FailedTasks.Add(1)
				// Re-panic so the ants PanicHandler sees it
				panic(r)
			}
			p.stats.CompletedTasks.Add(1)
		}()
		task()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.stats.RejectedTasks.Add(1)
			return ErrPoolOverload
		}
		p.stats.FailedTasks.Add(1)
		return err
	}
	return nil
}

// Release closes the pool discarding queued work.
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return
	}
	p.closed.Store(true)
	p.pool.Release()
	logger.Debugw("Worker pool released", "name", p.name)
}

// ReleaseTimeout closes the pool, waiting up to timeout for running
// tasks to finish.
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return nil
	}
	p.closed.Store(true)
	return p.pool.ReleaseTimeout(timeout)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks: p.stats.SubmittedTasks.Load(),
		CompletedTasks: p.stats.CompletedTasks.Load(),
		FailedTasks:    p.stats.FailedTasks.Load(),
		RejectedTasks:  p.stats.RejectedTasks.Load(),
		PanicRecovered: p.stats.PanicRecovered.Load(),
	}
}
