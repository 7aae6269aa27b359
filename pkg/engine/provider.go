package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/tabula/pkg/config"
)

// Provider hands out one shared Engine. Concurrent callers of Get while the
// engine is being created all wait for the same attempt; a failed attempt is
// not cached, so the next Get tries again.
type Provider struct {
	cfg   *config.EngineConfig
	opts  []Option
	group singleflight.Group

	mu     sync.Mutex
	engine *Engine
}

// NewProvider returns a Provider creating engines from cfg and opts.
func NewProvider(cfg *config.EngineConfig, opts ...Option) *Provider {
	return &Provider{cfg: cfg, opts: opts}
}

// Get returns the Ready engine, initializing it on first use. The context of
// the caller that starts initialization bounds it for all waiters.
func (p *Provider) Get(ctx context.Context) (*Engine, error) {
	if e := p.ready(); e != nil {
		return e, nil
	}

	v, err, _ := p.group.Do("engine", func() (interface{}, error) {
		if e := p.ready(); e != nil {
			return e, nil
		}
		e := New(p.cfg, p.opts...)
		if err := e.Initialize(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.engine = e
		p.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

func (p *Provider) ready() *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine != nil && p.engine.IsInitialized() {
		return p.engine
	}
	return nil
}

// Close closes the shared engine, if any. A later Get creates a new one.
func (p *Provider) Close() error {
	p.mu.Lock()
	e := p.engine
	p.engine = nil
	p.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.Close()
}
