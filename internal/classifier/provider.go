package classifier

import "sync"

// Provider builds the process-wide Engine exactly once. Concurrent callers
// of Get during the first build wait for it and share the result.
type Provider struct {
	once   sync.Once
	build  func() (*Engine, error)
	engine *Engine
	err    error
}

// NewProvider returns a Provider that constructs the engine from opts.
func NewProvider(opts Options) *Provider {
	return &Provider{build: func() (*Engine, error) { return New(opts) }}
}

// Get returns the engine, building it on the first call. A failed build is
// not retried; every caller receives the same error.
func (p *Provider) Get() (*Engine, error) {
	p.once.Do(func() {
		p.engine, p.err = p.build()
	})
	return p.engine, p.err
}
