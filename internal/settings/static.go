package settings

import (
	"context"
	"sync"
)

// StaticProvider is an in-memory Provider. It backs tests and environments
// without a writable settings file.
type StaticProvider struct {
	mu  sync.RWMutex
	s   Settings
	err error
}

// NewStaticProvider returns a provider serving s.
func NewStaticProvider(s Settings) *StaticProvider {
	return &StaticProvider{s: s}
}

func (p *StaticProvider) Get(_ context.Context) (Settings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return Settings{}, p.err
	}
	return p.s, nil
}

func (p *StaticProvider) Set(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.s = s
	p.mu.Unlock()
	return nil
}

// SetErr makes subsequent Get calls fail with err; nil clears it. It
// simulates an unreachable provider.
func (p *StaticProvider) SetErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
