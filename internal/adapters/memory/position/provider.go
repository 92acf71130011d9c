package position

import (
	"context"
	"fmt"
	"sync"

	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/ports/out/position"
)

// Provider replays a fixed list of fixes. It backs tests and the device simulator.
type Provider struct {
	mu sync.Mutex

	permission position.Permission
	fixes      []domain.Location
	next       int
	loop       bool
	failure    error
	calls      int
}

// NewProvider returns a provider that yields fixes in order and then repeats the last one.
func NewProvider(permission position.Permission, fixes ...domain.Location) *Provider {
	return &Provider{permission: permission, fixes: append([]domain.Location(nil), fixes...)}
}

// NewLoopingProvider returns a provider that cycles through fixes forever.
func NewLoopingProvider(permission position.Permission, fixes ...domain.Location) *Provider {
	p := NewProvider(permission, fixes...)
	p.loop = true
	return p
}

func (p *Provider) RequestPermission(ctx context.Context) (position.Permission, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission, nil
}

func (p *Provider) CurrentPosition(ctx context.Context) (domain.Location, error) {
	if err := ctx.Err(); err != nil {
		return domain.Location{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if p.failure != nil {
		return domain.Location{}, fmt.Errorf("%w: %v", domain.ErrPositionUnavailable, p.failure)
	}
	if len(p.fixes) == 0 {
		return domain.Location{}, domain.ErrPositionUnavailable
	}
	fix := p.fixes[p.next]
	switch {
	case p.next < len(p.fixes)-1:
		p.next++
	case p.loop:
		p.next = 0
	}
	return fix, nil
}

func (p *Provider) SetPermission(v position.Permission) {
	p.mu.Lock()
	p.permission = v
	p.mu.Unlock()
}

// SetFailure makes CurrentPosition fail until cleared with nil.
func (p *Provider) SetFailure(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

// Calls reports how many times CurrentPosition has been called.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
