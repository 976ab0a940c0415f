package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/domain/wizard"
)

var (
	ErrWizardNotFound = errors.New("wizard not found")
	ErrNotOwner       = errors.New("wizard belongs to another user")
)

// Reasons a wizard leaves the registry
const (
	CloseIdle      = "idle"
	CloseCancelled = "cancelled"
	CloseDone      = "done"
)

type hosted struct {
	inst     wizard.Instance
	owner    int
	lastSeen time.Time
}

// Registry holds live wizards in memory. Drafts are never written
// anywhere else; a wizard that sits idle past the ttl is dropped, the same
// as navigating away from a form.
type Registry struct {
	mu      sync.Mutex
	wizards map[string]*hosted
	ttl     time.Duration
	now     func() time.Time
	onClose func(inst wizard.Instance, reason string)
	logger  *zap.Logger
}

func NewRegistry(ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		wizards: make(map[string]*hosted),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// OnClose registers a callback for wizards leaving the registry. It runs
// without the registry lock held.
func (r *Registry) OnClose(fn func(inst wizard.Instance, reason string)) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// Put hosts inst for owner. Owner 0 is an anonymous wizard reachable by
// anyone holding its id.
func (r *Registry) Put(inst wizard.Instance, owner int) {
	r.mu.Lock()
	r.wizards[inst.ID()] = &hosted{inst: inst, owner: owner, lastSeen: r.now()}
	r.mu.Unlock()
}

// Get returns the wizard and refreshes its idle timer.
func (r *Registry) Get(id string, user int) (wizard.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.wizards[id]
	if !ok {
		return nil, ErrWizardNotFound
	}
	if h.owner != 0 && h.owner != user {
		return nil, ErrNotOwner
	}
	h.lastSeen = r.now()
	return h.inst, nil
}

// Remove drops a wizard. It reports whether the wizard was present.
func (r *Registry) Remove(id, reason string) bool {
	r.mu.Lock()
	h, ok := r.wizards[id]
	delete(r.wizards, id)
	onClose := r.onClose
	r.mu.Unlock()

	if ok && onClose != nil {
		onClose(h.inst, reason)
	}
	return ok
}

// Len returns the number of hosted wizards
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wizards)
}

// Sweep evicts wizards idle for longer than the ttl. Wizards with a
// submission in flight are kept. Finished wizards close as done, the rest
// are cancelled.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*hosted
	var reasons []string
	for id, h := range r.wizards {
		if h.lastSeen.After(cutoff) {
			continue
		}
		reason := CloseIdle
		switch h.inst.View().Phase {
		case wizard.PhaseSubmitting:
			continue
		case wizard.PhaseSubmitted, wizard.PhaseCancelled:
			reason = CloseDone
		}
		idle = append(idle, h)
		reasons = append(reasons, reason)
		delete(r.wizards, id)
	}
	onClose := r.onClose
	r.mu.Unlock()

	for i, h := range idle {
		if reasons[i] == CloseIdle {
			h.inst.Cancel()
		}
		if onClose != nil {
			onClose(h.inst, reasons[i])
		}
	}
	if len(idle) > 0 {
		r.logger.Info("evicted idle wizards", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
