package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// ClaimStore is the slice of the shared store the arbiter needs: an atomic
// check-and-set claim keyed by scheduler object id.
type ClaimStore interface {
	TryClaimScheduler(objectID, masterID int64) (bool, error)
	ReleaseScheduler(objectID, masterID int64) error
}

// ArbiterState is the activation state of one scheduler instance.
type ArbiterState int

const (
	StateInactive ArbiterState = iota
	StatePolling
	StateActive
)

func (s ArbiterState) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateActive:
		return "active"
	default:
		return "inactive"
	}
}

// DefaultPollInterval bounds worst-case failover latency when an owning
// master disappears.
const DefaultPollInterval = 60 * time.Second

// Arbiter arbitrates exactly-once activation of a named scheduler across
// cooperating masters. Each instance polls the shared claim table; the one
// holding the claim runs the activate hook and acts on changes.
type Arbiter struct {
	store      ClaimStore
	objectID   int64
	masterID   int64
	interval   time.Duration
	activate   func() error
	deactivate func() error

	mu     sync.Mutex
	state  ArbiterState
	cancel context.CancelFunc
	done   chan struct{}
}

// ArbiterOpts configures an Arbiter. Activate and Deactivate are best-effort
// hooks: an error from either is logged and does not affect claim state.
type ArbiterOpts struct {
	Store        ClaimStore
	ObjectID     int64
	MasterID     int64
	PollInterval time.Duration
	Activate     func() error
	Deactivate   func() error
}

// NewArbiter builds an arbiter in the inactive state.
func NewArbiter(opts ArbiterOpts) *Arbiter {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Arbiter{
		store:      opts.Store,
		objectID:   opts.ObjectID,
		masterID:   opts.MasterID,
		interval:   interval,
		activate:   opts.Activate,
		deactivate: opts.Deactivate,
	}
}

// Start begins claim polling. The first poll happens immediately, then at
// the configured interval until Stop or context cancellation.
func (a *Arbiter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateInactive {
		a.mu.Unlock()
		return
	}
	a.state = StatePolling
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go func() {
		defer close(a.done)
		a.pollOnce()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				a.pollOnce()
			}
		}
	}()
}

// pollOnce attempts one claim. Polling and activation run on a single
// goroutine, so the activate hook is never invoked concurrently with itself
// and is called at most once without an intervening deactivate.
func (a *Arbiter) pollOnce() {
	a.mu.Lock()
	if a.state == StateInactive {
		a.mu.Unlock()
		return
	}
	alreadyActive := a.state == StateActive
	a.mu.Unlock()

	owned, err := a.store.TryClaimScheduler(a.objectID, a.masterID)
	if err != nil {
		log.Printf("scheduler: claim poll for object %d: %v", a.objectID, err)
		return
	}
	if !owned || alreadyActive {
		return
	}

	a.mu.Lock()
	a.state = StateActive
	a.mu.Unlock()

	if a.activate != nil {
		if err := a.activate(); err != nil {
			log.Printf("scheduler: activate hook for object %d: %v", a.objectID, err)
		}
	}
}

// Stop halts polling. If active, the deactivate hook runs and the claim is
// released before the state returns to inactive.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	if a.state == StateInactive {
		a.mu.Unlock()
		return
	}
	wasActive := a.state == StateActive
	a.state = StateInactive
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if wasActive {
		if a.deactivate != nil {
			if err := a.deactivate(); err != nil {
				log.Printf("scheduler: deactivate hook for object %d: %v", a.objectID, err)
			}
		}
		if err := a.store.ReleaseScheduler(a.objectID, a.masterID); err != nil {
			log.Printf("scheduler: release claim for object %d: %v", a.objectID, err)
		}
	}
}

// IsActive reports whether this instance currently owns the claim.
func (a *Arbiter) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateActive
}

// State returns the current arbiter state.
func (a *Arbiter) State() ArbiterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
