package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// objectClass is the class under which scheduler object ids are registered.
const objectClass = "scheduler"

// Service runs one scheduler instance: it registers the scheduler's object
// id, arbitrates activation against other masters, and, while active,
// consumes changes and turns important ones into buildsets. Unimportant
// changes are absorbed into the next triggered buildset.
type Service struct {
	Scheduler *Scheduler
	Consume   ConsumeOpts
	MasterID  int64

	mu      sync.Mutex
	pending []int64
	started bool
}

// NewService wires a scheduler to its consumption policy. A nil
// Consume.Handler gets the default trigger policy.
func NewService(s *Scheduler, masterID int64, consume ConsumeOpts) *Service {
	svc := &Service{Scheduler: s, Consume: consume, MasterID: masterID}
	if svc.Consume.Handler == nil {
		svc.Consume.Handler = svc.handleChange
	}
	return svc
}

// Start registers the scheduler object id and begins activation polling.
// Change consumption starts only when this instance wins the claim.
func (svc *Service) Start(ctx context.Context) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.started {
		return fmt.Errorf("scheduler: %s: service already started", svc.Scheduler.name)
	}

	s := svc.Scheduler
	objectID, err := s.store.GetObjectID(s.name, objectClass)
	if err != nil {
		return err
	}
	s.objectID = objectID

	s.arbiter = NewArbiter(ArbiterOpts{
		Store:        s.store,
		ObjectID:     objectID,
		MasterID:     svc.MasterID,
		PollInterval: s.pollInterval,
		Activate: func() error {
			return s.StartConsumingChanges(svc.Consume)
		},
		Deactivate: func() error {
			s.StopConsumingChanges()
			return nil
		},
	})
	s.arbiter.Start(ctx)
	svc.started = true
	return nil
}

// Stop deactivates the scheduler and releases its claim if held.
func (svc *Service) Stop() {
	svc.mu.Lock()
	started := svc.started
	svc.started = false
	svc.mu.Unlock()
	if !started {
		return
	}
	svc.Scheduler.arbiter.Stop()
}

// IsActive reports whether this instance owns the activation claim.
func (svc *Service) IsActive() bool {
	arbiter := svc.Scheduler.arbiter
	return arbiter != nil && arbiter.IsActive()
}

// handleChange is the default per-change policy: unimportant changes
// accumulate; an important change triggers one buildset carrying it and
// every absorbed change seen since the last trigger.
func (svc *Service) handleChange(c *models.Change, important bool) error {
	svc.mu.Lock()
	svc.pending = append(svc.pending, c.ID)
	if !important {
		svc.mu.Unlock()
		return nil
	}
	changeids := svc.pending
	svc.pending = nil
	svc.mu.Unlock()

	reason := fmt.Sprintf("The %s scheduler triggered this build", svc.Scheduler.name)
	_, _, err := svc.Scheduler.AddBuildsetForChanges(reason, changeids, false, BuildsetOpts{})
	return err
}
