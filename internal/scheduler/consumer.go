package scheduler

import (
	"fmt"
	"log"

	"github.com/switchyard-ci/switchyard/internal/bus"
	"github.com/switchyard-ci/switchyard/internal/change"
	"github.com/switchyard-ci/switchyard/internal/models"
)

// ConsumeOpts configures change consumption for a scheduler.
type ConsumeOpts struct {
	// FileIsImportant classifies a change; absent means every change is
	// important. An error from the callable drops the change and is logged;
	// it never stops the consumption stream.
	FileIsImportant func(*models.Change) (bool, error)

	// Filter drops changes before importance is evaluated.
	Filter *change.Filter

	// OnlyImportant drops unimportant changes instead of delivering them.
	OnlyImportant bool

	// Handler receives each qualifying (change, important) pair. Handlers
	// run one at a time in event-arrival order.
	Handler ChangeHandler
}

// consumer is one active change subscription.
type consumer struct {
	sub *bus.Subscription
}

// StartConsumingChanges subscribes the scheduler to the new-change event
// stream. Each notification carries a change id which is resolved to a full
// change record exactly once, then filtered, classified, and delivered.
func (s *Scheduler) StartConsumingChanges(opts ConsumeOpts) error {
	if opts.Handler == nil {
		return fmt.Errorf("scheduler: %s: a change handler is required", s.name)
	}
	if s.consumer != nil {
		return fmt.Errorf("scheduler: %s: already consuming changes", s.name)
	}

	sub, err := s.broker.Subscribe(
		bus.Topic{Scope: "changes", ID: bus.Wildcard, Verb: "new"},
		func(ev bus.Event) {
			s.consumeChange(ev, opts)
		},
	)
	if err != nil {
		return fmt.Errorf("scheduler: %s: subscribe: %w", s.name, err)
	}
	s.consumer = &consumer{sub: sub}
	return nil
}

// StopConsumingChanges unsubscribes from the change stream.
func (s *Scheduler) StopConsumingChanges() {
	if s.consumer == nil {
		return
	}
	s.broker.Unsubscribe(s.consumer.sub)
	s.consumer = nil
}

func (s *Scheduler) consumeChange(ev bus.Event, opts ConsumeOpts) {
	changeid, ok := ev.Payload.(int64)
	if !ok {
		log.Printf("scheduler: %s: unexpected change payload %T", s.name, ev.Payload)
		return
	}

	c, err := s.store.GetChange(changeid)
	if err != nil {
		log.Printf("scheduler: %s: resolve change %d: %v", s.name, changeid, err)
		return
	}

	if opts.Filter != nil && !opts.Filter.FilterChange(c) {
		return
	}

	important := true
	if opts.FileIsImportant != nil {
		important, err = opts.FileIsImportant(c)
		if err != nil {
			// A single bad importance callable must never stop the
			// consumption loop: log and drop the change.
			log.Printf("scheduler: %s: fileIsImportant for change %d: %v", s.name, c.ID, err)
			return
		}
	}

	if opts.OnlyImportant && !important {
		return
	}

	if err := opts.Handler(c, important); err != nil {
		log.Printf("scheduler: %s: handle change %d: %v", s.name, c.ID, err)
	}
}
