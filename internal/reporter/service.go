package reporter

import (
	"context"
	"fmt"
	"log"

	"github.com/switchyard-ci/switchyard/internal/bus"
	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/logstore"
	"github.com/switchyard-ci/switchyard/internal/results"
)

// Dispatch receives an assembled message for delivery.
type Dispatch func(ctx context.Context, msg *Message)

// ServiceOpts holds parameters for creating a reporter Service.
type ServiceOpts struct {
	Store     *db.Store
	Logs      *logstore.Store // optional; when nil messages carry no logs
	Broker    *bus.Broker
	Generator *Generator
	Formatter Formatter
	Title     string // project title used in subjects
	Dispatch  Dispatch
}

// Service listens for finished builds and turns the ones the generator
// accepts into dispatched messages.
type Service struct {
	store     *db.Store
	logs      *logstore.Store
	broker    *bus.Broker
	generator *Generator
	formatter Formatter
	title     string
	dispatch  Dispatch

	sub *bus.Subscription
}

// NewService validates opts and builds a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("reporter: store is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("reporter: broker is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("reporter: generator is required")
	}
	if opts.Formatter == nil {
		return nil, fmt.Errorf("reporter: formatter is required")
	}
	if opts.Dispatch == nil {
		return nil, fmt.Errorf("reporter: dispatch is required")
	}
	return &Service{
		store:     opts.Store,
		logs:      opts.Logs,
		broker:    opts.Broker,
		generator: opts.Generator,
		formatter: opts.Formatter,
		title:     opts.Title,
		dispatch:  opts.Dispatch,
	}, nil
}

// Start subscribes to finished-build events.
func (s *Service) Start() error {
	sub, err := s.broker.Subscribe(
		bus.Topic{Scope: "builds", ID: bus.Wildcard, Verb: "finished"},
		s.handleEvent,
	)
	if err != nil {
		return fmt.Errorf("reporter: subscribe to finished builds: %w", err)
	}
	s.sub = sub
	return nil
}

// Stop unsubscribes; pending events drain before Stop returns.
func (s *Service) Stop() {
	if s.sub != nil {
		s.broker.Unsubscribe(s.sub)
		s.sub = nil
	}
}

func (s *Service) handleEvent(ev bus.Event) {
	buildID, ok := ev.Payload.(int64)
	if !ok {
		log.Printf("reporter: unexpected payload %T on %s", ev.Payload, ev.Topic)
		return
	}
	if err := s.ReportBuild(context.Background(), buildID); err != nil {
		log.Printf("reporter: report build %d: %v", buildID, err)
	}
}

// ReportBuild loads one finished build and dispatches a message when the
// generator's filters accept it.
func (s *Service) ReportBuild(ctx context.Context, buildID int64) error {
	b, err := s.LoadBuild(buildID)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}

	if !s.generator.IsMessageNeededByProps(b) || !s.generator.IsMessageNeededByResults(b) {
		return nil
	}

	msg, err := s.generator.BuildMessage(s.formatter, s.title, b)
	if err != nil {
		return err
	}
	s.dispatch(ctx, msg)
	return nil
}

// ReportBuildset batches all completed builds of a buildset into a single
// message; it is dispatched when any build passes the generator's filters.
func (s *Service) ReportBuildset(ctx context.Context, bsid int64) error {
	rows, err := s.store.BuildsForBuildset(bsid)
	if err != nil {
		return err
	}

	var builds []*Build
	needed := false
	for _, row := range rows {
		if row.Results == nil {
			continue
		}
		b, err := s.LoadBuild(row.ID)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		builds = append(builds, b)
		if s.generator.IsMessageNeededByProps(b) && s.generator.IsMessageNeededByResults(b) {
			needed = true
		}
	}
	if !needed || len(builds) == 0 {
		return nil
	}

	msg, err := s.generator.BuildBuildsetMessage(s.formatter, s.title, builds)
	if err != nil {
		return err
	}
	s.dispatch(ctx, msg)
	return nil
}

// LoadBuild assembles the report view of one build: builder, buildset and
// sourcestamps, properties, previous result, logs, and blamelist. Returns
// nil for a build that has not completed.
func (s *Service) LoadBuild(buildID int64) (*Build, error) {
	row, err := s.store.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	if row.Results == nil {
		return nil, nil
	}

	b := &Build{
		ID: row.ID,
		Builder: BuilderInfo{
			Name: row.Builder.Name,
			Tags: row.Builder.Tags,
		},
		Results:     results.Code(*row.Results),
		StateString: row.StateString,
	}

	prev, err := s.store.PreviousBuildResult(row.BuilderID, row.ID)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		code := results.Code(*prev)
		b.PrevResults = &code
	}

	bsid := row.BuildRequest.BuildsetID
	bs, err := s.store.GetBuildset(bsid)
	if err != nil {
		return nil, err
	}
	b.Properties = bs.Properties

	stamps, err := s.store.SourceStampsForBuildset(bsid)
	if err != nil {
		return nil, err
	}
	info := &BuildsetInfo{ID: bsid, Reason: bs.Reason}
	for _, ss := range stamps {
		si := SourceStampInfo{
			Codebase:   ss.Codebase,
			Repository: ss.Repository,
			Branch:     ss.Branch,
			Revision:   ss.Revision,
			Project:    ss.Project,
		}
		if ss.Patch != nil {
			si.Patch = ss.Patch
		}
		info.SourceStamps = append(info.SourceStamps, si)
	}
	b.Buildset = info

	blamelist, err := s.store.BlamelistForBuildset(bsid)
	if err != nil {
		return nil, err
	}
	b.Blamelist = blamelist

	if s.logs != nil {
		entries, err := s.logs.LogsForBuild(buildID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			b.Logs = append(b.Logs, LogInfo{
				Name:       e.Log.Name,
				Content:    e.Content,
				HasContent: e.Content != "",
			})
		}
	}

	return b, nil
}
