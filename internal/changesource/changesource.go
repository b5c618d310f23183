// Package changesource ingests source-control changes into the cluster.
// Each source records new changes through the Recorder, which persists them
// and announces them on the event bus for scheduler consumption.
package changesource

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/switchyard-ci/switchyard/internal/bus"
	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/models"
)

// Source is one running ingester of changes.
type Source interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// ChangeEntry is the raw material of one recorded change.
type ChangeEntry struct {
	Author     string
	Committer  string
	Revision   string
	Branch     sql.NullString
	Category   string
	Codebase   string
	Repository string
	Project    string
	Comments   string
	When       time.Time
	Files      []string
	Properties map[string]interface{}
}

// Recorder persists changes and publishes their arrival.
type Recorder struct {
	store  *db.Store
	broker *bus.Broker
}

// NewRecorder builds a recorder over the store and broker.
func NewRecorder(store *db.Store, broker *bus.Broker) *Recorder {
	return &Recorder{store: store, broker: broker}
}

// RecordChange creates the change's sourcestamp, stores the change, and
// publishes a changes/<id>/new event. Returns the new change id.
func (r *Recorder) RecordChange(e ChangeEntry) (int64, error) {
	ssid, err := r.store.InsertSourceStamp(&db.StampFields{
		Codebase:   e.Codebase,
		Repository: e.Repository,
		Branch:     e.Branch,
		Revision:   sql.NullString{String: e.Revision, Valid: e.Revision != ""},
		Project:    e.Project,
	})
	if err != nil {
		return 0, fmt.Errorf("changesource: sourcestamp for revision %q: %w", e.Revision, err)
	}

	props := make(map[string]models.PropertyValue, len(e.Properties))
	for name, value := range e.Properties {
		props[name] = models.PropertyValue{Value: value, Source: "Change"}
	}

	when := e.When
	if when.IsZero() {
		when = time.Now()
	}
	c := models.Change{
		Author:        e.Author,
		Committer:     e.Committer,
		Revision:      e.Revision,
		Branch:        e.Branch,
		Category:      e.Category,
		Codebase:      e.Codebase,
		Repository:    e.Repository,
		Project:       e.Project,
		Comments:      e.Comments,
		SourceStampID: ssid,
		When:          when,
		Files:         e.Files,
		Properties:    props,
	}
	if err := r.store.AddChange(&c); err != nil {
		return 0, fmt.Errorf("changesource: record change for revision %q: %w", e.Revision, err)
	}

	r.broker.Publish(
		bus.Topic{Scope: "changes", ID: strconv.FormatInt(c.ID, 10), Verb: "new"},
		c.ID,
	)
	return c.ID, nil
}
