package scheduler

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ci/switchyard/internal/bus"
	"github.com/switchyard-ci/switchyard/internal/change"
	"github.com/switchyard-ci/switchyard/internal/models"
)

// delivered collects handler invocations across goroutines.
type delivered struct {
	mu      sync.Mutex
	entries []deliveredEntry
}

type deliveredEntry struct {
	id        int64
	important bool
}

func (d *delivered) handler(c *models.Change, important bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, deliveredEntry{id: c.ID, important: important})
	return nil
}

func (d *delivered) snapshot() []deliveredEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]deliveredEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *delivered) waitFor(t *testing.T, n int) []deliveredEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := d.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries, have %d", n, len(d.snapshot()))
	return nil
}

func publishChange(e *testEnv, id int64) {
	e.broker.Publish(bus.Topic{Scope: "changes", ID: strconv.FormatInt(id, 10), Verb: "new"}, id)
}

func TestStartConsumingChangesValidation(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	assert.Error(t, s.StartConsumingChanges(ConsumeOpts{}), "a handler is required")

	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{Handler: d.handler}))
	defer s.StopConsumingChanges()

	assert.Error(t, s.StartConsumingChanges(ConsumeOpts{Handler: d.handler}),
		"a scheduler holds at most one subscription")
}

func TestConsumeDeliversInOrder(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{Handler: d.handler}))
	defer s.StopConsumingChanges()

	first := e.addChange(t, "lib", "aaa", nil)
	second := e.addChange(t, "lib", "bbb", nil)
	publishChange(e, first)
	publishChange(e, second)

	got := d.waitFor(t, 2)
	assert.Equal(t, first, got[0].id)
	assert.Equal(t, second, got[1].id)
	assert.True(t, got[0].important, "changes default to important")
}

func TestConsumeFilterRunsBeforeImportance(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	f, err := change.New(change.Config{
		Codebase: change.FieldSpec{Eq: "lib"},
	})
	require.NoError(t, err)

	classified := 0
	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{
		Filter: f,
		FileIsImportant: func(c *models.Change) (bool, error) {
			classified++
			return true, nil
		},
		Handler: d.handler,
	}))
	defer s.StopConsumingChanges()

	dropped := e.addChange(t, "app", "aaa", nil)
	kept := e.addChange(t, "lib", "bbb", nil)
	publishChange(e, dropped)
	publishChange(e, kept)

	got := d.waitFor(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, kept, got[0].id)
	assert.Equal(t, 1, classified, "filtered-out changes are never classified")
}

func TestConsumeImportanceErrorDropsChange(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{
		FileIsImportant: func(c *models.Change) (bool, error) {
			if c.Revision == "bad" {
				return false, errors.New("boom")
			}
			return true, nil
		},
		Handler: d.handler,
	}))
	defer s.StopConsumingChanges()

	bad := e.addChange(t, "lib", "bad", nil)
	good := e.addChange(t, "lib", "good", nil)
	publishChange(e, bad)
	publishChange(e, good)

	// The erroring change is dropped but the stream keeps flowing.
	got := d.waitFor(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, good, got[0].id)
}

func TestConsumeOnlyImportant(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{
		OnlyImportant: true,
		FileIsImportant: func(c *models.Change) (bool, error) {
			return c.Revision != "docs", nil
		},
		Handler: d.handler,
	}))
	defer s.StopConsumingChanges()

	skipped := e.addChange(t, "lib", "docs", nil)
	kept := e.addChange(t, "lib", "code", nil)
	publishChange(e, skipped)
	publishChange(e, kept)

	got := d.waitFor(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, kept, got[0].id)
}

func TestConsumeUnimportantDelivered(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{
		FileIsImportant: func(c *models.Change) (bool, error) {
			return false, nil
		},
		Handler: d.handler,
	}))
	defer s.StopConsumingChanges()

	id := e.addChange(t, "lib", "docs", nil)
	publishChange(e, id)

	got := d.waitFor(t, 1)
	assert.False(t, got[0].important, "without OnlyImportant the handler sees the classification")
}

func TestStopConsumingChanges(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	var d delivered
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{Handler: d.handler}))

	id := e.addChange(t, "lib", "aaa", nil)
	publishChange(e, id)
	d.waitFor(t, 1)

	s.StopConsumingChanges()
	s.StopConsumingChanges() // idempotent

	publishChange(e, e.addChange(t, "lib", "bbb", nil))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, d.snapshot(), 1, "no deliveries after unsubscribe")

	// A fresh subscription may be started after stopping.
	require.NoError(t, s.StartConsumingChanges(ConsumeOpts{Handler: d.handler}))
	s.StopConsumingChanges()
}
