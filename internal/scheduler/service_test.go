package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-ci/switchyard/internal/models"
)

func TestServiceTriggerAbsorbsPendingChanges(t *testing.T) {
	e := newTestEnv(t)
	e.addBuilder(t, "linux")

	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})
	svc := NewService(s, 1, ConsumeOpts{})

	unimportant1 := e.addChange(t, "lib", "aaa", nil)
	unimportant2 := e.addChange(t, "lib", "bbb", nil)
	important := e.addChange(t, "app", "ccc", nil)

	deliver := func(id int64, imp bool) {
		c, err := e.store.GetChange(id)
		require.NoError(t, err)
		require.NoError(t, svc.Consume.Handler(c, imp))
	}

	deliver(unimportant1, false)
	deliver(unimportant2, false)

	sets, err := e.store.RecentBuildsets(10)
	require.NoError(t, err)
	assert.Empty(t, sets, "unimportant changes alone never trigger")

	deliver(important, true)

	sets, err = e.store.RecentBuildsets(10)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "The trunk scheduler triggered this build", sets[0].Reason)

	// The triggered buildset carries the absorbed changes' stamps too.
	stamps, err := e.store.SourceStampsForBuildset(sets[0].ID)
	require.NoError(t, err)
	require.Len(t, stamps, 2)
	byCodebase := map[string]string{}
	for _, ss := range stamps {
		byCodebase[ss.Codebase] = ss.Revision.String
	}
	assert.Equal(t, "bbb", byCodebase["lib"], "latest absorbed change per codebase")
	assert.Equal(t, "ccc", byCodebase["app"])

	// Pending drains on trigger.
	next := e.addChange(t, "app", "ddd", nil)
	deliver(next, true)

	sets, err = e.store.RecentBuildsets(10)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	stamps, err = e.store.SourceStampsForBuildset(sets[0].ID)
	require.NoError(t, err)
	require.Len(t, stamps, 1)
	assert.Equal(t, "ddd", stamps[0].Revision.String)
}

func TestServiceCustomHandlerKept(t *testing.T) {
	e := newTestEnv(t)
	s := newTestScheduler(t, e, Config{Name: "trunk", BuilderNames: []interface{}{"linux"}})

	var got []int64
	svc := NewService(s, 1, ConsumeOpts{
		Handler: func(c *models.Change, important bool) error {
			got = append(got, c.ID)
			return nil
		},
	})

	id := e.addChange(t, "lib", "aaa", nil)
	c, err := e.store.GetChange(id)
	require.NoError(t, err)
	require.NoError(t, svc.Consume.Handler(c, true))
	assert.Equal(t, []int64{id}, got)

	sets, err := e.store.RecentBuildsets(10)
	require.NoError(t, err)
	assert.Empty(t, sets, "a custom handler replaces the default trigger policy")
}

func TestServiceLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.addBuilder(t, "linux")

	s := newTestScheduler(t, e, Config{
		Name:         "trunk",
		BuilderNames: []interface{}{"linux"},
		PollInterval: 5 * time.Millisecond,
	})
	svc := NewService(s, 1, ConsumeOpts{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	assert.Error(t, svc.Start(ctx), "double start is rejected")

	// The only contender wins the claim and begins consuming.
	deadline := time.Now().Add(2 * time.Second)
	for !svc.IsActive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, svc.IsActive())

	important := e.addChange(t, "lib", "aaa", nil)
	publishChange(e, important)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sets, err := e.store.RecentBuildsets(1)
		require.NoError(t, err)
		if len(sets) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	sets, err := e.store.RecentBuildsets(1)
	require.NoError(t, err)
	require.Len(t, sets, 1, "an active service turns published changes into buildsets")

	svc.Stop()
	assert.False(t, svc.IsActive())
	svc.Stop() // idempotent
}
