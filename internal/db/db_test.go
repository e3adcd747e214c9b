package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "state", "hostfleet.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func web(id string) types.InstanceRef {
	return types.InstanceRef{Family: types.FamilyWeb, Identifier: id}
}

func entry(ref types.InstanceRef, op types.Operation, outcome types.Outcome) types.TimelineEntry {
	return types.TimelineEntry{BatchID: "b1", Instance: ref, Operation: op, Outcome: outcome}
}

func TestDefaultConfig_DSN(t *testing.T) {
	cfg := DefaultConfig("/var/lib/hostfleet/hostfleet.db")
	assert.Equal(t,
		"/var/lib/hostfleet/hostfleet.db?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on",
		cfg.DSN())
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrDatabaseConnection))
}

func TestMigrate_IsRepeatable(t *testing.T) {
	database := setupDB(t)
	require.NoError(t, database.Migrate())

	version, dirty, err := database.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.NoError(t, database.HealthCheck(context.Background()))
}

func TestTimeline_AppendAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewTimelineStore(setupDB(t)).WithClock(stepClock(epoch))

	first, err := store.Append(ctx, entry(web("7043"), types.OpDeploy, types.OutcomeSuccess))
	require.NoError(t, err)
	second, err := store.Append(ctx, entry(web("7044"), types.OpDeploy, types.OutcomeSuccess))
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, epoch, first.Timestamp)
	assert.Equal(t, epoch.Add(time.Second), second.Timestamp)
}

func TestTimeline_AppendRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	store := NewTimelineStore(setupDB(t))

	tests := []struct {
		name  string
		entry types.TimelineEntry
	}{
		{"unknown family", entry(types.InstanceRef{Family: "vm", Identifier: "1"}, types.OpDeploy, types.OutcomeSuccess)},
		{"missing identifier", entry(types.InstanceRef{Family: types.FamilyWeb}, types.OpDeploy, types.OutcomeSuccess)},
		{"unknown operation", entry(web("1"), "reboot", types.OutcomeSuccess)},
		{"unknown outcome", entry(web("1"), types.OpDeploy, "maybe")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Append(ctx, tt.entry)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidInput))
		})
	}
}

func TestTimeline_IsAppendOnly(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	store := NewTimelineStore(database)

	_, err := store.Append(ctx, entry(web("7043"), types.OpDeploy, types.OutcomeSuccess))
	require.NoError(t, err)

	_, err = database.ExecContext(ctx, "UPDATE timeline SET outcome = 'failure'")
	assert.ErrorContains(t, err, "append-only")

	_, err = database.ExecContext(ctx, "DELETE FROM timeline")
	assert.ErrorContains(t, err, "append-only")

	entries, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.OutcomeSuccess, entries[0].Outcome)
}

func TestTimeline_QueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewTimelineStore(setupDB(t)).WithClock(stepClock(epoch))
	valkey := types.InstanceRef{Family: types.FamilyService, Package: "valkey", Identifier: "6379"}

	for _, e := range []types.TimelineEntry{
		entry(web("7043"), types.OpDeploy, types.OutcomeSuccess),
		entry(web("7044"), types.OpDeploy, types.OutcomeFailure),
		{BatchID: "b2", Instance: valkey, Operation: types.OpDeploy, Outcome: types.OutcomeSuccess},
		{BatchID: "b2", Instance: web("7043"), Operation: types.OpRestart, Outcome: types.OutcomeSuccess},
	} {
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, types.OpRestart, all[0].Operation, "newest first")
	assert.Equal(t, "7043", all[3].Instance.Identifier)

	byInstance, err := store.Query(ctx, Filter{Family: types.FamilyWeb, Identifier: "7043"})
	require.NoError(t, err)
	assert.Len(t, byInstance, 2)

	byOp, err := store.Query(ctx, Filter{Operation: types.OpRestart})
	require.NoError(t, err)
	assert.Len(t, byOp, 1)

	byBatch, err := store.Query(ctx, Filter{BatchID: "b2"})
	require.NoError(t, err)
	assert.Len(t, byBatch, 2)

	byPackage, err := store.Query(ctx, Filter{Package: "valkey"})
	require.NoError(t, err)
	require.Len(t, byPackage, 1)
	assert.Equal(t, valkey, byPackage[0].Instance)

	since, err := store.Query(ctx, Filter{Since: epoch.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	window, err := store.Query(ctx, Filter{Since: epoch.Add(time.Second), Until: epoch.Add(3 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, err := store.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTimeline_LastKnown(t *testing.T) {
	ctx := context.Background()
	store := NewTimelineStore(setupDB(t))
	worker := types.InstanceRef{Family: types.FamilyWorker, Identifier: "1"}

	for _, e := range []types.TimelineEntry{
		entry(web("7043"), types.OpDeploy, types.OutcomeSuccess),
		entry(web("7044"), types.OpDeploy, types.OutcomeSuccess),
		entry(web("7045"), types.OpDeploy, types.OutcomeSuccess),
		entry(web("7046"), types.OpDeploy, types.OutcomeSuccess),
		entry(web("7043"), types.OpUndeploy, types.OutcomeSuccess),
		entry(web("7045"), types.OpRestart, types.OutcomeFailure),
		entry(web("7046"), types.OpStop, types.OutcomeSuccess),
		entry(worker, types.OpDeploy, types.OutcomeSuccess),
	} {
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}

	refs, err := store.LastKnown(ctx, types.FamilyWeb)
	require.NoError(t, err)
	assert.Equal(t, []types.InstanceRef{web("7044"), web("7046")}, refs)

	all, err := store.LastKnown(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []types.InstanceRef{web("7044"), web("7046"), worker}, all)
}

func TestTimeline_LatestNotFound(t *testing.T) {
	store := NewTimelineStore(setupDB(t))
	_, err := store.Latest(context.Background(), web("9000"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestAliases_SetCurrentMovesPreviousToRollback(t *testing.T) {
	ctx := context.Background()
	aliases := NewAliasStore(setupDB(t)).WithClock(stepClock(epoch))

	previous, err := aliases.SetCurrent(ctx, "ghcr.io/example/app", "v1")
	require.NoError(t, err)
	assert.Nil(t, previous)

	previous, err = aliases.SetCurrent(ctx, "ghcr.io/example/app", "v2")
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, "v1", previous.Tag)

	current, err := aliases.Alias(ctx, AliasCurrent)
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/example/app:v2", current.Reference())

	rollback, err := aliases.Alias(ctx, AliasRollback)
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/example/app:v1", rollback.Reference())

	all, err := aliases.Aliases(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, AliasCurrent, all[0].Alias)

	events, err := aliases.Events(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "previous: ghcr.io/example/app:v1", events[0].Detail)
}

func TestAliases_SetCurrentRequiresImageAndTag(t *testing.T) {
	aliases := NewAliasStore(setupDB(t))
	_, err := aliases.SetCurrent(context.Background(), "", "v1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidInput))
}

func TestAliases_RollbackUsesDeploymentHistory(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	clock := stepClock(epoch)
	timeline := NewTimelineStore(database).WithClock(clock)
	aliases := NewAliasStore(database).WithClock(clock)

	rolled, err := aliases.Rollback(ctx)
	require.NoError(t, err)
	assert.Nil(t, rolled, "no history")

	deploy := func(tag string, outcome types.Outcome) {
		e := entry(web("7043"), types.OpDeploy, outcome)
		e.Image, e.Tag = "ghcr.io/example/app", tag
		_, err := timeline.Append(ctx, e)
		require.NoError(t, err)
	}

	deploy("v1", types.OutcomeSuccess)
	deploy("v2", types.OutcomeSuccess)
	deploy("v3", types.OutcomeFailure)
	_, err = aliases.SetCurrent(ctx, "ghcr.io/example/app", "v2")
	require.NoError(t, err)

	tags, err := aliases.PreviousTags(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "v2", tags[0].Tag)
	assert.Equal(t, "v1", tags[1].Tag)

	rolled, err = aliases.Rollback(ctx)
	require.NoError(t, err)
	require.NotNil(t, rolled)
	assert.Equal(t, "v1", rolled.Tag)

	current, err := aliases.Alias(ctx, AliasCurrent)
	require.NoError(t, err)
	assert.Equal(t, "v1", current.Tag)
	rollback, err := aliases.Alias(ctx, AliasRollback)
	require.NoError(t, err)
	assert.Equal(t, "v2", rollback.Tag)
}

func TestAliases_ResolveTag(t *testing.T) {
	ctx := context.Background()
	aliases := NewAliasStore(setupDB(t))

	image, tag, err := aliases.ResolveTag(ctx, "ghcr.io/example/app", "v9")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/example/app", image)
	assert.Equal(t, "v9", tag)

	_, _, err = aliases.ResolveTag(ctx, "ghcr.io/example/app", "current")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	_, err = aliases.SetCurrent(ctx, "registry.local/app", "v4")
	require.NoError(t, err)

	image, tag, err = aliases.ResolveTag(ctx, "ghcr.io/example/app", "current")
	require.NoError(t, err)
	assert.Equal(t, "registry.local/app", image)
	assert.Equal(t, "v4", tag)
}
