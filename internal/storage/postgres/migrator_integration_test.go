package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	requireState := func(version int64, applied, pending int) {
		t.Helper()
		state, err := store.MigrationStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, version, state.Version)
		require.Equal(t, applied, state.Applied)
		require.Len(t, state.Pending, pending)
	}

	require.NoError(t, store.MigrateDown(ctx, 100))
	requireState(0, 0, 4)

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireState(4, 4, 0)

	// Повторный up ничего не меняет.
	require.NoError(t, store.MigrateUp(ctx, 0))
	requireState(4, 4, 0)

	require.NoError(t, store.MigrateDown(ctx, 1))
	requireState(3, 3, 1)

	require.NoError(t, store.MigrateUp(ctx, 1))
	requireState(4, 4, 0)

	require.Error(t, store.migrate(ctx, Direction("sideways"), 0))
}
