package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})

	return store
}

// createTestConnector saves a connector to satisfy foreign key constraints.
func createTestConnector(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.ConnectorStore().Save(context.Background(), domain.Connector{
		ID:     id,
		Type:   "fints",
		Name:   "Test Connector " + id,
		Config: map[string]string{},
	})
	require.NoError(t, err)
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	store := setupTestStore(t)

	assert.NotEmpty(t, store.Path())
	assert.FileExists(t, store.Path())
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening the same database must not re-run applied migrations.
	store, err = NewStore(dir)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestConnectorStore_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	connectors := store.ConnectorStore()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := connectors.Save(ctx, domain.Connector{
		ID:   "conn-1",
		Type: "fints",
		Name: "Girokonto",
		Config: map[string]string{
			"endpoint": "https://fints.example.com/hbci",
		},
		CreatedAt: created,
		UpdatedAt: created,
	})
	require.NoError(t, err)

	got, err := connectors.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.ID)
	assert.Equal(t, "fints", got.Type)
	assert.Equal(t, "Girokonto", got.Name)
	assert.Equal(t, "https://fints.example.com/hbci", got.Config["endpoint"])
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestConnectorStore_SaveUpdatesExisting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	connectors := store.ConnectorStore()

	createTestConnector(t, store, "conn-1")

	original, err := connectors.Get(ctx, "conn-1")
	require.NoError(t, err)

	original.Name = "Renamed"
	original.LastError = "authentication failed"
	original.UpdatedAt = original.UpdatedAt.Add(time.Hour)
	require.NoError(t, connectors.Save(ctx, *original))

	got, err := connectors.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "authentication failed", got.LastError)

	list, err := connectors.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConnectorStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.ConnectorStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConnectorStore_ListOrderedByCreation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	connectors := store.ConnectorStore()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	offsets := map[string]time.Duration{"first": 0, "second": time.Minute, "third": 2 * time.Minute}
	// Insert out of creation order to exercise the ORDER BY.
	for _, id := range []string{"third", "first", "second"} {
		require.NoError(t, connectors.Save(ctx, domain.Connector{
			ID:        id,
			Type:      "tokenapi",
			Name:      id,
			Config:    map[string]string{},
			CreatedAt: base.Add(offsets[id]),
			UpdatedAt: base.Add(offsets[id]),
		}))
	}

	list, err := connectors.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, "second", list[1].ID)
	assert.Equal(t, "third", list[2].ID)
}

func TestConnectorStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	connectors := store.ConnectorStore()

	createTestConnector(t, store, "conn-1")
	require.NoError(t, connectors.Delete(ctx, "conn-1"))

	_, err := connectors.Get(ctx, "conn-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, connectors.Delete(ctx, "conn-1"))
}

func TestSyncStateStore_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	syncs := store.SyncStateStore()

	createTestConnector(t, store, "conn-1")

	state := domain.SyncState{
		ConnectorID: "conn-1",
		LastStart:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		LastEnd:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		LastFetch:   time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC),
	}
	require.NoError(t, syncs.Save(ctx, state))

	got, err := syncs.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, got.LastStart.Equal(state.LastStart))
	assert.True(t, got.LastEnd.Equal(state.LastEnd))
	assert.True(t, got.LastFetch.Equal(state.LastFetch))
}

func TestSyncStateStore_SaveAdvancesWindow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	syncs := store.SyncStateStore()

	createTestConnector(t, store, "conn-1")

	first := domain.SyncState{
		ConnectorID: "conn-1",
		LastStart:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		LastEnd:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		LastFetch:   time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC),
	}
	require.NoError(t, syncs.Save(ctx, first))

	second := first
	second.LastStart = second.LastStart.AddDate(0, 1, 0)
	second.LastEnd = second.LastEnd.AddDate(0, 1, 0)
	second.LastFetch = second.LastFetch.AddDate(0, 1, 0)
	require.NoError(t, syncs.Save(ctx, second))

	got, err := syncs.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, got.LastEnd.Equal(second.LastEnd))
}

func TestSyncStateStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.SyncStateStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImportLogStore_RecordAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	log := store.ImportLogStore()

	base := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, log.Record(ctx, domain.ImportRecord{
			ID:         id,
			Path:       "/drop/export-" + id + ".csv",
			Stats:      domain.ImportStats{TotalRows: 10, Imported: 8, Skipped: 2},
			ImportedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	records, err := log.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	assert.Equal(t, "b3", records[0].ID)
	assert.Equal(t, 8, records[0].Stats.Imported)

	limited, err := log.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, []string{"b3", "b2"}, []string{limited[0].ID, limited[1].ID})
}

func TestSyncStateStore_DeletedWithConnector(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestConnector(t, store, "conn-1")
	require.NoError(t, store.SyncStateStore().Save(ctx, domain.SyncState{
		ConnectorID: "conn-1",
		LastStart:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		LastEnd:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		LastFetch:   time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC),
	}))

	require.NoError(t, store.ConnectorStore().Delete(ctx, "conn-1"))

	_, err := store.SyncStateStore().Get(ctx, "conn-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
