package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

func TestConnectorStore_SaveGetDelete(t *testing.T) {
	store := NewConnectorStore()
	ctx := context.Background()

	c := domain.Connector{ID: "c1", Type: "fints", Name: "My Bank", CreatedAt: time.Now()}
	require.NoError(t, store.Save(ctx, c))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "My Bank", got.Name)

	require.NoError(t, store.Delete(ctx, "c1"))
	_, err = store.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConnectorStore_ListOrderedByCreation(t *testing.T) {
	store := NewConnectorStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Save(ctx, domain.Connector{ID: "b", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Save(ctx, domain.Connector{ID: "a", CreatedAt: base}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestSyncStateStore_RoundTrip(t *testing.T) {
	store := NewSyncStateStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	state := domain.SyncState{ConnectorID: "c1", LastFetch: time.Now()}
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConnectorID)

	require.NoError(t, store.Delete(ctx, "c1"))
	_, err = store.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImportLogStore_NewestFirstWithLimit(t *testing.T) {
	store := NewImportLogStore()
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, store.Record(ctx, domain.ImportRecord{ID: id, Path: id + ".csv"}))
	}

	records, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b3", records[0].ID)
	assert.Equal(t, "b2", records[1].ID)
}
