package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartsync/backend/internal/domain"
)

func sampleRecord() *domain.StagingRecord {
	created := time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC)
	return &domain.StagingRecord{
		CycleID:   "7c1f4a2e-0000-4000-8000-000000000001",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
		Items: []domain.StagedItem{
			{Item: domain.NewRawItem("eggs", 2, "a2"), State: domain.StagedPending},
			{Item: domain.NewRawItem("milk", 1, ""), State: domain.StagedAdded},
		},
	}
}

func TestFileStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "staging.json")
	store := NewFileStore(path, nil)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, domain.ErrStagingNotFound)

	record := sampleRecord()
	require.NoError(t, store.Save(ctx, record))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.CycleID, loaded.CycleID)
	assert.True(t, record.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, record.Items, loaded.Items)
	assert.Equal(t, []domain.RawItem{domain.NewRawItem("eggs", 2, "a2")}, loaded.Pending())
	assert.Equal(t, []domain.RawItem{domain.NewRawItem("milk", 1, "")}, loaded.AwaitingClear())

	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, domain.ErrStagingNotFound)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx))
}

func TestFileStore_SaveReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "staging.json"), nil)

	first := sampleRecord()
	require.NoError(t, store.Save(ctx, first))

	second := sampleRecord()
	second.Items = second.Items[:1]
	require.NoError(t, store.Save(ctx, second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, "staging.json", entries[0].Name())
}

func TestFileStore_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"cycleId": "abc", "items": [`},
		{"not json", "hello"},
		{"unknown state", `{"cycleId":"abc","items":[{"item":{"name":"milk","quantity":1},"state":"shipped"}]}`},
		{"missing name", `{"cycleId":"abc","items":[{"item":{"quantity":1},"state":"pending"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "staging.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := NewFileStore(path, nil).Load(context.Background())
			require.ErrorIs(t, err, domain.ErrStagingCorrupt)
		})
	}
}

func TestFileStore_SaveNil(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "staging.json"), nil)
	assert.Error(t, store.Save(context.Background(), nil))
}
