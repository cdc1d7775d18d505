package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"Local":  local,
		"Memory": NewMemoryStore(),
	}
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Put then Get", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "index.bin", []byte("payload")))

				data, err := store.Get(ctx, "index.bin")
				require.NoError(t, err)
				assert.Equal(t, []byte("payload"), data)
			})

			t.Run("Put replaces atomically", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "meta.bin", []byte("v1")))
				require.NoError(t, store.Put(ctx, "meta.bin", []byte("v2")))

				data, err := store.Get(ctx, "meta.bin")
				require.NoError(t, err)
				assert.Equal(t, []byte("v2"), data)
			})

			t.Run("Get missing", func(t *testing.T) {
				_, err := store.Get(ctx, "nope.bin")
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("Delete", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "gone.bin", []byte("x")))
				require.NoError(t, store.Delete(ctx, "gone.bin"))

				_, err := store.Get(ctx, "gone.bin")
				require.ErrorIs(t, err, ErrNotFound)

				// Deleting again is fine.
				require.NoError(t, store.Delete(ctx, "gone.bin"))
			})

			t.Run("List by prefix", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "snap-index.bin", []byte("a")))
				require.NoError(t, store.Put(ctx, "snap-meta.bin", []byte("b")))
				require.NoError(t, store.Put(ctx, "other.bin", []byte("c")))

				names, err := store.List(ctx, "snap-")
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"snap-index.bin", "snap-meta.bin"}, names)
			})

			t.Run("Nested names", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "snapshots/000001.index.bin", []byte("blob")))

				data, err := store.Get(ctx, "snapshots/000001.index.bin")
				require.NoError(t, err)
				assert.Equal(t, []byte("blob"), data)

				names, err := store.List(ctx, "snapshots/")
				require.NoError(t, err)
				assert.Equal(t, []string{"snapshots/000001.index.bin"}, names)

				require.NoError(t, store.Delete(ctx, "snapshots/000001.index.bin"))
			})
		})
	}
}

func TestLocalStoreRejectsPathEscape(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.Error(t, store.Put(ctx, "../escape.bin", []byte("x")))
	require.Error(t, store.Put(ctx, "a/../../escape.bin", []byte("x")))
	require.Error(t, store.Put(ctx, "/abs.bin", []byte("x")))
	require.Error(t, store.Put(ctx, "", []byte("x")))
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("mutate me")
	require.NoError(t, store.Put(ctx, "b.bin", data))

	data[0] = 'X'

	got, err := store.Get(ctx, "b.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("mutate me"), got)

	// Mutating the returned slice must not affect the stored blob either.
	got[0] = 'Y'
	again, err := store.Get(ctx, "b.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("mutate me"), again)
}
