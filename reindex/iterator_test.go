package reindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/pagerag/storage"
	"github.com/poiesic/pagerag/storage/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.ObjectStore {
	t.Helper()
	store, err := object.NewStore(fmt.Sprintf("mem://localhost/%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano()))
	require.NoError(t, err)
	return store
}

func putKeys(t *testing.T, store storage.ObjectStore, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, store.Put(context.Background(), key, []byte(`{}`)))
	}
}

func TestKeyIterator_Keys(t *testing.T) {
	store := newTestStore(t)
	putKeys(t, store,
		object.RawPageKey(testProject, "B"),
		object.RawPageKey(testProject, "A"),
		object.RawPageKey(testProject, "dir/C"),
		object.RawPageKey("other", "X"),
		object.MetadataKey(testProject, "A"),
		object.RawPagePrefix(testProject)+"notes.txt",
	)

	keys, err := NewKeyIterator(store, testProject, 10).Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		object.RawPageKey(testProject, "A"),
		object.RawPageKey(testProject, "B"),
		object.RawPageKey(testProject, "dir/C"),
	}, keys)
}

func TestKeyIterator_ForEach(t *testing.T) {
	store := newTestStore(t)
	for i := range 7 {
		putKeys(t, store, object.RawPageKey(testProject, fmt.Sprintf("page-%d", i)))
	}

	t.Run("batches", func(t *testing.T) {
		var sizes []int
		err := NewKeyIterator(store, testProject, 3).ForEach(context.Background(), func(keys []string) error {
			sizes = append(sizes, len(keys))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3, 1}, sizes)
	})

	t.Run("non-positive batch size uses default", func(t *testing.T) {
		it := NewKeyIterator(store, testProject, 0)
		assert.Equal(t, DefaultBatchSize, it.batchSize)
	})

	t.Run("stops on error", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := NewKeyIterator(store, testProject, 2).ForEach(context.Background(), func([]string) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := NewKeyIterator(store, testProject, 2).ForEach(ctx, func([]string) error {
			calls++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("empty project", func(t *testing.T) {
		calls := 0
		err := NewKeyIterator(store, "nothing-here", 2).ForEach(context.Background(), func([]string) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, calls)
	})
}
