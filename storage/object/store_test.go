package object

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/pagerag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.ObjectStore {
	t.Helper()
	base := fmt.Sprintf("mem://localhost/%s-%d", t.Name(), time.Now().UnixNano())
	s, err := NewStore(base)
	require.NoError(t, err)
	return s
}

func TestNewStore(t *testing.T) {
	_, err := NewStore("  ")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := RawPageKey("proj", "Foo")
	require.NoError(t, s.Put(ctx, key, []byte(`{"title":"Foo"}`)))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Foo"}`, string(data))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Run("overwrite replaces", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, key, []byte(`{"title":"Bar"}`)))
		data, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"Bar"}`, string(data))
	})
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "scrapbox/proj/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := MetadataKey("proj", "Foo")
	require.NoError(t, s.Put(ctx, key, []byte("{}")))
	require.NoError(t, s.Delete(ctx, key))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, title := range []string{"b", "a", "c"} {
		require.NoError(t, s.Put(ctx, RawPageKey("proj", title), []byte("{}")))
	}
	require.NoError(t, s.Put(ctx, RawPageKey("other", "x"), []byte("{}")))
	require.NoError(t, s.Put(ctx, MetadataKey("proj", "a"), []byte("{}")))

	keys, err := s.List(ctx, RawPagePrefix("proj"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"scrapbox/proj/a.json",
		"scrapbox/proj/b.json",
		"scrapbox/proj/c.json",
	}, keys)

	empty, err := s.List(ctx, RawPagePrefix("nothing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_JSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	type doc struct {
		Title string `json:"title"`
	}
	require.NoError(t, storage.PutJSON(ctx, s, "k.json", doc{Title: "ページ"}))

	var got doc
	require.NoError(t, storage.GetJSON(ctx, s, "k.json", &got))
	assert.Equal(t, "ページ", got.Title)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "scrapbox/proj/Foo.json", RawPageKey("proj", "Foo"))
	assert.Equal(t, "metadata/proj/Foo.json", MetadataKey("proj", "Foo"))

	title, ok := TitleFromRawKey("proj", "scrapbox/proj/Foo Bar.json")
	assert.True(t, ok)
	assert.Equal(t, "Foo Bar", title)

	_, ok = TitleFromRawKey("proj", "metadata/proj/Foo.json")
	assert.False(t, ok)
}
