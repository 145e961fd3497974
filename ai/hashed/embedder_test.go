package hashed

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/poiesic/pagerag/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(t *testing.T, dim int) *Embedder {
	t.Helper()
	e, err := newEmbedder(ai.NewConfig(ai.WithDimensions(dim), ai.WithWorkers(3)))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEmbedder_Deterministic(t *testing.T) {
	e := newTestEmbedder(t, 64)
	ctx := context.Background()

	for _, text := range []string{"", "hello", "日本語", "Foo\n\nhello\nworld"} {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			a, err := e.EmbedText(ctx, text)
			require.NoError(t, err)
			b, err := e.EmbedText(ctx, text)
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.Len(t, a, 64)
			assert.InDelta(t, 1.0, l2(a), 1e-5)
			assert.InDelta(t, 1.0, ai.Similarity(a, a), 1e-5)
		})
	}
}

func TestEmbedder_DistinctTexts(t *testing.T) {
	e := newTestEmbedder(t, 128)
	a, err := e.EmbedText(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := e.EmbedText(context.Background(), "beta")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Less(t, ai.Similarity(a, b), 0.99)
}

func TestEmbedder_EmbedTextsPreservesOrder(t *testing.T) {
	e := newTestEmbedder(t, 32)
	ctx := context.Background()

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	batch, err := e.EmbedTexts(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.EmbedText(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "index %d", i)
	}
}

func TestEmbedder_CanceledContext(t *testing.T) {
	e := newTestEmbedder(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedText(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = e.EmbedTexts(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedder_ModelInfo(t *testing.T) {
	e := newTestEmbedder(t, 16)
	info := e.ModelInfo()
	assert.Equal(t, ai.ProviderHashed, info.Provider)
	assert.Equal(t, 16, info.Dimension)
	assert.Equal(t, "hashed-v1", info.ModelID)
}

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
