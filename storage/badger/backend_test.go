package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir+"/nested", false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestBackend_ScanAndDelete(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	keys := [][]byte{
		makeVectorKey("ns", "a"),
		makeVectorKey("ns", "b"),
		makeVectorKey("ns2", "a"),
	}
	wb := backend.db.NewWriteBatch()
	for _, k := range keys {
		require.NoError(t, wb.Set(k, []byte("v")))
	}
	require.NoError(t, wb.Flush())

	count := func(ns string) int {
		n := 0
		require.NoError(t, backend.scanPrefix(makeVectorNamespacePrefix(ns), func(_, _ []byte) error {
			n++
			return nil
		}))
		return n
	}
	assert.Equal(t, 2, count("ns"))
	assert.Equal(t, 1, count("ns2"))

	require.NoError(t, backend.deleteKeys(keys[:2]))
	assert.Equal(t, 0, count("ns"))
	assert.Equal(t, 1, count("ns2"))

	assert.NoError(t, backend.deleteKeys(nil))
}

func TestKeys_NamespaceIsolation(t *testing.T) {
	// "a" must not be a prefix of "ab"
	assert.NotEqual(t,
		string(makeVectorNamespacePrefix("a")),
		string(makeVectorKey("ab", ""))[:len(makeVectorNamespacePrefix("a"))])
	assert.Equal(t, "jobrec:x", string(makeJobKey("x")))
}
