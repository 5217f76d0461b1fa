package subscription

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope", "subs.json"))
	subs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "subs.json")
	s := NewFileStore(path)

	require.NoError(t, s.Upsert("u1", Endpoint(`{"endpoint":"https://push.example/1"}`)))
	require.NoError(t, s.Upsert("u2", Endpoint(`{"endpoint":"https://push.example/2"}`)))
	require.NoError(t, s.Upsert("u1", Endpoint(`{"endpoint":"https://push.example/1b"}`)))

	reopened := NewFileStore(path)
	subs, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.JSONEq(t, `{"endpoint":"https://push.example/1b"}`, string(subs["u1"]))

	require.NoError(t, reopened.Delete("u2"))
	require.NoError(t, reopened.Delete("missing"))

	subs, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Contains(t, subs, "u1")
}

func TestFileStoreWritesPlainObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.json")
	s := NewFileStore(path)
	require.NoError(t, s.Upsert("u1", Endpoint(`{"endpoint":"e"}`)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]string
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "e", raw["u1"]["endpoint"])

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	subs, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestValidEndpoint(t *testing.T) {
	assert.True(t, ValidEndpoint([]byte(`{"endpoint":"x","keys":{}}`)))
	assert.True(t, ValidEndpoint([]byte(`{}`)))
	assert.False(t, ValidEndpoint([]byte(`null`)))
	assert.False(t, ValidEndpoint([]byte(`"x"`)))
	assert.False(t, ValidEndpoint([]byte(`[1]`)))
	assert.False(t, ValidEndpoint(nil))
}
