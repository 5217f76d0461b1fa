package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPebbleStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Upsert("alice", Endpoint(`{"endpoint":"a"}`)))
	require.NoError(t, s.Upsert("bob", Endpoint(`{"endpoint":"b"}`)))
	require.NoError(t, s.Delete("bob"))
	require.NoError(t, s.Close())

	s, err = OpenPebbleStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	subs, err := s.Load()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.JSONEq(t, `{"endpoint":"a"}`, string(subs["alice"]))
}

func TestPebbleStoreEmpty(t *testing.T) {
	s, err := OpenPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	subs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, subs)
}
