package localstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyValueStore interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

func exerciseStore(t *testing.T, s keyValueStore) {
	t.Helper()

	_, ok, err := s.GetItem("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem("a", "1"))
	require.NoError(t, s.SetItem("a", "2"))
	v, ok, err := s.GetItem("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v, "last write wins")

	require.NoError(t, s.RemoveItem("a"))
	require.NoError(t, s.RemoveItem("a"))
	_, ok, err = s.GetItem("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(0))
}

func TestMemory_Quota(t *testing.T) {
	m := NewMemory(10)

	require.NoError(t, m.SetItem("k", "12345"))
	err := m.SetItem("other", "123456")
	assert.True(t, errors.Is(err, ErrQuotaExceeded))

	require.NoError(t, m.SetItem("k", "123456789"), "replacing frees the old value")
	require.NoError(t, m.RemoveItem("k"))
	require.NoError(t, m.SetItem("other", "1234"))
	assert.Equal(t, 1, m.Len())
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "backup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SetItem("assessment_backup:disc:u1", `{"x":1}`))
	require.NoError(t, s.SetItem("assessment_backup:sjt:u1", `{"x":2}`))
	require.NoError(t, s.SetItem("unrelated", "z"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, ok, err := s.GetItem("assessment_backup:disc:u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, v)

	keys, err := s.Keys("assessment_backup:")
	require.NoError(t, err)
	assert.Equal(t, []string{"assessment_backup:disc:u1", "assessment_backup:sjt:u1"}, keys)
}
