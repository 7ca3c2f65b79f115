package archive

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndLatest(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("latest_wins", func(t *testing.T) {
		_, err := s.PutAt("main", []byte("old"), base)
		require.NoError(t, err)
		_, err = s.PutAt("main", []byte("new"), base.Add(time.Hour))
		require.NoError(t, err)

		data, meta, err := s.Latest("main")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), data)
		assert.Equal(t, base.Add(time.Hour).UnixNano(), meta.Timestamp.UnixNano())
		assert.Equal(t, 3, meta.Size)
	})

	t.Run("names_are_isolated", func(t *testing.T) {
		_, err := s.PutAt("other", []byte("elsewhere"), base)
		require.NoError(t, err)

		data, _, err := s.Latest("main")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), data)
	})

	t.Run("missing_name", func(t *testing.T) {
		_, _, err := s.Latest("ghost")
		assert.ErrorIs(t, err, ErrNoSnapshot)
	})

	t.Run("bad_names_rejected", func(t *testing.T) {
		_, err := s.Put("", []byte("x"))
		assert.ErrorIs(t, err, ErrBadName)
		_, err = s.Put("a\x00b", []byte("x"))
		assert.ErrorIs(t, err, ErrBadName)
	})
}

func TestStore_List(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := s.PutAt("main", []byte(fmt.Sprintf("v%d", i)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	snaps, err := s.List("main")
	require.NoError(t, err)
	require.Len(t, snaps, 4)

	// Oldest first.
	for i := 1; i < len(snaps); i++ {
		assert.True(t, snaps[i].Timestamp.After(snaps[i-1].Timestamp))
	}

	empty, err := s.List("ghost")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.PutAt("main", []byte(fmt.Sprintf("v%d", i)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := s.PutAt("other", []byte("keep me"), base)
	require.NoError(t, err)

	t.Run("keeps_newest", func(t *testing.T) {
		removed, err := s.Prune("main", 2)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		snaps, err := s.List("main")
		require.NoError(t, err)
		require.Len(t, snaps, 2)

		data, _, err := s.Latest("main")
		require.NoError(t, err)
		assert.Equal(t, []byte("v4"), data)
	})

	t.Run("other_names_untouched", func(t *testing.T) {
		data, _, err := s.Latest("other")
		require.NoError(t, err)
		assert.Equal(t, []byte("keep me"), data)
	})

	t.Run("noop_when_under_limit", func(t *testing.T) {
		removed, err := s.Prune("main", 10)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})
}

func TestStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.Put("main", []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	data, _, err := s2.Latest("main")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}
