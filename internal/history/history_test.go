package history

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)

	s.Record("share-a", "192.168.1.9", "curl/8", "/", "meta")
	s.Record("share-a", "192.168.1.9", "curl/8", "/docs", "list")
	s.Record("share-b", "10.0.0.3", "Firefox", "/a.txt", "download")

	all, err := s.Recent("", 50)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "download", all[0].Verb)
	assert.Equal(t, "share-b", all[0].ShareID)

	onlyA, err := s.Recent("share-a", 50)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	for _, e := range onlyA {
		assert.Equal(t, "share-a", e.ShareID)
	}
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		s.Record("share-a", "ip", "ua", "/", "meta")
	}

	entries, err := s.Recent("", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Non-positive limits fall back to the default instead of erroring.
	entries, err = s.Recent("", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestRecentEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.Recent("", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
