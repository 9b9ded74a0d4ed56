package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := DocumentKey("abc")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, key, []byte("%PDF-1.4 v1")))
	require.NoError(t, s.Put(ctx, key, []byte("%PDF-1.4 v2")))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 v2"), got)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemory())
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	exercise(t, s)
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Put(context.Background(), "../outside.pdf", []byte("x")))
	assert.Error(t, s.Put(context.Background(), "/etc/passwd", []byte("x")))
}

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "documents/42.pdf", DocumentKey("42"))
}
