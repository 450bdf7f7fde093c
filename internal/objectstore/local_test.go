package objectstore

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutThenGet(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "table/_delta_log/0.json", bytes.NewReader([]byte("hello")), 5, PutOptions{}))

	data, err := store.Get(ctx, "table/_delta_log/0.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalPutIfAbsentRejectsSecondWrite(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "log/00000000000000000001.json", bytes.NewReader([]byte("v1")), 2, PutOptions{IfAbsent: true}))
	err = store.Put(ctx, "log/00000000000000000001.json", bytes.NewReader([]byte("v2")), 2, PutOptions{IfAbsent: true})
	require.Error(t, err)

	data, getErr := store.Get(ctx, "log/00000000000000000001.json")
	require.NoError(t, getErr)
	assert.Equal(t, "v1", string(data), "the first writer's content must survive a rejected second write")
}

func TestLocalExists(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "nope.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, "yes.json", bytes.NewReader([]byte("x")), 1, PutOptions{}))
	exists, err = store.Exists(ctx, "yes.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalListPrefix(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "t/_delta_log/00000000000000000000.json", bytes.NewReader([]byte("a")), 1, PutOptions{}))
	require.NoError(t, store.Put(ctx, "t/_delta_log/00000000000000000001.json", bytes.NewReader([]byte("b")), 1, PutOptions{}))
	require.NoError(t, store.Put(ctx, "t/other.txt", bytes.NewReader([]byte("c")), 1, PutOptions{}))

	objs, err := store.ListPrefix(ctx, "t/_delta_log")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, filepath.ToSlash(objs[0].Key), "t/_delta_log/00000000000000000000.json")
}

func TestLocalGetMissingReturnsNotFound(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "missing.json")
	assert.Error(t, err)
}
