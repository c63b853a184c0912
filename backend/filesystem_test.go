package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilesystemRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	fs, err := OpenFilesystem(t.TempDir())
	require.NoError(err)

	require.NoError(fs.Put(ctx, "snapshots/epoch-1/manifest", []byte("one")))
	require.NoError(fs.Put(ctx, "snapshots/epoch-1/chunk-0", []byte("two")))
	require.NoError(fs.Put(ctx, "archive/segment-0", []byte("three")))

	data, err := fs.Get(ctx, "snapshots/epoch-1/manifest")
	require.NoError(err)
	require.Equal([]byte("one"), data)

	// overwrite replaces content
	require.NoError(fs.Put(ctx, "snapshots/epoch-1/manifest", []byte("four")))
	data, err = fs.Get(ctx, "snapshots/epoch-1/manifest")
	require.NoError(err)
	require.Equal([]byte("four"), data)

	names, err := fs.List(ctx, "snapshots/")
	require.NoError(err)
	require.Equal([]string{"snapshots/epoch-1/chunk-0", "snapshots/epoch-1/manifest"}, names)

	require.NoError(fs.Delete(ctx, "snapshots/epoch-1/chunk-0"))
	_, err = fs.Get(ctx, "snapshots/epoch-1/chunk-0")
	require.True(errors.Is(err, ErrNotFound))

	// deleting an absent blob is fine
	require.NoError(fs.Delete(ctx, "snapshots/epoch-1/chunk-0"))
}

func TestOpenSelectsKind(t *testing.T) {
	require := require.New(t)

	store, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(err)
	require.IsType(&Filesystem{}, store)

	_, err = Open(Config{Kind: "bogus"})
	require.Error(err)
}
