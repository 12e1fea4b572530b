package dav

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedav/internal/fsutil"
)

func TestDirFSContainment(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	fs := DirFS(root)
	ctx := context.Background()

	_, err := fs.Stat(ctx, "/a.txt")
	require.NoError(t, err)

	_, err = fs.Stat(ctx, "/../../../etc/passwd")
	assert.ErrorIs(t, err, fsutil.ErrPathEscape)
	_, err = fs.OpenFile(ctx, "/../escape.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	assert.ErrorIs(t, err, fsutil.ErrPathEscape)
	err = fs.Rename(ctx, "/a.txt", "/../stolen.txt")
	assert.ErrorIs(t, err, fsutil.ErrPathEscape)
	err = fs.RemoveAll(ctx, "/../..")
	assert.ErrorIs(t, err, fsutil.ErrPathEscape)
}

func TestDirFSOperations(t *testing.T) {
	root := t.TempDir()
	fs := DirFS(root)
	ctx := context.Background()

	require.NoError(t, fs.Mkdir(ctx, "/sub", 0o755))

	f, err := fs.OpenFile(ctx, "/sub/new.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename(ctx, "/sub/new.txt", "/sub/renamed.txt"))

	info, err := fs.Stat(ctx, "/sub/renamed.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size())

	require.NoError(t, fs.RemoveAll(ctx, "/sub"))
	_, err = os.Stat(filepath.Join(root, "sub"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirFSRefusesRootRemoval(t *testing.T) {
	root := t.TempDir()
	fs := DirFS(root)

	err := fs.RemoveAll(context.Background(), "/")
	assert.ErrorIs(t, err, os.ErrPermission)
	_, statErr := os.Stat(root)
	assert.NoError(t, statErr)
}

func TestFileFSVisibility(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(target, []byte("pdf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("s"), 0o644))

	fs := FileFS(target)
	ctx := context.Background()

	// Root and the basename both map to the file.
	info, err := fs.Stat(ctx, "/")
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.Size())
	_, err = fs.Stat(ctx, "/report.pdf")
	require.NoError(t, err)

	// Siblings do not exist through this endpoint.
	_, err = fs.Stat(ctx, "/secret.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.OpenFile(ctx, "/../secret.txt", os.O_RDONLY, 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileFSRejectsStructuralOps(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(target, []byte("pdf"), 0o644))

	fs := FileFS(target)
	ctx := context.Background()

	assert.ErrorIs(t, fs.Mkdir(ctx, "/x", 0o755), os.ErrPermission)
	assert.ErrorIs(t, fs.RemoveAll(ctx, "/report.pdf"), os.ErrPermission)
	assert.ErrorIs(t, fs.Rename(ctx, "/report.pdf", "/other.pdf"), os.ErrPermission)
}
