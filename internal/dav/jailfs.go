package dav

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/net/webdav"

	"github.com/homedav/internal/fsutil"
)

// dirFS is a webdav.FileSystem jailed to one directory. Every
// operation re-applies the path guard, so a symlink planted inside the
// tree after mount still cannot lead outside it.
type dirFS struct {
	root string
}

// DirFS returns a WebDAV filesystem rooted at, and contained within,
// the given directory.
func DirFS(root string) webdav.FileSystem {
	return &dirFS{root: root}
}

func (fs *dirFS) resolve(name string) (string, error) {
	return fsutil.Resolve(fs.root, name)
}

func (fs *dirFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	p, err := fs.resolve(name)
	if err != nil {
		return err
	}
	return os.Mkdir(p, perm)
}

func (fs *dirFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	p, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(p, flag, perm)
}

func (fs *dirFS) RemoveAll(ctx context.Context, name string) error {
	p, err := fs.resolve(name)
	if err != nil {
		return err
	}
	// Never delete the jail root itself.
	if p == filepath.Clean(fs.root) {
		return os.ErrPermission
	}
	return os.RemoveAll(p)
}

func (fs *dirFS) Rename(ctx context.Context, oldName, newName string) error {
	oldP, err := fs.resolve(oldName)
	if err != nil {
		return err
	}
	newP, err := fs.resolve(newName)
	if err != nil {
		return err
	}
	return os.Rename(oldP, newP)
}

func (fs *dirFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

var _ webdav.FileSystem = (*dirFS)(nil)

// fileFS exposes exactly one file as the endpoint root: "/" and
// "/<basename>" map to the file, everything else does not exist. Used
// for single-file shares, where the scope is one path, not its parent.
type fileFS struct {
	path string
}

// FileFS returns a WebDAV filesystem scoped to a single file.
func FileFS(target string) webdav.FileSystem {
	return &fileFS{path: filepath.Clean(target)}
}

func (fs *fileFS) visible(name string) bool {
	clean := path.Clean("/" + name)
	return clean == "/" || clean == "/"+filepath.Base(fs.path)
}

func (fs *fileFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (fs *fileFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if !fs.visible(name) {
		return nil, os.ErrNotExist
	}
	return os.OpenFile(fs.path, flag, perm)
}

func (fs *fileFS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (fs *fileFS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (fs *fileFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if !fs.visible(name) {
		return nil, os.ErrNotExist
	}
	return os.Stat(fs.path)
}

var _ webdav.FileSystem = (*fileFS)(nil)
