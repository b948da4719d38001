package images

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderFile is looked up under the root before falling back to the
// embedded placeholder.
const PlaceholderFile = "404.jpg"

// Local stores images on the local filesystem under a fixed root.
type Local struct {
	root       string // slash separated, cleaned
	publicBase string // e.g. http://localhost:2001/images
}

// NewLocal creates the root directory if needed.
func NewLocal(root, publicBase string) (*Local, error) {
	root = path.Clean(filepath.ToSlash(root))
	if err := os.MkdirAll(filepath.FromSlash(root), 0o755); err != nil {
		return nil, &FSError{Op: "mkdir", Path: root, Err: err}
	}
	return &Local{root: root, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

// Root is the image root as stored in canonical paths.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) OwnerDir(t Target) string {
	return path.Join(l.root, relDir(t))
}

func (l *Local) Save(ctx context.Context, t Target, index int, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := l.OwnerDir(t)
	if err := os.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
		return "", &FSError{Op: "mkdir", Path: dir, Err: err}
	}

	canonical := path.Join(dir, FileName(t.Name, index))

	// write next to the target and rename so readers never see a partial file
	tmp := filepath.Join(filepath.FromSlash(dir), "."+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return "", &FSError{Op: "create", Path: tmp, Err: err}
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", &FSError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", &FSError{Op: "close", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, filepath.FromSlash(canonical)); err != nil {
		os.Remove(tmp)
		return "", &FSError{Op: "rename", Path: canonical, Err: err}
	}

	return canonical, nil
}

func (l *Local) Remove(ctx context.Context, canonical string) error {
	if !l.within(canonical) {
		return &FSError{Op: "remove", Path: canonical, Err: errOutsideRoot}
	}
	if err := os.Remove(filepath.FromSlash(canonical)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &FSError{Op: "remove", Path: canonical, Err: err}
	}

	l.pruneParents(canonical)
	return nil
}

// RemoveOwner deletes the owner directory recursively along with ancestors it
// leaves empty. It is a no-op when the directory does not exist. Without a
// directory only the listed files are removed.
func (l *Local) RemoveOwner(ctx context.Context, o Owner) error {
	if o.Dir == "" {
		var firstErr error
		for _, p := range o.Paths {
			if err := l.Remove(ctx, p); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	dir := path.Clean(o.Dir)
	if !l.within(dir) {
		return &FSError{Op: "remove_dir", Path: dir, Err: errOutsideRoot}
	}

	if _, err := os.Stat(filepath.FromSlash(dir)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(filepath.FromSlash(dir)); err != nil {
		return &FSError{Op: "remove_dir", Path: dir, Err: err}
	}
	l.pruneParents(dir)
	return nil
}

// pruneParents removes the empty ancestors of p, stopping at the root.
func (l *Local) pruneParents(p string) {
	for dir := path.Dir(p); l.within(dir); dir = path.Dir(dir) {
		if err := os.Remove(filepath.FromSlash(dir)); err != nil {
			return
		}
	}
}

func (l *Local) PublicURL(canonical string) string {
	if rel, ok := strings.CutPrefix(canonical, l.root+"/"); ok && l.publicBase != "" {
		return l.publicBase + "/" + rel
	}
	return canonical
}

func (l *Local) Canonical(pathOrURL string) string {
	if l.publicBase != "" {
		if rel, ok := strings.CutPrefix(pathOrURL, l.publicBase+"/"); ok {
			return path.Join(l.root, rel)
		}
	}
	return pathOrURL
}

// Lookup resolves a request path relative to the root to a regular file.
func (l *Local) Lookup(rel string) (string, bool) {
	canonical := path.Join(l.root, path.Clean("/"+rel))
	if !l.within(canonical) {
		return "", false
	}
	p := filepath.FromSlash(canonical)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

// PlaceholderPath is the on-disk placeholder when one was provisioned.
func (l *Local) PlaceholderPath() (string, bool) {
	return l.Lookup(PlaceholderFile)
}

// Walk calls fn for every stored image file with its modification time.
// Temporary upload files and the placeholder are skipped.
func (l *Local) Walk(fn func(canonical string, modTime time.Time) error) error {
	return filepath.WalkDir(filepath.FromSlash(l.root), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}

		canonical := filepath.ToSlash(p)
		if canonical == path.Join(l.root, PlaceholderFile) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(canonical, info.ModTime())
	})
}

// PruneEmpty removes empty directories below the root, deepest first.
func (l *Local) PruneEmpty() (int, error) {
	var dirs []string
	err := filepath.WalkDir(filepath.FromSlash(l.root), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && filepath.ToSlash(p) != l.root {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return 0, &FSError{Op: "walk", Path: l.root, Err: err}
	}

	removed := 0
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dirs[i]); err == nil {
			removed++
		}
	}
	return removed, nil
}

var errOutsideRoot = errors.New("path is not below the image root")

// within reports whether p lies strictly below the root.
func (l *Local) within(p string) bool {
	p = path.Clean(filepath.ToSlash(p))
	if l.root == "." {
		return p != "." && !strings.HasPrefix(p, "../") && p != ".." && !path.IsAbs(p)
	}
	return strings.HasPrefix(p, l.root+"/")
}
