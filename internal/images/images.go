package images

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"path"
	"strings"
)

// Kind is the entity that owns an image.
type Kind int

const (
	KindType Kind = iota
	KindProduct
)

const (
	// placeholderName replaces an owner name that is not known yet.
	placeholderName = "temp_product"
	// typeLeaf is the leaf directory holding a product type's own images.
	typeLeaf = "main"
	// uncategorized is the type directory of products without a type.
	uncategorized = "other"

	// ProductLevels and TypeLevels are how far OwnerTreeFromSample walks up from
	// one image path to reach the owner's directory.
	ProductLevels = 1
	TypeLevels    = 2
)

//go:embed placeholder.png
var placeholderPNG []byte

// Target identifies where an owner's images live.
type Target struct {
	Kind     Kind
	Name     string // owner name; the file base name
	TypeName string // product type name, only used for KindProduct
}

// Owner is everything known about an owner's files when it is removed.
type Owner struct {
	Dir   string   // stored owner directory, may be empty for legacy rows
	Paths []string // canonical paths of the owner's image rows
}

// Store persists image bytes and removes them again when their owner goes away.
type Store interface {
	// Save writes r as image number index of the target and returns its canonical path.
	Save(ctx context.Context, t Target, index int, r io.Reader) (string, error)
	// Remove deletes a single image. Missing files are not an error.
	Remove(ctx context.Context, canonical string) error
	// RemoveOwner deletes every image of an owner. Missing files are not an error.
	RemoveOwner(ctx context.Context, o Owner) error
	// OwnerDir is the directory Save writes the target's images to.
	OwnerDir(t Target) string
	// PublicURL maps a canonical path to the URL clients fetch it from.
	PublicURL(canonical string) string
	// Canonical maps a public URL (or a canonical path) back to the canonical path.
	Canonical(pathOrURL string) string
}

// FSError is returned for any failed filesystem or remote storage operation.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }

// FileName is "{name}_{index}.jpg", with the placeholder name when name is empty.
func FileName(name string, index int) string {
	return fmt.Sprintf("%s_%d.jpg", baseName(name), index)
}

// relDir is the owner directory relative to the storage root, slash separated.
func relDir(t Target) string {
	if t.Kind == KindType {
		return path.Join(segment(baseName(t.Name)), typeLeaf)
	}
	typeDir := uncategorized
	if strings.TrimSpace(t.TypeName) != "" {
		typeDir = segment(t.TypeName)
	}
	return path.Join(typeDir, productSegment(t.Name))
}

// productSegment is the product's directory name. It never equals the type's
// own leaf, so deleting a product cannot remove its type's images.
func productSegment(name string) string {
	s := segment(baseName(name))
	if strings.EqualFold(s, typeLeaf) {
		return s + "_"
	}
	return s
}

func baseName(name string) string {
	if strings.TrimSpace(name) == "" {
		return placeholderName
	}
	return name
}

// segment turns an entity name into a single safe path element.
func segment(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))

	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// OwnerTreeFromSample walks levelsUp directories up from one image path. It
// assumes every image of the owner sits at the same depth; if they diverge,
// deleting the returned directory misses the others.
func OwnerTreeFromSample(sample string, levelsUp int) string {
	dir := sample
	for i := 0; i < levelsUp; i++ {
		dir = path.Dir(dir)
	}
	return dir
}

// ResolveOwner prefers the stored directory and falls back to walking up from
// the first path for rows written before directories were recorded.
// A product directory that resolves to a type's own leaf is dropped, leaving
// only the product's listed files to remove.
func ResolveOwner(dir string, paths []string, levelsUp int) Owner {
	if dir == "" && len(paths) > 0 {
		dir = OwnerTreeFromSample(paths[0], levelsUp)
	}
	if levelsUp == ProductLevels && strings.EqualFold(path.Base(dir), typeLeaf) {
		dir = ""
	}
	return Owner{Dir: dir, Paths: paths}
}

// Placeholder is served when a requested image does not exist.
func Placeholder() []byte {
	return placeholderPNG
}
