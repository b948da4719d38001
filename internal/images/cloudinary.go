package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

var errNoURL = errors.New("upload returned no url")

// uploadAPI is the part of the Cloudinary upload API the store needs.
type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Cloudinary stores images as Cloudinary assets. Canonical paths are the
// secure delivery URLs, so PublicURL and Canonical are the identity.
type Cloudinary struct {
	api    uploadAPI
	folder string
}

// NewCloudinary connects using a cloudinary:// URL; folder prefixes every asset.
func NewCloudinary(cloudinaryURL, folder string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	return &Cloudinary{api: &cld.Upload, folder: strings.Trim(folder, "/")}, nil
}

func (c *Cloudinary) OwnerDir(t Target) string {
	return path.Join(c.folder, relDir(t))
}

func (c *Cloudinary) Save(ctx context.Context, t Target, index int, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := strings.TrimSuffix(FileName(t.Name, index), ".jpg")
	resp, err := c.api.Upload(ctx, r, uploader.UploadParams{
		Folder:    c.OwnerDir(t),
		PublicID:  name,
		Overwrite: api.Bool(true),
	})
	if err != nil {
		return "", &FSError{Op: "upload", Path: path.Join(c.OwnerDir(t), name), Err: err}
	}
	if resp.SecureURL == "" {
		return "", &FSError{Op: "upload", Path: path.Join(c.OwnerDir(t), name), Err: errNoURL}
	}
	return resp.SecureURL, nil
}

func (c *Cloudinary) Remove(ctx context.Context, canonical string) error {
	publicID, err := publicIDFromURL(canonical)
	if err != nil {
		return &FSError{Op: "destroy", Path: canonical, Err: err}
	}

	// "not found" is reported in the result, not as an error
	if _, err := c.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID}); err != nil {
		return &FSError{Op: "destroy", Path: canonical, Err: err}
	}
	return nil
}

// RemoveOwner destroys each listed asset. Cloudinary folders are virtual, so
// nothing is left behind once the assets are gone.
func (c *Cloudinary) RemoveOwner(ctx context.Context, o Owner) error {
	var firstErr error
	for _, p := range o.Paths {
		if err := c.Remove(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Cloudinary) PublicURL(canonical string) string { return canonical }

func (c *Cloudinary) Canonical(pathOrURL string) string { return pathOrURL }

// publicIDFromURL turns
// https://res.cloudinary.com/demo/image/upload/v1740815725/catalog/shoes/main/shoes_0.jpg
// into catalog/shoes/main/shoes_0.
func publicIDFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part != "upload" || i+1 >= len(parts) {
			continue
		}
		rest := parts[i+1:]
		if isVersion(rest[0]) && len(rest) > 1 {
			rest = rest[1:]
		}
		id := strings.Join(rest, "/")
		return strings.TrimSuffix(id, path.Ext(id)), nil
	}
	return "", fmt.Errorf("no public id in %q", raw)
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
