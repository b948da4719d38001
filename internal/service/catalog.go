// Package service orchestrates catalog writes across the image store and the
// database: validate, persist images, write rows in one transaction, and undo
// the image writes when the transaction does not commit.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopcatalog/internal/domain/catalog"
	"shopcatalog/internal/images"
	"shopcatalog/internal/journal"
	"shopcatalog/internal/params"
)

// Journal records image writes that are not yet backed by committed rows.
type Journal interface {
	Begin(op, dir string) (*journal.Intent, error)
	Add(id, path string) error
	Done(id string) error
	Pending() ([]journal.Intent, error)
}

type NewProductType struct {
	Name  string      `validate:"required,max=255"`
	Files []io.Reader `validate:"min=1"`
}

type UpdateProductType struct {
	Name       string   `validate:"required,max=255"`
	ImagesPath []string `validate:"dive,required"`
}

type NewProduct struct {
	Name     string `validate:"required,max=255"`
	Price    decimal.Decimal
	Stock    int64 `validate:"gte=0"`
	Detail   json.RawMessage
	TypeName *string
	Files    []io.Reader
}

type UpdateProduct struct {
	Name       string `validate:"required,max=255"`
	Price      decimal.Decimal
	Stock      int64 `validate:"gte=0"`
	Detail     json.RawMessage
	TypeName   *string
	ImagesPath []string `validate:"dive,required"`
}

type Catalog struct {
	store        catalog.Store
	images       images.Store
	journal      Journal
	logger       *zap.SugaredLogger
	itemsPerPage int
}

// New wires the service. j may be nil, in which case image writes are not
// journaled and Recover is a no-op.
func New(store catalog.Store, imgs images.Store, j Journal, logger *zap.SugaredLogger, itemsPerPage int) *Catalog {
	if itemsPerPage <= 0 {
		itemsPerPage = params.DefaultItemsPerPage
	}
	return &Catalog{
		store:        store,
		images:       imgs,
		journal:      j,
		logger:       logger,
		itemsPerPage: itemsPerPage,
	}
}

func (c *Catalog) ListProductTypes(ctx context.Context, q params.ListQuery) ([]*catalog.ProductType, params.Pagination, error) {
	p := params.NewPagination(q.Page, c.itemsPerPage)

	types, total, err := c.store.ListProductTypes(ctx, catalog.ListFilter{
		Search: q.Search,
		Limit:  p.Limit(),
		Offset: p.Offset(),
	})
	if err != nil {
		return nil, p, err
	}
	p.ComputeMeta(total)

	for _, t := range types {
		t.Images = c.publicURLs(t.Images)
	}
	return types, p, nil
}

func (c *Catalog) ListProducts(ctx context.Context, q params.ListQuery) ([]*catalog.Product, params.Pagination, error) {
	p := params.NewPagination(q.Page, c.itemsPerPage)

	products, total, err := c.store.ListProducts(ctx, catalog.ListFilter{
		Search: q.Search,
		Type:   q.Type,
		Limit:  p.Limit(),
		Offset: p.Offset(),
	})
	if err != nil {
		return nil, p, err
	}
	p.ComputeMeta(total)

	for _, prod := range products {
		prod.Images = c.publicURLs(prod.Images)
	}
	return products, p, nil
}

func (c *Catalog) CreateProductType(ctx context.Context, in NewProductType) (int64, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return 0, err
	}

	target := images.Target{Kind: images.KindType, Name: in.Name}
	w, err := c.persist(ctx, "create_product_type", target, in.Files)
	if err != nil {
		return 0, err
	}

	id, err := c.store.CreateProductType(ctx, &catalog.ProductType{
		Name:     in.Name,
		ImageDir: c.images.OwnerDir(target),
		Images:   w.paths,
	})
	if err != nil {
		c.compensate(ctx, w)
		return 0, err
	}

	c.done(w)
	c.logger.Infow("product type created", "id", id, "name", in.Name, "images", len(w.paths))
	return id, nil
}

// UpdateProductType renames the type and replaces its image list. The paths
// may be public URLs as returned by the listing.
func (c *Catalog) UpdateProductType(ctx context.Context, id int64, in UpdateProductType) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return err
	}

	return c.store.UpdateProductType(ctx, &catalog.ProductType{
		ID:     id,
		Name:   in.Name,
		Images: c.canonical(in.ImagesPath),
	})
}

// DeleteProductType deletes the rows first and the files after the commit.
// File failures at that point are logged, the rows are already gone.
func (c *Catalog) DeleteProductType(ctx context.Context, id int64) error {
	removal, err := c.store.DeleteProductType(ctx, id)
	if err != nil {
		return err
	}

	c.removeOwners(ctx, removal)
	c.logger.Infow("product type deleted", "id", id, "products", removal.Products, "images", removal.Images)
	return nil
}

func (c *Catalog) CreateProduct(ctx context.Context, in NewProduct) (int64, error) {
	detail, err := c.checkProduct(&in.Name, in.Price, &in.Detail, &in.TypeName)
	if err != nil {
		return 0, err
	}
	if err := validateInput(in); err != nil {
		return 0, err
	}

	// reject an unknown type before any file is written
	if in.TypeName != nil {
		_, found, err := c.store.ProductTypeIDByName(ctx, *in.TypeName)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, invalidTypeName()
		}
	}

	target := images.Target{Kind: images.KindProduct, Name: in.Name}
	if in.TypeName != nil {
		target.TypeName = *in.TypeName
	}

	w, err := c.persist(ctx, "create_product", target, in.Files)
	if err != nil {
		return 0, err
	}

	id, err := c.store.CreateProduct(ctx, &catalog.Product{
		Name:     in.Name,
		Price:    in.Price.InexactFloat64(),
		Detail:   detail,
		Stock:    in.Stock,
		ImageDir: c.images.OwnerDir(target),
		Images:   w.paths,
	}, in.TypeName)
	if err != nil {
		c.compensate(ctx, w)
		if errors.Is(err, catalog.ErrProductTypeNotFound) {
			return 0, invalidTypeName()
		}
		return 0, err
	}

	c.done(w)
	c.logger.Infow("product created", "id", id, "name", in.Name, "images", len(w.paths))
	return id, nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, id int64, in UpdateProduct) error {
	detail, err := c.checkProduct(&in.Name, in.Price, &in.Detail, &in.TypeName)
	if err != nil {
		return err
	}
	if err := validateInput(in); err != nil {
		return err
	}

	err = c.store.UpdateProduct(ctx, &catalog.Product{
		ID:     id,
		Name:   in.Name,
		Price:  in.Price.InexactFloat64(),
		Detail: detail,
		Stock:  in.Stock,
		Images: c.canonical(in.ImagesPath),
	}, in.TypeName)
	if errors.Is(err, catalog.ErrProductTypeNotFound) {
		return invalidTypeName()
	}
	return err
}

func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	removal, err := c.store.DeleteProduct(ctx, id)
	if err != nil {
		return err
	}

	c.removeOwners(ctx, removal)
	c.logger.Infow("product deleted", "id", id, "images", removal.Images)
	return nil
}

// checkProduct normalizes the fields shared by create and update and returns
// the detail JSON to store.
func (c *Catalog) checkProduct(name *string, price decimal.Decimal, detail *json.RawMessage, typeName **string) (json.RawMessage, error) {
	*name = strings.TrimSpace(*name)

	if price.IsNegative() {
		return nil, catalog.Invalid("price", "Price must not be negative")
	}

	if *typeName != nil {
		if trimmed := strings.TrimSpace(**typeName); trimmed == "" {
			*typeName = nil
		} else {
			*typeName = &trimmed
		}
	}

	d := bytes.TrimSpace(*detail)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(d) {
		return nil, catalog.Invalid("detail", "Detail must be valid JSON")
	}
	return json.RawMessage(d), nil
}

func invalidTypeName() error {
	return catalog.Invalid("product_type_name", "Invalid product type name")
}

// write is one request's set of persisted images.
type write struct {
	intentID string
	paths    []string
}

// persist stores files as images 0..n-1 of target. When any file fails, the
// ones already written are removed before the error is returned.
func (c *Catalog) persist(ctx context.Context, op string, target images.Target, files []io.Reader) (*write, error) {
	w := &write{paths: make([]string, 0, len(files))}

	if c.journal != nil && len(files) > 0 {
		intent, err := c.journal.Begin(op, c.images.OwnerDir(target))
		if err != nil {
			return nil, err
		}
		w.intentID = intent.ID
	}

	for i, f := range files {
		p, err := c.images.Save(ctx, target, i, f)
		if err != nil {
			c.compensate(ctx, w)
			return nil, err
		}
		w.paths = append(w.paths, p)

		if w.intentID != "" {
			if err := c.journal.Add(w.intentID, p); err != nil {
				c.compensate(ctx, w)
				return nil, err
			}
		}
	}

	return w, nil
}

// compensate removes the request's files that no committed row refers to.
// Names derive from entity names, so a file may have overwritten one that an
// existing row still points at; those are kept.
func (c *Catalog) compensate(ctx context.Context, w *write) {
	ctx = context.WithoutCancel(ctx)

	if len(w.paths) > 0 {
		removed, err := c.removeUnreferenced(ctx, w.paths)
		if err != nil {
			c.logger.Errorw("compensation failed, files left behind", "paths", w.paths, "error", err)
			return
		}
		c.logger.Warnw("removed images of failed write", "removed", removed)
	}
	c.done(w)
}

func (c *Catalog) done(w *write) {
	if w.intentID == "" {
		return
	}
	if err := c.journal.Done(w.intentID); err != nil {
		c.logger.Warnw("closing journal intent", "intent", w.intentID, "error", err)
	}
}

func (c *Catalog) removeUnreferenced(ctx context.Context, paths []string) (int, error) {
	refs, err := c.store.ReferencedImagePaths(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range paths {
		if _, ok := refs[p]; ok {
			continue
		}
		if err := c.images.Remove(ctx, p); err != nil {
			c.logger.Errorw("removing image", "path", p, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (c *Catalog) removeOwners(ctx context.Context, removal *catalog.Removal) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range removal.Owners {
		if err := c.images.RemoveOwner(ctx, o); err != nil {
			c.logger.Errorw("removing owner images", "dir", o.Dir, "paths", len(o.Paths), "error", err)
		}
	}
}

func (c *Catalog) publicURLs(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = c.images.PublicURL(p)
	}
	return out
}

func (c *Catalog) canonical(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.images.Canonical(strings.TrimSpace(p)))
	}
	return out
}
