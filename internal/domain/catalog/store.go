package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopcatalog/internal/images"
	"shopcatalog/internal/params"
	"shopcatalog/internal/query"
)

// Store is the data access abstraction for product types, products and their
// image rows. Implemented by Repository.
type Store interface {
	// Transaction helper
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	// Product types
	ListProductTypes(ctx context.Context, f ListFilter) ([]*ProductType, int, error)
	ProductTypeIDByName(ctx context.Context, name string) (int64, bool, error)
	CreateProductType(ctx context.Context, t *ProductType) (int64, error)
	UpdateProductType(ctx context.Context, t *ProductType) error
	DeleteProductType(ctx context.Context, id int64) (*Removal, error)

	// Products
	ListProducts(ctx context.Context, f ListFilter) ([]*Product, int, error)
	CreateProduct(ctx context.Context, p *Product, typeName *string) (int64, error)
	UpdateProduct(ctx context.Context, p *Product, typeName *string) error
	DeleteProduct(ctx context.Context, id int64) (*Removal, error)

	// Images
	ReferencedImagePaths(ctx context.Context) (map[string]struct{}, error)
}

type Repository struct {
	db     *sqlx.DB
	logger *zap.SugaredLogger
}

func NewRepository(db *sqlx.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, logger: logger}
}

// ------------------------------------
// Transaction helper
// ------------------------------------
func (r *Repository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return txErr("begin tx", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warnw("rollback failed", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return txErr("commit", err)
	}

	return nil
}

// ------------------------------------
// Product types
// ------------------------------------
func (r *Repository) ListProductTypes(ctx context.Context, f ListFilter) ([]*ProductType, int, error) {
	sel := query.Select{
		Columns: "pt.id, pt.products_type_name, pt.image_dir",
		From:    "products_type pt",
		CountOf: "pt.id",
		Where:   query.Where{}.And(query.Like("pt.products_type_name", f.Search)),
		OrderBy: []string{"pt.id"},
	}

	var rows []typeRow
	total, err := r.page(ctx, sel, f, &rows)
	if err != nil {
		return nil, 0, err
	}

	types := make([]*ProductType, 0, len(rows))
	byID := make(map[int64]*ProductType, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		t := &ProductType{ID: row.ID, Name: row.Name, ImageDir: row.ImageDir, Images: []string{}}
		types = append(types, t)
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	imgs, err := r.imagesOf(ctx, "product_type_id", ids)
	if err != nil {
		return nil, 0, err
	}
	for _, img := range imgs {
		if t, ok := byID[img.OwnerID]; ok {
			t.Images = append(t.Images, img.Path)
		}
	}

	return types, total, nil
}

// ProductTypeIDByName returns the oldest type with exactly this name.
func (r *Repository) ProductTypeIDByName(ctx context.Context, name string) (int64, bool, error) {
	return typeIDByName(ctx, r.db, name)
}

func (r *Repository) CreateProductType(ctx context.Context, t *ProductType) (int64, error) {
	var id int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`INSERT INTO products_type (products_type_name, image_dir) VALUES (?, ?) RETURNING id`)
		if err := tx.QueryRowxContext(ctx, q, t.Name, t.ImageDir).Scan(&id); err != nil {
			return txErr("insert product type", err)
		}
		return insertImages(ctx, tx, "product_type_id", id, t.Images)
	})
	if err != nil {
		return 0, err
	}

	t.ID = id
	return id, nil
}

// UpdateProductType renames the type and replaces its image rows. An unknown
// id changes nothing and is not an error.
func (r *Repository) UpdateProductType(ctx context.Context, t *ProductType) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products_type SET products_type_name = ? WHERE id = ?`), t.Name, t.ID)
		if err != nil {
			return txErr("update product type", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return txErr("update product type", err)
		} else if n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM images WHERE product_type_id = ?`), t.ID); err != nil {
			return txErr("delete product type images", err)
		}
		return insertImages(ctx, tx, "product_type_id", t.ID, t.Images)
	})
}

// DeleteProductType removes the type, its image rows, every product of the
// type and those products' image rows. Files are left to the caller.
func (r *Repository) DeleteProductType(ctx context.Context, id int64) (*Removal, error) {
	removal := &Removal{}
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var imageDir string
		err := tx.GetContext(ctx, &imageDir, tx.Rebind(`SELECT image_dir FROM products_type WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return txErr("read product type", err)
		}

		var typePaths []string
		if err := tx.SelectContext(ctx, &typePaths, tx.Rebind(`SELECT image_path FROM images WHERE product_type_id = ? ORDER BY id`), id); err != nil {
			return txErr("read product type images", err)
		}

		var products []struct {
			ID       int64  `db:"id"`
			ImageDir string `db:"image_dir"`
		}
		if err := tx.SelectContext(ctx, &products, tx.Rebind(`SELECT id, image_dir FROM products WHERE products_type_id = ? ORDER BY id`), id); err != nil {
			return txErr("read cascaded products", err)
		}

		var productImages []imageRow
		if err := tx.SelectContext(ctx, &productImages, tx.Rebind(`
			SELECT i.id, i.image_path, i.product_id AS owner_id
			FROM images i
			JOIN products p ON p.id = i.product_id
			WHERE p.products_type_id = ?
			ORDER BY i.id`), id); err != nil {
			return txErr("read cascaded product images", err)
		}

		stmts := []struct {
			op    string
			query string
			count *int64
		}{
			{"delete product type images", `DELETE FROM images WHERE product_type_id = ?`, &removal.Images},
			{"delete cascaded product images", `DELETE FROM images WHERE product_id IN (SELECT id FROM products WHERE products_type_id = ?)`, &removal.Images},
			{"delete cascaded products", `DELETE FROM products WHERE products_type_id = ?`, &removal.Products},
			{"delete product type", `DELETE FROM products_type WHERE id = ?`, nil},
		}
		for _, s := range stmts {
			res, err := tx.ExecContext(ctx, tx.Rebind(s.query), id)
			if err != nil {
				return txErr(s.op, err)
			}
			if s.count != nil {
				n, err := res.RowsAffected()
				if err != nil {
					return txErr(s.op, err)
				}
				*s.count += n
			}
		}

		removal.Owners = appendOwner(removal.Owners, images.ResolveOwner(imageDir, typePaths, images.TypeLevels))

		byProduct := make(map[int64][]string, len(products))
		for _, img := range productImages {
			byProduct[img.OwnerID] = append(byProduct[img.OwnerID], img.Path)
		}
		for _, p := range products {
			removal.Owners = appendOwner(removal.Owners, images.ResolveOwner(p.ImageDir, byProduct[p.ID], images.ProductLevels))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removal, nil
}

// ------------------------------------
// Products
// ------------------------------------
func (r *Repository) ListProducts(ctx context.Context, f ListFilter) ([]*Product, int, error) {
	where := query.Where{}.And(query.Like("p.name_products", f.Search))
	switch f.Type.Kind {
	case params.TypeNull:
		where = where.And(query.IsNull("p.products_type_id"))
	case params.TypeEquals:
		where = where.And(query.Eq("p.products_type_id", f.Type.ID))
	}

	sel := query.Select{
		Columns: `p.id, p.name_products, p.price, p.detail, p.stock, p.created_at,
			p.products_type_id, pt.products_type_name, p.image_dir`,
		From:    "products p LEFT JOIN products_type pt ON pt.id = p.products_type_id",
		CountOf: "p.id",
		Where:   where,
		OrderBy: []string{"p.id"},
	}

	var rows []productRow
	total, err := r.page(ctx, sel, f, &rows)
	if err != nil {
		return nil, 0, err
	}

	products := make([]*Product, 0, len(rows))
	byID := make(map[int64]*Product, len(rows))
	ids := make([]int64, 0, len(rows))
	for i := range rows {
		p := rows[i].product()
		products = append(products, p)
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	imgs, err := r.imagesOf(ctx, "product_id", ids)
	if err != nil {
		return nil, 0, err
	}
	for _, img := range imgs {
		if p, ok := byID[img.OwnerID]; ok {
			p.Images = append(p.Images, img.Path)
		}
	}

	return products, total, nil
}

// CreateProduct resolves typeName inside the transaction. A name that does not
// resolve returns ErrProductTypeNotFound and writes nothing.
func (r *Repository) CreateProduct(ctx context.Context, p *Product, typeName *string) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		typeID, err := resolveType(ctx, tx, typeName)
		if err != nil {
			return err
		}

		q := tx.Rebind(`
			INSERT INTO products (name_products, price, detail, stock, created_at, products_type_id, image_dir)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)
		if err := tx.QueryRowxContext(ctx, q,
			p.Name, p.Price, string(p.Detail), p.Stock, p.CreatedAt, typeID, p.ImageDir,
		).Scan(&id); err != nil {
			return txErr("insert product", err)
		}
		p.TypeID = typeID

		return insertImages(ctx, tx, "product_id", id, p.Images)
	})
	if err != nil {
		return 0, err
	}

	p.ID = id
	return id, nil
}

// UpdateProduct overwrites the product row and replaces its image rows. A nil
// typeName clears the type reference. An unknown id changes nothing.
func (r *Repository) UpdateProduct(ctx context.Context, p *Product, typeName *string) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		typeID, err := resolveType(ctx, tx, typeName)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE products
			SET name_products = ?, price = ?, detail = ?, stock = ?, products_type_id = ?
			WHERE id = ?`),
			p.Name, p.Price, string(p.Detail), p.Stock, typeID, p.ID)
		if err != nil {
			return txErr("update product", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return txErr("update product", err)
		} else if n == 0 {
			return nil
		}
		p.TypeID = typeID

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM images WHERE product_id = ?`), p.ID); err != nil {
			return txErr("delete product images", err)
		}
		return insertImages(ctx, tx, "product_id", p.ID, p.Images)
	})
}

func (r *Repository) DeleteProduct(ctx context.Context, id int64) (*Removal, error) {
	removal := &Removal{}
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var imageDir string
		err := tx.GetContext(ctx, &imageDir, tx.Rebind(`SELECT image_dir FROM products WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return txErr("read product", err)
		}

		var paths []string
		if err := tx.SelectContext(ctx, &paths, tx.Rebind(`SELECT image_path FROM images WHERE product_id = ? ORDER BY id`), id); err != nil {
			return txErr("read product images", err)
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM images WHERE product_id = ?`), id)
		if err != nil {
			return txErr("delete product images", err)
		}
		if removal.Images, err = res.RowsAffected(); err != nil {
			return txErr("delete product images", err)
		}

		res, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM products WHERE id = ?`), id)
		if err != nil {
			return txErr("delete product", err)
		}
		if removal.Products, err = res.RowsAffected(); err != nil {
			return txErr("delete product", err)
		}

		removal.Owners = appendOwner(removal.Owners, images.ResolveOwner(imageDir, paths, images.ProductLevels))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removal, nil
}

// ------------------------------------
// Images
// ------------------------------------

// ReferencedImagePaths returns every image_path currently stored.
func (r *Repository) ReferencedImagePaths(ctx context.Context) (map[string]struct{}, error) {
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, `SELECT image_path FROM images`); err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set, nil
}

// page runs the count and the page query of sel concurrently. Both share the
// same WHERE clause and args.
func (r *Repository) page(ctx context.Context, sel query.Select, f ListFilter, dest any) (int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = params.DefaultItemsPerPage
	}
	offset := max(f.Offset, 0)

	var total int
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q, args := sel.Count()
		return r.db.GetContext(gctx, &total, r.db.Rebind(q), args...)
	})
	g.Go(func() error {
		q, args := sel.Page(limit, offset)
		return r.db.SelectContext(gctx, dest, r.db.Rebind(q), args...)
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// imagesOf loads the image rows of the given owners, ordered by image id.
func (r *Repository) imagesOf(ctx context.Context, ownerCol string, ids []int64) ([]imageRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q, args, err := sqlx.In(`SELECT id, image_path, `+ownerCol+` AS owner_id FROM images WHERE `+ownerCol+` IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}

	var rows []imageRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func insertImages(ctx context.Context, tx *sqlx.Tx, ownerCol string, ownerID int64, paths []string) error {
	q := tx.Rebind(`INSERT INTO images (image_path, ` + ownerCol + `) VALUES (?, ?)`)
	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, q, p, ownerID); err != nil {
			return txErr("insert image", err)
		}
	}
	return nil
}

func resolveType(ctx context.Context, tx *sqlx.Tx, typeName *string) (*int64, error) {
	if typeName == nil {
		return nil, nil
	}

	id, found, err := typeIDByName(ctx, tx, *typeName)
	if err != nil {
		return nil, txErr("find product type", err)
	}
	if !found {
		return nil, ErrProductTypeNotFound
	}
	return &id, nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func typeIDByName(ctx context.Context, q queryer, name string) (int64, bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`SELECT id FROM products_type WHERE products_type_name = ? ORDER BY id LIMIT 1`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func appendOwner(owners []images.Owner, o images.Owner) []images.Owner {
	if o.Dir == "" && len(o.Paths) == 0 {
		return owners
	}
	return append(owners, o)
}
