package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shopcatalog/internal/db"
	"shopcatalog/internal/domain/catalog"
	"shopcatalog/internal/images"
	"shopcatalog/internal/journal"
	"shopcatalog/internal/params"
)

const publicBase = "http://localhost:2001/images"

type fixture struct {
	svc     *Catalog
	repo    *catalog.Repository
	imgs    *images.Local
	journal *journal.Journal
	conn    *sqlx.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	conn, err := db.New(db.DriverSQLite, filepath.Join(dir, "catalog.db"), 4, 4, "1m")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))

	imgs, err := images.NewLocal(filepath.Join(dir, "dbimages"), publicBase)
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	logger := zap.NewNop().Sugar()
	repo := catalog.NewRepository(conn, logger)

	return &fixture{
		svc:     New(repo, imgs, j, logger, 10),
		repo:    repo,
		imgs:    imgs,
		journal: j,
		conn:    conn,
	}
}

func files(contents ...string) []io.Reader {
	out := make([]io.Reader, len(contents))
	for i, c := range contents {
		out[i] = strings.NewReader(c)
	}
	return out
}

func strPtr(s string) *string { return &s }

func onDisk(f *fixture, rel string) string {
	return filepath.FromSlash(f.imgs.Root() + "/" + rel)
}

func assertValidation(t *testing.T, err error, msg string) {
	t.Helper()
	var ve *catalog.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, msg, ve.Message)
}

func TestCreateProductTypeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateProductType(ctx, NewProductType{Name: "electronics", Files: files("a", "b")})
	require.NoError(t, err)
	assert.Positive(t, id)

	types, page, err := f.svc.ListProductTypes(ctx, params.ListQuery{Page: 1})
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "electronics", types[0].Name)
	assert.Equal(t, []string{
		publicBase + "/electronics/main/electronics_0.jpg",
		publicBase + "/electronics/main/electronics_1.jpg",
	}, types[0].Images)
	assert.Equal(t, params.Pagination{TotalItems: 1, ItemsPerPage: 10, CurrentPage: 1, TotalPages: 1}, page)

	assert.FileExists(t, onDisk(f, "electronics/main/electronics_0.jpg"))
	assert.FileExists(t, onDisk(f, "electronics/main/electronics_1.jpg"))

	pending, err := f.journal.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateProductTypeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProductType(ctx, NewProductType{Name: "  ", Files: files("a")})
	assertValidation(t, err, "Missing product type name")

	_, err = f.svc.CreateProductType(ctx, NewProductType{Name: "shoes"})
	assertValidation(t, err, "At least one image is required")

	entries, err := os.ReadDir(filepath.FromSlash(f.imgs.Root()))
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written for rejected requests")
}

func TestProductScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	typeID, err := f.svc.CreateProductType(ctx, NewProductType{Name: "electronics", Files: files("a", "b")})
	require.NoError(t, err)

	phoneID, err := f.svc.CreateProduct(ctx, NewProduct{
		Name:     "phone",
		Price:    decimal.RequireFromString("299.99"),
		Stock:    5,
		TypeName: strPtr("electronics"),
	})
	require.NoError(t, err)

	products, page, err := f.svc.ListProducts(ctx, params.ListQuery{Page: 1, Type: params.TypeFilter{Kind: params.TypeEquals, ID: typeID}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)
	require.Len(t, products, 1)
	assert.Equal(t, phoneID, products[0].ID)
	assert.Equal(t, 299.99, products[0].Price)
	assert.Equal(t, int64(5), products[0].Stock)
	assert.Empty(t, products[0].Images)
	require.NotNil(t, products[0].TypeName)
	assert.Equal(t, "electronics", *products[0].TypeName)
	assert.JSONEq(t, `{}`, string(products[0].Detail))

	// deleting the type cascades to the product
	require.NoError(t, f.svc.DeleteProductType(ctx, typeID))

	for _, filter := range []params.TypeFilter{{}, {Kind: params.TypeNull}, {Kind: params.TypeEquals, ID: typeID}} {
		products, _, err := f.svc.ListProducts(ctx, params.ListQuery{Page: 1, Type: filter})
		require.NoError(t, err)
		assert.Empty(t, products)
	}
	assert.NoDirExists(t, onDisk(f, "electronics"))
}

func TestCreateProductUnknownTypeWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProduct(ctx, NewProduct{
		Name:     "phone",
		TypeName: strPtr("missing"),
		Files:    files("x"),
	})
	assertValidation(t, err, "Invalid product type name")

	assert.NoDirExists(t, onDisk(f, "missing"))
	var n int
	require.NoError(t, f.conn.Get(&n, `SELECT COUNT(*) FROM products`))
	assert.Zero(t, n)
}

func TestCreateProductWithImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateProduct(ctx, NewProduct{
		Name:     "runner",
		Price:    decimal.NewFromInt(50),
		Detail:   json.RawMessage(` {"size": 42} `),
		TypeName: strPtr("  "),
		Files:    files("a", "b"),
	})
	require.NoError(t, err)

	products, _, err := f.svc.ListProducts(ctx, params.ListQuery{Page: 1, Type: params.TypeFilter{Kind: params.TypeNull}})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, id, products[0].ID)
	assert.JSONEq(t, `{"size":42}`, string(products[0].Detail))
	assert.Equal(t, []string{
		publicBase + "/other/runner/runner_0.jpg",
		publicBase + "/other/runner/runner_1.jpg",
	}, products[0].Images)

	require.NoError(t, f.svc.DeleteProduct(ctx, id))
	assert.NoDirExists(t, onDisk(f, "other"))
}

func TestDeleteProductNamedMainKeepsTypeImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	typeID, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("t")})
	require.NoError(t, err)

	for _, name := range []string{"main", "MAIN"} {
		id, err := f.svc.CreateProduct(ctx, NewProduct{
			Name:     name,
			TypeName: strPtr("shoes"),
			Files:    files("p"),
		})
		require.NoError(t, err)
		assert.FileExists(t, onDisk(f, "shoes/"+name+"_/"+name+"_0.jpg"))

		require.NoError(t, f.svc.DeleteProduct(ctx, id))
		assert.NoDirExists(t, onDisk(f, "shoes/"+name+"_"))
	}

	assert.FileExists(t, onDisk(f, "shoes/main/shoes_0.jpg"))
	types, _, err := f.svc.ListProductTypes(ctx, params.ListQuery{Page: 1})
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, typeID, types[0].ID)
	assert.Equal(t, []string{publicBase + "/shoes/main/shoes_0.jpg"}, types[0].Images)
}

func TestDeleteLegacyProductInTypeDirKeepsTypeImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("t")})
	require.NoError(t, err)

	// a row written before directories were recorded, its file inside the type's folder
	legacy := f.imgs.Root() + "/shoes/main/main_0.jpg"
	require.NoError(t, os.WriteFile(filepath.FromSlash(legacy), []byte("p"), 0o644))
	res, err := f.conn.Exec(`INSERT INTO products (name_products, price, detail, stock, created_at) VALUES ('main', 0, '{}', 0, ?)`, time.Now())
	require.NoError(t, err)
	pid, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = f.conn.Exec(`INSERT INTO images (image_path, product_id) VALUES (?, ?)`, legacy, pid)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteProduct(ctx, pid))
	assert.NoFileExists(t, filepath.FromSlash(legacy))
	assert.FileExists(t, onDisk(f, "shoes/main/shoes_0.jpg"))
}

func TestProductValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewProduct
		msg  string
	}{
		{"missing name", NewProduct{Name: " "}, "Missing product name"},
		{"negative price", NewProduct{Name: "a", Price: decimal.NewFromInt(-1)}, "Price must not be negative"},
		{"negative stock", NewProduct{Name: "a", Stock: -1}, "Stock must not be negative"},
		{"bad detail", NewProduct{Name: "a", Detail: json.RawMessage(`{nope`)}, "Detail must be valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateProduct(ctx, tt.in)
			assertValidation(t, err, tt.msg)

			err = f.svc.UpdateProduct(ctx, 1, UpdateProduct{Name: tt.in.Name, Price: tt.in.Price, Stock: tt.in.Stock, Detail: tt.in.Detail})
			assertValidation(t, err, tt.msg)
		})
	}
}

func TestUpdateProductTypeAcceptsPublicURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("a", "b")})
	require.NoError(t, err)

	types, _, err := f.svc.ListProductTypes(ctx, params.ListQuery{Page: 1})
	require.NoError(t, err)
	keep := types[0].Images[1]

	require.NoError(t, f.svc.UpdateProductType(ctx, id, UpdateProductType{Name: "sneakers", ImagesPath: []string{keep}}))

	var stored []string
	require.NoError(t, f.conn.Select(&stored, `SELECT image_path FROM images`))
	assert.Equal(t, []string{f.imgs.Root() + "/shoes/main/shoes_1.jpg"}, stored)

	types, _, err = f.svc.ListProductTypes(ctx, params.ListQuery{Page: 1, Search: "sneak"})
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, []string{keep}, types[0].Images)
}

func TestListPastLastPageIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("a")})
	require.NoError(t, err)
	_, err = f.svc.CreateProduct(ctx, NewProduct{Name: "runner"})
	require.NoError(t, err)

	for _, page := range []string{"2", "1844674407370955162"} {
		q := params.ParseListQuery(url.Values{"page": []string{page}})

		types, p, err := f.svc.ListProductTypes(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, types, "page=%s", page)
		assert.Equal(t, 1, p.TotalItems)

		products, p, err := f.svc.ListProducts(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, products, "page=%s", page)
		assert.Equal(t, 1, p.TotalItems)
	}
}

func TestUpdateProductUnknownType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateProduct(ctx, NewProduct{Name: "phone"})
	require.NoError(t, err)

	err = f.svc.UpdateProduct(ctx, id, UpdateProduct{Name: "phone", TypeName: strPtr("missing")})
	assertValidation(t, err, "Invalid product type name")
}

func TestMissingIDsSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.UpdateProductType(ctx, 42, UpdateProductType{Name: "x"}))
	assert.NoError(t, f.svc.DeleteProductType(ctx, 42))
	assert.NoError(t, f.svc.UpdateProduct(ctx, 42, UpdateProduct{Name: "x"}))
	assert.NoError(t, f.svc.DeleteProduct(ctx, 42))
}

// failingStore fails every create after the images were written.
type failingStore struct {
	catalog.Store
}

var errInsert = errors.New("insert failed")

func (s failingStore) CreateProductType(ctx context.Context, t *catalog.ProductType) (int64, error) {
	return 0, &catalog.TxError{Op: "insert product type", Err: errInsert}
}

func (s failingStore) CreateProduct(ctx context.Context, p *catalog.Product, typeName *string) (int64, error) {
	return 0, &catalog.TxError{Op: "insert product", Err: errInsert}
}

func TestFailedCreateRemovesImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := New(failingStore{f.repo}, f.imgs, f.journal, zap.NewNop().Sugar(), 10)

	_, err := svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("a", "b")})
	var txErr *catalog.TxError
	require.ErrorAs(t, err, &txErr)
	assert.ErrorIs(t, err, errInsert)
	assert.NoDirExists(t, onDisk(f, "shoes"))

	_, err = svc.CreateProduct(ctx, NewProduct{Name: "runner", Files: files("a")})
	require.ErrorAs(t, err, &txErr)
	assert.NoDirExists(t, onDisk(f, "other"))

	pending, err := f.journal.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedCreateKeepsReferencedImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("a")})
	require.NoError(t, err)

	svc := New(failingStore{f.repo}, f.imgs, f.journal, zap.NewNop().Sugar(), 10)
	_, err = svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("b", "c")})
	require.Error(t, err)

	// shoes_0 is still referenced by the first type, shoes_1 was only ever written by the failed call
	assert.FileExists(t, onDisk(f, "shoes/main/shoes_0.jpg"))
	assert.NoFileExists(t, onDisk(f, "shoes/main/shoes_1.jpg"))
}

// brokenRemoval makes every owner removal fail.
type brokenRemoval struct {
	*images.Local
}

func (b brokenRemoval) RemoveOwner(ctx context.Context, o images.Owner) error {
	return &images.FSError{Op: "remove_dir", Path: o.Dir, Err: os.ErrPermission}
}

func TestDeleteSucceedsWhenFilesCannotBeRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := New(f.repo, brokenRemoval{f.imgs}, f.journal, zap.NewNop().Sugar(), 10)

	id, err := svc.CreateProduct(ctx, NewProduct{Name: "runner", Files: files("a")})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProduct(ctx, id))

	var n int
	require.NoError(t, f.conn.Get(&n, `SELECT COUNT(*) FROM products`))
	assert.Zero(t, n)
	assert.FileExists(t, onDisk(f, "other/runner/runner_0.jpg"), "left for the orphan sweep")
}

func TestRecoverRemovesUncommittedImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("a")})
	require.NoError(t, err)
	committed := f.imgs.Root() + "/shoes/main/shoes_0.jpg"

	// simulate a crash between the file write and the commit
	target := images.Target{Kind: images.KindProduct, Name: "runner"}
	intent, err := f.journal.Begin("create_product", f.imgs.OwnerDir(target))
	require.NoError(t, err)
	stray, err := f.imgs.Save(ctx, target, 0, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, f.journal.Add(intent.ID, stray))
	require.NoError(t, f.journal.Add(intent.ID, committed))

	removed, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.FromSlash(stray))
	assert.FileExists(t, filepath.FromSlash(committed))

	pending, err := f.journal.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateProductType(ctx, NewProductType{Name: "shoes", Files: files("a")})
	require.NoError(t, err)
	referenced := onDisk(f, "shoes/main/shoes_0.jpg")

	old := time.Now().Add(-2 * time.Hour)
	write := func(rel string, mod time.Time) string {
		p := onDisk(f, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(p, mod, mod))
		return p
	}
	require.NoError(t, os.Chtimes(referenced, old, old))
	oldOrphan := write("gone/product/product_0.jpg", old)
	freshOrphan := write("other/new/new_0.jpg", time.Now())
	placeholder := write(images.PlaceholderFile, old)

	// an open intent protects its directory
	_, err = f.journal.Begin("create_product", f.imgs.Root()+"/busy/item")
	require.NoError(t, err)
	inFlight := write("busy/item/item_0.jpg", old)

	removed, err := f.svc.SweepOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, oldOrphan)
	assert.NoDirExists(t, onDisk(f, "gone"))
	assert.FileExists(t, referenced)
	assert.FileExists(t, freshOrphan)
	assert.FileExists(t, placeholder)
	assert.FileExists(t, inFlight)
}
