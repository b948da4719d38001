package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shopcatalog/internal/db"
	"shopcatalog/internal/domain/catalog"
	"shopcatalog/internal/images"
	"shopcatalog/internal/journal"
	"shopcatalog/internal/params"
	"shopcatalog/internal/ratelimiter"
	"shopcatalog/internal/service"
)

const testAPIURL = "http://catalog.test"

type testApp struct {
	app  *application
	mux  http.Handler
	imgs *images.Local
}

func newTestApplication(t *testing.T, cfg config) *testApp {
	t.Helper()
	dir := t.TempDir()

	conn, err := db.New(db.DriverSQLite, filepath.Join(dir, "catalog.db"), 4, 4, "1m")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))

	imgs, err := images.NewLocal(filepath.Join(dir, "dbimages"), testAPIURL+"/images")
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	logger := zap.NewNop().Sugar()

	cfg.apiURL = testAPIURL
	cfg.auth.basic = basicConfig{user: "admin", pass: "secret"}
	if cfg.rateLimiter.RequestsPerTimeFrame == 0 {
		cfg.rateLimiter = ratelimiter.Config{RequestsPerTimeFrame: 100, TimeFrame: time.Minute}
	}

	rl := ratelimiter.NewFixedWindowLimiter(cfg.rateLimiter.RequestsPerTimeFrame, cfg.rateLimiter.TimeFrame)
	t.Cleanup(rl.Stop)

	app := &application{
		config:      cfg,
		logger:      logger,
		catalog:     service.New(catalog.NewRepository(conn, logger), imgs, j, logger, 10),
		images:      imgs,
		rateLimiter: rl,
	}
	return &testApp{app: app, mux: app.mount(), imgs: imgs}
}

func (ta *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ta.mux.ServeHTTP(rr, req)
	return rr
}

func pngBytes() []byte { return images.Placeholder() }

type part struct {
	field, value string
}

func multipartRequest(t *testing.T, target string, fields []part, files map[string][][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range fields {
		require.NoError(t, mw.WriteField(f.field, f.value))
	}
	for field, contents := range files {
		for i, c := range contents {
			fw, err := mw.CreateFormFile(field, "upload"+string(rune('a'+i))+".png")
			require.NoError(t, err)
			_, err = fw.Write(c)
			require.NoError(t, err)
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type ackBody struct {
	Data ackResponse `json:"data"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func createType(t *testing.T, ta *testApp, name string, n int) int64 {
	t.Helper()
	imgs := make([][]byte, n)
	for i := range imgs {
		imgs[i] = pngBytes()
	}
	rr := ta.do(multipartRequest(t, "/api/product-types", []part{{"name", name}}, map[string][][]byte{"main_image[]": imgs}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[ackBody](t, rr).Data.ID
}

func TestProductTypeLifecycle(t *testing.T) {
	ta := newTestApplication(t, config{})

	id := createType(t, ta, "electronics", 2)
	assert.Positive(t, id)

	rr := ta.do(httptest.NewRequest(http.MethodGet, "/api/product-types", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[ProductTypeListResponse](t, rr)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "electronics", list.Data[0].Name)
	assert.Equal(t, []string{
		testAPIURL + "/images/electronics/main/electronics_0.jpg",
		testAPIURL + "/images/electronics/main/electronics_1.jpg",
	}, list.Data[0].Images)
	assert.Equal(t, params.Pagination{TotalItems: 1, ItemsPerPage: 10, CurrentPage: 1, TotalPages: 1}, list.Pagination)

	// the listing's URLs can be sent back unchanged
	body := `{"name":"gadgets","images_path":["` + list.Data[0].Images[1] + `"]}`
	rr = ta.do(jsonRequest(http.MethodPut, "/api/product-types/1", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ta.do(httptest.NewRequest(http.MethodGet, "/api/product-types?search=gadg", nil))
	list = decode[ProductTypeListResponse](t, rr)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "gadgets", list.Data[0].Name)
	assert.Equal(t, []string{testAPIURL + "/images/electronics/main/electronics_1.jpg"}, list.Data[0].Images)

	rr = ta.do(httptest.NewRequest(http.MethodDelete, "/api/product-types/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ackResponse{ID: 1, Message: "Product type deleted"}, decode[ackBody](t, rr).Data)

	_, err := os.Stat(filepath.Join(filepath.FromSlash(ta.imgs.Root()), "electronics"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateProductTypeRejectsMissingImages(t *testing.T) {
	ta := newTestApplication(t, config{})

	rr := ta.do(multipartRequest(t, "/api/product-types", []part{{"name", "empty"}}, nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[errorBody](t, rr)
	assert.False(t, body.Success)
	assert.Equal(t, "At least one image is required", body.Message)
	assert.Equal(t, http.StatusBadRequest, body.Status)
}

func TestCreateRejectsNonImageUpload(t *testing.T) {
	ta := newTestApplication(t, config{})

	files := map[string][][]byte{"main_image": {[]byte("plain text, not an image")}}
	rr := ta.do(multipartRequest(t, "/api/product-types", []part{{"name", "docs"}}, files))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[errorBody](t, rr).Message, "invalid image type")
}

func TestProductLifecycle(t *testing.T) {
	ta := newTestApplication(t, config{})
	typeID := createType(t, ta, "drinks", 1)

	fields := []part{
		{"name", "cola"},
		{"price", "1.50"},
		{"stock", "12"},
		{"detail", `{"size":"330ml"}`},
		{"product_type_name", "drinks"},
	}
	rr := ta.do(multipartRequest(t, "/api/products", fields, map[string][][]byte{"main_image": {pngBytes()}}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	productID := decode[ackBody](t, rr).Data.ID

	rr = ta.do(httptest.NewRequest(http.MethodGet, "/api/products?type_id="+itoa(typeID), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[ProductListResponse](t, rr)
	require.Len(t, list.Data, 1)
	p := list.Data[0]
	assert.Equal(t, "cola", p.Name)
	assert.InDelta(t, 1.5, p.Price, 1e-9)
	assert.Equal(t, int64(12), p.Stock)
	assert.JSONEq(t, `{"size":"330ml"}`, string(p.Detail))
	require.NotNil(t, p.TypeName)
	assert.Equal(t, "drinks", *p.TypeName)
	assert.Equal(t, []string{testAPIURL + "/images/drinks/cola/cola_0.jpg"}, p.Images)

	// listing field names are accepted on update
	body := `{"name_product":"cola zero","price":"1.75","stock":3,"detail":null,"products_type_name":"drinks","images_path":[]}`
	rr = ta.do(jsonRequest(http.MethodPut, "/api/products/"+itoa(productID), body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ta.do(httptest.NewRequest(http.MethodGet, "/api/products?search=zero", nil))
	list = decode[ProductListResponse](t, rr)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "cola zero", list.Data[0].Name)
	assert.JSONEq(t, `{}`, string(list.Data[0].Detail))
	assert.Empty(t, list.Data[0].Images)

	rr = ta.do(httptest.NewRequest(http.MethodDelete, "/api/products/"+itoa(productID), nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ta.do(httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Empty(t, decode[ProductListResponse](t, rr).Data)
}

func TestCreateProductErrors(t *testing.T) {
	ta := newTestApplication(t, config{})

	tests := []struct {
		name    string
		fields  []part
		message string
	}{
		{"unknown type", []part{{"name", "tea"}, {"product_type_name", "nope"}}, "Invalid product type name"},
		{"missing name", []part{{"price", "1"}}, "Missing product name"},
		{"negative price", []part{{"name", "tea"}, {"price", "-2"}}, "Price must not be negative"},
		{"negative stock", []part{{"name", "tea"}, {"stock", "-1"}}, "Stock must not be negative"},
		{"bad detail", []part{{"name", "tea"}, {"detail", "{oops"}}, "Detail must be valid JSON"},
		{"bad price", []part{{"name", "tea"}, {"price", "cheap"}}, `invalid price "cheap"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ta.do(multipartRequest(t, "/api/products", tt.fields, nil))
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, tt.message, decode[errorBody](t, rr).Message)
		})
	}

	rr := ta.do(httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Empty(t, decode[ProductListResponse](t, rr).Data)
}

func TestInvalidID(t *testing.T) {
	ta := newTestApplication(t, config{})

	for _, target := range []string{"/api/products/abc", "/api/products/0", "/api/product-types/-4"} {
		rr := ta.do(httptest.NewRequest(http.MethodDelete, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestMissingIDsSucceed(t *testing.T) {
	ta := newTestApplication(t, config{})

	rr := ta.do(httptest.NewRequest(http.MethodDelete, "/api/products/42", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ta.do(jsonRequest(http.MethodPut, "/api/product-types/42", `{"name":"ghost","images_path":[]}`))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUpdateRejectsUnknownFields(t *testing.T) {
	ta := newTestApplication(t, config{})

	rr := ta.do(jsonRequest(http.MethodPut, "/api/product-types/1", `{"name":"x","color":"red"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeImage(t *testing.T) {
	ta := newTestApplication(t, config{})
	createType(t, ta, "shoes", 1)

	rr := ta.do(httptest.NewRequest(http.MethodGet, "/images/shoes/main/shoes_0.jpg", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, pngBytes(), rr.Body.Bytes())

	// missing files fall back to the placeholder
	rr = ta.do(httptest.NewRequest(http.MethodGet, "/images/shoes/main/missing.jpg", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, images.Placeholder(), rr.Body.Bytes())

	rr = ta.do(httptest.NewRequest(http.MethodGet, "/images/../../etc/passwd", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, images.Placeholder(), rr.Body.Bytes())

	// a provisioned 404.jpg wins over the built-in placeholder
	custom := []byte("\xff\xd8\xff\xe0custom placeholder")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.FromSlash(ta.imgs.Root()), images.PlaceholderFile), custom, 0o644))
	rr = ta.do(httptest.NewRequest(http.MethodGet, "/images/nothing/here.jpg", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, custom, rr.Body.Bytes())
}

func TestHealthRequiresBasicAuth(t *testing.T) {
	ta := newTestApplication(t, config{env: "test"})

	rr := ta.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
	assert.Equal(t, http.StatusUnauthorized, ta.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.SetBasicAuth("admin", "secret")
	rr = ta.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]string{"status": "ok", "env": "test", "version": version}, decode[map[string]string](t, rr))
}

func TestBasicAuthRejectsWhenUnconfigured(t *testing.T) {
	ta := newTestApplication(t, config{env: "test"})
	ta.app.config.auth.basic = basicConfig{}
	ta.mux = ta.app.mount()

	for _, path := range []string{"/health", "/debug/vars"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("", "")
		assert.Equal(t, http.StatusUnauthorized, ta.do(req).Code, path)

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("admin", "admin")
		assert.Equal(t, http.StatusUnauthorized, ta.do(req).Code, path)
	}

	// a user without a password is still unconfigured
	ta.app.config.auth.basic = basicConfig{user: "admin"}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.SetBasicAuth("admin", "")
	assert.Equal(t, http.StatusUnauthorized, ta.do(req).Code)
}

func TestLoadConfigHasNoDefaultCredentials(t *testing.T) {
	t.Setenv("AUTH_BASIC_USER", "")
	t.Setenv("AUTH_BASIC_PASS", "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, basicConfig{}, cfg.auth.basic)
	assert.False(t, cfg.auth.basic.configured())

	t.Setenv("AUTH_BASIC_USER", "ops")
	t.Setenv("AUTH_BASIC_PASS", "s3cret")
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.auth.basic.configured())
}

func TestRateLimiterOnWrites(t *testing.T) {
	ta := newTestApplication(t, config{rateLimiter: ratelimiter.Config{
		RequestsPerTimeFrame: 2,
		TimeFrame:            time.Minute,
		Enabled:              true,
	}})

	for i := 0; i < 2; i++ {
		rr := ta.do(httptest.NewRequest(http.MethodDelete, "/api/products/7", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := ta.do(httptest.NewRequest(http.MethodDelete, "/api/products/7", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// reads are not limited
	rr = ta.do(httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	ta := newTestApplication(t, config{})

	rr := ta.do(httptest.NewRequest(http.MethodGet, "/api/nothing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not found", decode[errorBody](t, rr).Message)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
