package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopcatalog/internal/domain/catalog"
	"shopcatalog/internal/params"
	"shopcatalog/internal/service"
)

type ProductListResponse struct {
	Data       []*catalog.Product `json:"data"`
	Pagination params.Pagination  `json:"pagination"`
}

// updateProductPayload accepts the field names of the listing as well as the
// ones of the create form.
type updateProductPayload struct {
	Name             *string         `json:"name"`
	NameProduct      *string         `json:"name_product"`
	Price            decimal.Decimal `json:"price" swaggertype:"number"`
	Stock            int64           `json:"stock"`
	Detail           json.RawMessage `json:"detail" swaggertype:"object"`
	ProductTypeName  *string         `json:"product_type_name"`
	ProductsTypeName *string         `json:"products_type_name"`
	ImagesPath       []string        `json:"images_path"`
}

func (p updateProductPayload) name() string {
	if p.Name != nil {
		return *p.Name
	}
	if p.NameProduct != nil {
		return *p.NameProduct
	}
	return ""
}

func (p updateProductPayload) typeName() *string {
	if p.ProductTypeName != nil {
		return p.ProductTypeName
	}
	return p.ProductsTypeName
}

// listProductsHandler godoc
//
//	@Summary		List products
//	@Description	Paginated list of products with their type and image URLs.
//	@Description	type_id=null selects products without a type.
//	@Tags			products
//	@Produce		json
//	@Param			search	query		string	false	"Name contains"
//	@Param			page	query		int		false	"Page number"	default(1)
//	@Param			type_id	query		string	false	"Type id or null"
//	@Success		200		{object}	ProductListResponse
//	@Failure		500		{object}	error
//	@Router			/products [get]
func (app *application) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	products, p, err := app.catalog.ListProducts(ctx, params.ParseListQuery(r.URL.Query()))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, ProductListResponse{Data: products, Pagination: p}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// createProductHandler godoc
//
//	@Summary		Create a product
//	@Description	Creates a product, optionally attached to an existing product type by name.
//	@Tags			products
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			name				formData	string	true	"Product name"
//	@Param			price				formData	number	false	"Price"
//	@Param			stock				formData	int		false	"Stock"
//	@Param			detail				formData	string	false	"Detail as a JSON object"
//	@Param			product_type_name	formData	string	false	"Existing product type name"
//	@Param			main_image[]		formData	file	false	"Images (jpeg, png or webp)"
//	@Success		200					{object}	ackResponse
//	@Failure		400					{object}	error
//	@Failure		500					{object}	error
//	@Router			/products [post]
func (app *application) createProductHandler(w http.ResponseWriter, r *http.Request) {
	cleanup, err := parseMultipart(w, r)
	defer cleanup()
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	price, err := formDecimal(r, "price")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	stock, err := formInt(r, "stock")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	files, closeFiles, err := readImageFiles(r)
	defer closeFiles()
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	in := service.NewProduct{
		Name:   r.FormValue("name"),
		Price:  price,
		Stock:  stock,
		Detail: json.RawMessage(r.FormValue("detail")),
		Files:  files,
	}
	if vals, ok := r.MultipartForm.Value["product_type_name"]; ok && len(vals) > 0 {
		in.TypeName = &vals[0]
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	id, err := app.catalog.CreateProduct(ctx, in)
	if err != nil {
		app.serviceError(w, r, err)
		return
	}

	app.ack(w, r, id, "Product created")
}

// updateProductHandler godoc
//
//	@Summary		Update a product
//	@Description	Replaces every field and the image list. Missing ids succeed without changes.
//	@Tags			products
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int						true	"Product ID"
//	@Param			payload	body		updateProductPayload	true	"New values"
//	@Success		200		{object}	ackResponse
//	@Failure		400		{object}	error
//	@Failure		500		{object}	error
//	@Router			/products/{id} [put]
func (app *application) updateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload updateProductPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err = app.catalog.UpdateProduct(ctx, id, service.UpdateProduct{
		Name:       payload.name(),
		Price:      payload.Price,
		Stock:      payload.Stock,
		Detail:     payload.Detail,
		TypeName:   payload.typeName(),
		ImagesPath: payload.ImagesPath,
	})
	if err != nil {
		app.serviceError(w, r, err)
		return
	}

	app.ack(w, r, id, "Product updated")
}

// deleteProductHandler godoc
//
//	@Summary		Delete a product
//	@Description	Deletes the product and its images. Missing ids succeed.
//	@Tags			products
//	@Produce		json
//	@Param			id	path		int	true	"Product ID"
//	@Success		200	{object}	ackResponse
//	@Failure		400	{object}	error
//	@Failure		500	{object}	error
//	@Router			/products/{id} [delete]
func (app *application) deleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := app.catalog.DeleteProduct(ctx, id); err != nil {
		app.serviceError(w, r, err)
		return
	}

	app.ack(w, r, id, "Product deleted")
}

// formDecimal parses an optional decimal form field; empty means zero.
func formDecimal(r *http.Request, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

// formInt parses an optional integer form field; empty means zero.
func formInt(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}
