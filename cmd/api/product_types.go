package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"shopcatalog/internal/domain/catalog"
	"shopcatalog/internal/params"
	"shopcatalog/internal/service"
)

type ackResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

type ProductTypeListResponse struct {
	Data       []*catalog.ProductType `json:"data"`
	Pagination params.Pagination      `json:"pagination"`
}

type updateProductTypePayload struct {
	Name       string   `json:"name"`
	ImagesPath []string `json:"images_path"`
}

// parseID reads the {id} path parameter, which must be a positive integer.
func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func (app *application) ack(w http.ResponseWriter, r *http.Request, id int64, message string) {
	if err := app.jsonResponse(w, http.StatusOK, ackResponse{ID: id, Message: message}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// listProductTypesHandler godoc
//
//	@Summary		List product types
//	@Description	Paginated list of product types with their image URLs. search matches the name.
//	@Tags			product-types
//	@Produce		json
//	@Param			search	query		string	false	"Name contains"
//	@Param			page	query		int		false	"Page number"	default(1)
//	@Success		200		{object}	ProductTypeListResponse
//	@Failure		500		{object}	error
//	@Router			/product-types [get]
func (app *application) listProductTypesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	types, p, err := app.catalog.ListProductTypes(ctx, params.ParseListQuery(r.URL.Query()))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, ProductTypeListResponse{Data: types, Pagination: p}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// createProductTypeHandler godoc
//
//	@Summary		Create a product type
//	@Description	Creates a product type and stores its images in order.
//	@Tags			product-types
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			name			formData	string	true	"Type name"
//	@Param			main_image[]	formData	file	true	"Images (jpeg, png or webp), at least one"
//	@Success		200				{object}	ackResponse
//	@Failure		400				{object}	error
//	@Failure		500				{object}	error
//	@Router			/product-types [post]
func (app *application) createProductTypeHandler(w http.ResponseWriter, r *http.Request) {
	cleanup, err := parseMultipart(w, r)
	defer cleanup()
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

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	id, err := app.catalog.CreateProductType(ctx, service.NewProductType{
		Name:  r.FormValue("name"),
		Files: files,
	})
	if err != nil {
		app.serviceError(w, r, err)
		return
	}

	app.ack(w, r, id, "Product type created")
}

// updateProductTypeHandler godoc
//
//	@Summary		Update a product type
//	@Description	Renames the type and replaces its image list. Missing ids succeed without changes.
//	@Tags			product-types
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int							true	"Product type ID"
//	@Param			payload	body		updateProductTypePayload	true	"New values"
//	@Success		200		{object}	ackResponse
//	@Failure		400		{object}	error
//	@Failure		500		{object}	error
//	@Router			/product-types/{id} [put]
func (app *application) updateProductTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var payload updateProductTypePayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err = app.catalog.UpdateProductType(ctx, id, service.UpdateProductType{
		Name:       payload.Name,
		ImagesPath: payload.ImagesPath,
	})
	if err != nil {
		app.serviceError(w, r, err)
		return
	}

	app.ack(w, r, id, "Product type updated")
}

// deleteProductTypeHandler godoc
//
//	@Summary		Delete a product type
//	@Description	Deletes the type, its products and all their images. Missing ids succeed.
//	@Tags			product-types
//	@Produce		json
//	@Param			id	path		int	true	"Product type ID"
//	@Success		200	{object}	ackResponse
//	@Failure		400	{object}	error
//	@Failure		500	{object}	error
//	@Router			/product-types/{id} [delete]
func (app *application) deleteProductTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := app.catalog.DeleteProductType(ctx, id); err != nil {
		app.serviceError(w, r, err)
		return
	}

	app.ack(w, r, id, "Product type deleted")
}
