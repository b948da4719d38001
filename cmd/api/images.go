package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"shopcatalog/internal/images"
)

const maxUploadBytes = 32 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// helper: sniff first 512 bytes and reset reader
func sniffMIME(file multipart.File) (string, error) {
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read: %w", err)
	}
	mime := http.DetectContentType(buf[:n])

	// reset so later reads start from byte 0
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek reset: %w", err)
	}
	return mime, nil
}

// parseMultipart parses the request form. The caller must call the returned
// cleanup once the uploaded files are no longer needed.
func parseMultipart(w http.ResponseWriter, r *http.Request) (func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return func() {}, fmt.Errorf("failed to parse form: %w", err)
	}
	return func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}, nil
}

// readImageFiles opens the uploaded images in the order they were sent. Both
// main_image[] and main_image are accepted.
func readImageFiles(r *http.Request) ([]io.Reader, func(), error) {
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = append(headers, r.MultipartForm.File["main_image[]"]...)
		headers = append(headers, r.MultipartForm.File["main_image"]...)
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	files := make([]io.Reader, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		opened = append(opened, f)

		mime, err := sniffMIME(f)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("sniff mime: %w", err)
		}
		if !allowedImageTypes[mime] {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid image type: %s", mime)
		}
		files = append(files, f)
	}
	return files, closeAll, nil
}

// serveImageHandler godoc
//
//	@Summary		Serve an image
//	@Description	Returns the stored image file, or the placeholder image when it does not exist.
//	@Tags			images
//	@Produce		image/jpeg
//	@Param			path	path	string	true	"Image path below the image root"
//	@Success		200
//	@Router			/images/{path} [get]
func (app *application) serveImageHandler(w http.ResponseWriter, r *http.Request) {
	local, ok := app.images.(*images.Local)
	if !ok {
		app.servePlaceholder(w, r, nil)
		return
	}

	p, found := local.Lookup(chi.URLParam(r, "*"))
	if !found {
		app.servePlaceholder(w, r, local)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		app.logger.Warnw("open image", "path", p, "error", err)
		app.servePlaceholder(w, r, local)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		app.logger.Warnw("stat image", "path", p, "error", err)
		app.servePlaceholder(w, r, local)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// servePlaceholder writes the provisioned 404.jpg when the root has one,
// otherwise the built-in placeholder. The status stays 200.
func (app *application) servePlaceholder(w http.ResponseWriter, r *http.Request, local *images.Local) {
	if local != nil {
		if p, ok := local.PlaceholderPath(); ok {
			if data, err := os.ReadFile(p); err == nil {
				http.ServeContent(w, r, images.PlaceholderFile, time.Time{}, bytes.NewReader(data))
				return
			}
		}
	}

	data := images.Placeholder()
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
