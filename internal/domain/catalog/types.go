package catalog

import (
	"encoding/json"
	"time"

	"shopcatalog/internal/images"
	"shopcatalog/internal/params"
)

type ProductType struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	ImageDir string   `json:"-"`
	Images   []string `json:"images_path"`
}

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name_product"`
	Price     float64         `json:"price"`
	Detail    json.RawMessage `json:"detail" swaggertype:"object"`
	Images    []string        `json:"images_path"`
	Stock     int64           `json:"stock"`
	CreatedAt time.Time       `json:"create_at"`
	TypeID    *int64          `json:"products_type_id"`
	TypeName  *string         `json:"products_type_name"`
	ImageDir  string          `json:"-"`
}

// ListFilter selects one page of a listing.
type ListFilter struct {
	Search string
	Type   params.TypeFilter // products only
	Limit  int
	Offset int
}

// Removal describes what a delete took out of the database, so the caller
// can remove the matching files once the transaction committed.
type Removal struct {
	Owners   []images.Owner
	Products int64 // product rows deleted
	Images   int64 // image rows deleted
}

type typeRow struct {
	ID       int64  `db:"id"`
	Name     string `db:"products_type_name"`
	ImageDir string `db:"image_dir"`
}

type productRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name_products"`
	Price     float64   `db:"price"`
	Detail    []byte    `db:"detail"`
	Stock     int64     `db:"stock"`
	CreatedAt time.Time `db:"created_at"`
	TypeID    *int64    `db:"products_type_id"`
	TypeName  *string   `db:"products_type_name"`
	ImageDir  string    `db:"image_dir"`
}

type imageRow struct {
	ID      int64  `db:"id"`
	Path    string `db:"image_path"`
	OwnerID int64  `db:"owner_id"`
}

func (r *productRow) product() *Product {
	return &Product{
		ID:        r.ID,
		Name:      r.Name,
		Price:     r.Price,
		Detail:    detailJSON(r.Detail),
		Images:    []string{},
		Stock:     r.Stock,
		CreatedAt: r.CreatedAt,
		TypeID:    r.TypeID,
		TypeName:  r.TypeName,
		ImageDir:  r.ImageDir,
	}
}

// detailJSON keeps stored JSON as is and quotes anything else as a JSON string,
// so a bad legacy row cannot break the whole listing response.
func detailJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
