package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products_type (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		products_type_name TEXT NOT NULL,
		image_dir TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name_products TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '{}',
		stock INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		products_type_id INTEGER NULL,
		image_dir TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_path TEXT NOT NULL,
		product_type_id INTEGER NULL,
		product_id INTEGER NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_type_id ON products (products_type_id)`,
	`CREATE INDEX IF NOT EXISTS idx_images_product_type_id ON images (product_type_id)`,
	`CREATE INDEX IF NOT EXISTS idx_images_product_id ON images (product_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products_type (
		id BIGSERIAL PRIMARY KEY,
		products_type_name TEXT NOT NULL,
		image_dir TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name_products TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		detail JSONB NOT NULL DEFAULT '{}'::jsonb,
		stock BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		products_type_id BIGINT NULL,
		image_dir TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS images (
		id BIGSERIAL PRIMARY KEY,
		image_path TEXT NOT NULL,
		product_type_id BIGINT NULL,
		product_id BIGINT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_type_id ON products (products_type_id)`,
	`CREATE INDEX IF NOT EXISTS idx_images_product_type_id ON images (product_type_id)`,
	`CREATE INDEX IF NOT EXISTS idx_images_product_id ON images (product_id)`,
}

// Migrate creates the catalog tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == "pgx" {
		schema = postgresSchema
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
