package database

import (
	"context"
	"fmt"
)

// Timestamps are stored as RFC 3339 text so both drivers share one schema.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		author             TEXT NOT NULL,
		isbn               TEXT NOT NULL UNIQUE,
		available_quantity INTEGER NOT NULL DEFAULT 1 CHECK (available_quantity >= 0),
		shelf_location     TEXT NOT NULL,
		file_path          TEXT,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at)`,
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}
