// Package repository maps catalogue entities onto SQL tables.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/assetgw/internal/database"
	"github.com/vyrodovalexey/assetgw/internal/model"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("image not found")

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const imageColumns = `id, title, author, isbn, available_quantity, shelf_location, file_path, created_at, updated_at`

// ImageRepository stores images. Every method runs inside the unit of work
// carried by ctx, if any.
type ImageRepository struct {
	tx *database.TxManager
}

// NewImageRepository creates an ImageRepository.
func NewImageRepository(tx *database.TxManager) *ImageRepository {
	return &ImageRepository{tx: tx}
}

func (r *ImageRepository) exec(ctx context.Context) database.Executor {
	return r.tx.Executor(ctx)
}

func (r *ImageRepository) q(query string) string {
	return r.tx.DB().Rebind(query)
}

// Create inserts img.
func (r *ImageRepository) Create(ctx context.Context, img *model.Image) error {
	_, err := r.exec(ctx).ExecContext(ctx, r.q(
		`INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		img.ID, img.Title, img.Author, img.ISBN, img.AvailableQuantity, img.ShelfLocation,
		nullString(img.FilePath), formatTime(img.CreatedAt), formatTime(img.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting image: %w", err)
	}
	return nil
}

// List returns images in creation order. A limit below 1 returns all rows
// after offset.
func (r *ImageRepository) List(ctx context.Context, limit, offset int) ([]model.Image, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + imageColumns + ` FROM images ORDER BY created_at, id`)
	switch {
	case limit > 0:
		b.WriteString(` LIMIT ?`)
		args = append(args, limit)
	case offset > 0 && r.tx.DB().Driver() == database.DriverSQLite:
		// SQLite only accepts OFFSET after a LIMIT clause.
		b.WriteString(` LIMIT -1`)
	}
	if offset > 0 {
		b.WriteString(` OFFSET ?`)
		args = append(args, offset)
	}

	return r.query(ctx, b.String(), args...)
}

// GetByID returns the image with id.
func (r *ImageRepository) GetByID(ctx context.Context, id string) (*model.Image, error) {
	return r.getOne(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
}

// GetByISBN returns the image with isbn.
func (r *ImageRepository) GetByISBN(ctx context.Context, isbn string) (*model.Image, error) {
	return r.getOne(ctx, `SELECT `+imageColumns+` FROM images WHERE isbn = ?`, isbn)
}

// FindByTitle returns images whose title contains s, ignoring case.
func (r *ImageRepository) FindByTitle(ctx context.Context, s string) ([]model.Image, error) {
	return r.query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE LOWER(title) LIKE ? ESCAPE '\' ORDER BY created_at, id`,
		containsPattern(s))
}

// FindByAuthor returns images whose author contains s, ignoring case.
func (r *ImageRepository) FindByAuthor(ctx context.Context, s string) ([]model.Image, error) {
	return r.query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE LOWER(author) LIKE ? ESCAPE '\' ORDER BY created_at, id`,
		containsPattern(s))
}

// Update writes every mutable column of img. It reports whether a row
// matched.
func (r *ImageRepository) Update(ctx context.Context, img *model.Image) (bool, error) {
	res, err := r.exec(ctx).ExecContext(ctx, r.q(
		`UPDATE images SET title = ?, author = ?, isbn = ?, available_quantity = ?, shelf_location = ?,
			file_path = ?, updated_at = ? WHERE id = ?`),
		img.Title, img.Author, img.ISBN, img.AvailableQuantity, img.ShelfLocation,
		nullString(img.FilePath), formatTime(img.UpdatedAt), img.ID,
	)
	if err != nil {
		return false, fmt.Errorf("updating image: %w", err)
	}
	return affected(res)
}

// Delete removes the image with id. It reports whether a row matched.
func (r *ImageRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.exec(ctx).ExecContext(ctx, r.q(`DELETE FROM images WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("deleting image: %w", err)
	}
	return affected(res)
}

// Count returns the number of stored images.
func (r *ImageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.exec(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}

func (r *ImageRepository) getOne(ctx context.Context, query string, args ...any) (*model.Image, error) {
	row := r.exec(ctx).QueryRowContext(ctx, r.q(query), args...)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (r *ImageRepository) query(ctx context.Context, query string, args ...any) ([]model.Image, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	images := make([]model.Image, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating images: %w", err)
	}
	return images, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(s scanner) (*model.Image, error) {
	var (
		img                  model.Image
		filePath             sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(&img.ID, &img.Title, &img.Author, &img.ISBN, &img.AvailableQuantity,
		&img.ShelfLocation, &filePath, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning image: %w", err)
	}

	if filePath.Valid {
		fp := filePath.String
		img.FilePath = &fp
	}
	if img.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if img.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &img, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}
