// Package model holds the catalogue entities and their request shapes.
package model

import "time"

// DefaultAvailableQuantity is used when a create request omits the quantity.
const DefaultAvailableQuantity = 1

// Image is a catalogue entry. Timestamps are kept for ordering and are not
// serialized.
type Image struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Author            string    `json:"author"`
	ISBN              string    `json:"ISBN"`
	AvailableQuantity int       `json:"availableQuantity"`
	ShelfLocation     string    `json:"shelfLocation"`
	FilePath          *string   `json:"filePath,omitempty"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// ImageCreate is the body of a create request.
type ImageCreate struct {
	Title             string  `json:"title" binding:"required,min=3,max=100"`
	Author            string  `json:"author" binding:"required,min=3,max=100"`
	ISBN              string  `json:"ISBN" binding:"required,min=3,max=100"`
	AvailableQuantity *int    `json:"availableQuantity" binding:"omitempty,min=0"`
	ShelfLocation     string  `json:"shelfLocation" binding:"required,min=3,max=100"`
	FilePath          *string `json:"filePath" binding:"omitempty,max=255"`
}

// Quantity returns the requested quantity or the default.
func (c *ImageCreate) Quantity() int {
	if c.AvailableQuantity == nil {
		return DefaultAvailableQuantity
	}
	return *c.AvailableQuantity
}

// ImageUpdate is the body of an update request. Nil fields are left as is.
type ImageUpdate struct {
	Title             *string `json:"title" binding:"omitempty,min=3,max=100"`
	Author            *string `json:"author" binding:"omitempty,min=3,max=100"`
	ISBN              *string `json:"ISBN" binding:"omitempty,min=3,max=100"`
	AvailableQuantity *int    `json:"availableQuantity" binding:"omitempty,min=0"`
	ShelfLocation     *string `json:"shelfLocation" binding:"omitempty,min=3,max=100"`
	FilePath          *string `json:"filePath" binding:"omitempty,max=255"`
}

// Apply copies the set fields of u onto img and reports whether anything
// changed.
func (u *ImageUpdate) Apply(img *Image) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}

	setString(&img.Title, u.Title)
	setString(&img.Author, u.Author)
	setString(&img.ISBN, u.ISBN)
	setString(&img.ShelfLocation, u.ShelfLocation)

	if u.AvailableQuantity != nil && img.AvailableQuantity != *u.AvailableQuantity {
		img.AvailableQuantity = *u.AvailableQuantity
		changed = true
	}
	if u.FilePath != nil && (img.FilePath == nil || *img.FilePath != *u.FilePath) {
		fp := *u.FilePath
		img.FilePath = &fp
		changed = true
	}

	return changed
}

// Page selects a slice of a listing. Limit below 1 means no limit.
type Page struct {
	Limit int `form:"limit,default=-1" binding:"min=-1"`
	Page  int `form:"page,default=1" binding:"min=1"`
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Limit < 1 || p.Page < 2 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
