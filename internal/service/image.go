// Package service implements the catalogue operations behind the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/assetgw/internal/database"
	"github.com/vyrodovalexey/assetgw/internal/model"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/repository"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// DuplicateISBNMessage is the conflict detail for a duplicate ISBN.
const DuplicateISBNMessage = "Looks Like there is already a Image with the same ISBN"

// ImageService implements the image catalogue use cases.
type ImageService struct {
	repo   *repository.ImageRepository
	tx     *database.TxManager
	logger observability.Logger
	now    func() time.Time
}

// Option configures an ImageService.
type Option func(*ImageService)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *ImageService) {
		s.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *ImageService) {
		s.now = now
	}
}

// NewImageService creates an ImageService.
func NewImageService(tx *database.TxManager, opts ...Option) *ImageService {
	s := &ImageService{
		repo:   repository.NewImageRepository(tx),
		tx:     tx,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores a new image. A duplicate ISBN is a CONFLICT.
func (s *ImageService) Add(ctx context.Context, in model.ImageCreate) (*model.Image, error) {
	img := s.newImage(in)
	if err := s.repo.Create(ctx, img); err != nil {
		return nil, s.mapWriteError(err)
	}
	return img, nil
}

// AddBatch stores images in one unit of work: either all are stored or none.
func (s *ImageService) AddBatch(ctx context.Context, items []model.ImageCreate) (int, error) {
	n, err := database.RunResult(ctx, s.tx, func(ctx context.Context) (int, error) {
		for i := range items {
			if err := s.repo.Create(ctx, s.newImage(items[i])); err != nil {
				return 0, fmt.Errorf("image %d (%s): %w", i, items[i].ISBN, s.mapWriteError(err))
			}
		}
		return len(items), nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithContext(ctx).Info("image batch stored", observability.Int("count", n))
	return n, nil
}

// IsEmpty reports whether the catalogue has no images.
func (s *ImageService) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// GetAll lists images, paginated by p.
func (s *ImageService) GetAll(ctx context.Context, p model.Page) ([]model.Image, error) {
	return s.repo.List(ctx, p.Limit, p.Offset())
}

// GetByID returns one image or ENTITY_NOT_FOUND.
func (s *ImageService) GetByID(ctx context.Context, id string) (*model.Image, error) {
	return s.found(s.repo.GetByID(ctx, id))
}

// GetByISBN returns one image or ENTITY_NOT_FOUND.
func (s *ImageService) GetByISBN(ctx context.Context, isbn string) (*model.Image, error) {
	return s.found(s.repo.GetByISBN(ctx, isbn))
}

// FindByTitle returns images whose title contains title.
func (s *ImageService) FindByTitle(ctx context.Context, title string) ([]model.Image, error) {
	return s.repo.FindByTitle(ctx, title)
}

// FindByAuthor returns images whose author contains author.
func (s *ImageService) FindByAuthor(ctx context.Context, author string) ([]model.Image, error) {
	return s.repo.FindByAuthor(ctx, author)
}

// Update applies patch to the image with id as one read-modify-write unit.
func (s *ImageService) Update(ctx context.Context, id string, patch model.ImageUpdate) (*model.Image, error) {
	return database.RunResult(ctx, s.tx, func(ctx context.Context) (*model.Image, error) {
		img, err := s.found(s.repo.GetByID(ctx, id))
		if err != nil {
			return nil, err
		}

		if !patch.Apply(img) {
			return img, nil
		}
		img.UpdatedAt = s.now()

		ok, err := s.repo.Update(ctx, img)
		if err != nil {
			return nil, s.mapWriteError(err)
		}
		if !ok {
			return nil, util.NewNotFoundError(repository.ErrNotFound)
		}
		return img, nil
	})
}

// Delete removes the image with id or returns ENTITY_NOT_FOUND.
func (s *ImageService) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return util.NewNotFoundError(repository.ErrNotFound)
	}
	return nil
}

func (s *ImageService) newImage(in model.ImageCreate) *model.Image {
	now := s.now()
	img := &model.Image{
		ID:                uuid.NewString(),
		Title:             in.Title,
		Author:            in.Author,
		ISBN:              in.ISBN,
		AvailableQuantity: in.Quantity(),
		ShelfLocation:     in.ShelfLocation,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.FilePath != nil {
		fp := *in.FilePath
		img.FilePath = &fp
	}
	return img
}

func (s *ImageService) found(img *model.Image, err error) (*model.Image, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, util.NewNotFoundError(err)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *ImageService) mapWriteError(err error) error {
	if database.IsUniqueViolation(err) {
		return util.NewConflictError(DuplicateISBNMessage, err)
	}
	return err
}
