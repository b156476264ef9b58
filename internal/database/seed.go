package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// BatchLoader stores seed records.
type BatchLoader[T any] interface {
	// IsEmpty reports whether nothing has been stored yet.
	IsEmpty(ctx context.Context) (bool, error)

	// AddBatch stores items in one unit of work.
	AddBatch(ctx context.Context, items []T) (int, error)
}

// Seed loads the JSON array at path into loader when loader is empty. A
// missing file is not an error. Every record must pass each validate func
// before anything is stored; all failing records are reported together. It
// returns the number of stored records.
func Seed[T any](ctx context.Context, path string, loader BatchLoader[T], validate ...func(T) error) (int, error) {
	if path == "" {
		return 0, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading seed file: %w", err)
	}

	empty, err := loader.IsEmpty(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking seed target: %w", err)
	}
	if !empty {
		return 0, nil
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, fmt.Errorf("decoding seed file %s: %w", path, err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var invalid []error
	for i, item := range items {
		for _, check := range validate {
			if err := check(item); err != nil {
				invalid = append(invalid, fmt.Errorf("seed record %d: %w", i, err))
				break
			}
		}
	}
	if len(invalid) > 0 {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSeed, errors.Join(invalid...))
	}

	return loader.AddBatch(ctx, items)
}
