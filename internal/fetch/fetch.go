// Package fetch provides vendor-neutral model.Fetcher implementations.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"market-syncv1/internal/model"
	"market-syncv1/internal/retry"
)

// Func adapts a function to model.Fetcher.
type Func func(ctx context.Context, class model.DataClass) (model.Batch, error)

func (f Func) Fetch(ctx context.Context, class model.DataClass) (model.Batch, error) {
	return f(ctx, class)
}

// FileSource reads <Dir>/<class>.json, a JSON array of records for the
// class. It is used for local runs and for replaying captured upstream
// responses.
type FileSource struct {
	Dir string
}

// Fetch decodes the file for class. A missing or malformed file is a
// permanent error; read errors are retryable.
func (s FileSource) Fetch(ctx context.Context, class model.DataClass) (model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	path := filepath.Join(s.Dir, string(class)+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Batch{}, retry.Permanent(fmt.Errorf("fetch %s: %w", class, err))
	}
	if err != nil {
		return model.Batch{}, fmt.Errorf("fetch %s: %w", class, err)
	}

	b := model.Batch{Class: class}
	switch class {
	case model.ClassQuotes:
		err = json.Unmarshal(data, &b.Quotes)
	case model.ClassIndicators:
		err = json.Unmarshal(data, &b.Observations)
	default:
		err = fmt.Errorf("unsupported data class")
	}
	if err != nil {
		return model.Batch{}, retry.Permanent(fmt.Errorf("fetch %s from %s: %w", class, path, err))
	}
	return b, nil
}
