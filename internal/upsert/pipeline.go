// Package upsert writes record sets into storage in bounded, ordered chunks.
//
// Each chunk is one atomic INSERT ... ON CONFLICT DO UPDATE, so replaying the
// same records converges to the same stored state. Chunks are written in
// input order, one at a time, with a pause between them. If a chunk fails the
// pipeline stops and reports how many rows were written before it.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkSize  = 100
	DefaultChunkDelay = 50 * time.Millisecond
)

// Writer applies one chunk as a single transaction and returns rows affected.
// Implemented by the storage backends.
type Writer interface {
	UpsertChunk(ctx context.Context, spec Spec, rows [][]any) (int64, error)
}

// ChunkError reports a failed chunk together with the rows written before it.
type ChunkError struct {
	Table   string
	Chunk   int // zero-based index of the failed chunk
	Chunks  int
	Written int64
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upsert %s: chunk %d/%d failed after %d rows: %v",
		e.Table, e.Chunk+1, e.Chunks, e.Written, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Config configures a Pipeline.
type Config struct {
	ChunkSize  int           // max rows per chunk
	ChunkDelay time.Duration // minimum spacing between chunk writes; 0 = none
}

// Pipeline chunks rows and writes them through a Writer.
type Pipeline struct {
	w      Writer
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	// OnChunk is called after each successful chunk (optional).
	OnChunk func(table string, rows int64, d time.Duration)
}

// New creates a Pipeline. A nil clock uses real time for updated-at stamps.
func New(w Writer, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{w: w, cfg: cfg, clock: clock, logger: logger}
}

// Upsert writes rows (each len(spec.Columns) values, in column order) and
// returns the total rows affected. On failure it returns the rows affected
// by the chunks that did commit together with a *ChunkError.
func (p *Pipeline) Upsert(ctx context.Context, spec Spec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	for i, r := range rows {
		if len(r) != len(spec.Columns) {
			return 0, fmt.Errorf("%w: %s row %d has %d values, want %d",
				ErrInvalidSpec, spec.Table, i, len(r), len(spec.Columns))
		}
	}

	stamp := p.clock.Now().UTC()
	chunks := (len(rows) + p.cfg.ChunkSize - 1) / p.cfg.ChunkSize
	pace := p.pacer()

	var written int64
	for i := 0; i < chunks; i++ {
		if err := pace.Wait(ctx); err != nil {
			return written, &ChunkError{Table: spec.Table, Chunk: i, Chunks: chunks, Written: written, Err: err}
		}

		lo := i * p.cfg.ChunkSize
		hi := min(lo+p.cfg.ChunkSize, len(rows))
		chunk := rows[lo:hi]
		if spec.TouchColumn != "" {
			chunk = stamped(chunk, stamp)
		}

		start := time.Now()
		n, err := p.w.UpsertChunk(ctx, spec, chunk)
		if err != nil {
			p.logger.Error("upsert chunk failed",
				"table", spec.Table, "chunk", i+1, "chunks", chunks, "written", written, "err", err)
			return written, &ChunkError{Table: spec.Table, Chunk: i, Chunks: chunks, Written: written, Err: err}
		}
		written += n
		if p.OnChunk != nil {
			p.OnChunk(spec.Table, n, time.Since(start))
		}
	}

	p.logger.Debug("upsert complete", "table", spec.Table, "rows", len(rows), "chunks", chunks, "affected", written)
	return written, nil
}

// pacer spaces chunk writes ChunkDelay apart; the first chunk goes immediately.
func (p *Pipeline) pacer() *rate.Limiter {
	if p.cfg.ChunkDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.cfg.ChunkDelay), 1)
}

func stamped(rows [][]any, at time.Time) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		row := make([]any, len(r)+1)
		copy(row, r)
		row[len(r)] = at
		out[i] = row
	}
	return out
}

// IsChunkError reports whether err is a partial-write failure and returns it.
func IsChunkError(err error) (*ChunkError, bool) {
	var ce *ChunkError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
