package upsert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var testSpec = Spec{
	Table:         "economic_indicators_history",
	Columns:       []string{"series_id", "period_date", "value"},
	ConflictKey:   []string{"series_id", "period_date"},
	UpdateColumns: []string{"value"},
	TouchColumn:   "updated_at",
}

// fakeWriter keeps rows keyed by the conflict key, like a table with a
// unique index, and can be told to fail a given chunk.
type fakeWriter struct {
	table  map[string][]any
	chunks [][][]any
	failAt int // 1-based chunk index to fail; 0 = never
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{table: map[string][]any{}}
}

func (w *fakeWriter) UpsertChunk(_ context.Context, spec Spec, rows [][]any) (int64, error) {
	w.chunks = append(w.chunks, rows)
	if w.failAt == len(w.chunks) {
		return 0, errors.New("deadlock detected")
	}
	for _, r := range rows {
		key := r[0].(string) + "|" + r[1].(string)
		w.table[key] = r
	}
	return int64(len(rows)), nil
}

func makeRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{"UNRATE", time.Date(2024, time.Month(i%12+1), 1, 0, 0, 0, 0, time.UTC).AddDate(i/12, 0, 0).Format("2006-01-02"), float64(i)}
	}
	return rows
}

func newPipeline(w Writer, chunk int) *Pipeline {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC))
	return New(w, Config{ChunkSize: chunk}, fc, nil)
}

func TestPipeline_EmptyInput(t *testing.T) {
	w := newFakeWriter()
	n, err := newPipeline(w, 10).Upsert(context.Background(), testSpec, nil)
	if n != 0 || err != nil {
		t.Fatalf("Upsert(nil) = %d, %v", n, err)
	}
	if len(w.chunks) != 0 {
		t.Errorf("writer called for empty input")
	}
}

func TestPipeline_ChunksInOrder(t *testing.T) {
	w := newFakeWriter()
	rows := makeRows(25)

	n, err := newPipeline(w, 10).Upsert(context.Background(), testSpec, rows)
	if err != nil {
		t.Fatal(err)
	}
	if n != 25 {
		t.Errorf("affected = %d, want 25", n)
	}
	if len(w.chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(w.chunks))
	}
	sizes := []int{10, 10, 5}
	for i, c := range w.chunks {
		if len(c) != sizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, len(c), sizes[i])
		}
	}
	// Order preserved: the first row of chunk 2 is input row 10.
	if w.chunks[1][0][2] != float64(10) {
		t.Errorf("chunk 2 starts with %v, want row 10", w.chunks[1][0])
	}
}

func TestPipeline_StampsTouchColumn(t *testing.T) {
	w := newFakeWriter()
	rows := makeRows(2)
	newPipeline(w, 10).Upsert(context.Background(), testSpec, rows)

	got := w.chunks[0][0]
	if len(got) != 4 {
		t.Fatalf("row width = %d, want 4", len(got))
	}
	if ts, ok := got[3].(time.Time); !ok || !ts.Equal(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("touch value = %v", got[3])
	}
	if len(rows[0]) != 3 {
		t.Error("input rows must not be modified")
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	w := newFakeWriter()
	p := newPipeline(w, 7)
	rows := makeRows(20)

	first, err := p.Upsert(context.Background(), testSpec, rows)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := len(w.table)
	second, err := p.Upsert(context.Background(), testSpec, rows)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("affected count changed: %d then %d", first, second)
	}
	if len(w.table) != snapshot || snapshot != 20 {
		t.Errorf("stored rows = %d after replay, want 20", len(w.table))
	}
}

func TestPipeline_PartialFailureVisible(t *testing.T) {
	w := newFakeWriter()
	w.failAt = 2

	n, err := newPipeline(w, 10).Upsert(context.Background(), testSpec, makeRows(30))
	if err == nil {
		t.Fatal("expected error from failed chunk")
	}
	if n != 10 {
		t.Errorf("affected = %d, want 10 (chunk 1 only)", n)
	}
	ce, ok := IsChunkError(err)
	if !ok {
		t.Fatalf("expected *ChunkError, got %T", err)
	}
	if ce.Chunk != 1 || ce.Chunks != 3 || ce.Written != 10 {
		t.Errorf("ChunkError = %+v", ce)
	}
	if !strings.Contains(err.Error(), "deadlock detected") {
		t.Errorf("cause missing from error: %v", err)
	}
	if len(w.chunks) != 2 {
		t.Errorf("chunk 3 must not be attempted, writer saw %d chunks", len(w.chunks))
	}
}

func TestPipeline_RejectsMalformedRows(t *testing.T) {
	w := newFakeWriter()
	_, err := newPipeline(w, 10).Upsert(context.Background(), testSpec, [][]any{{"UNRATE"}})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestPipeline_ChunkDelayPacesWrites(t *testing.T) {
	w := newFakeWriter()
	p := New(w, Config{ChunkSize: 1, ChunkDelay: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	if _, err := p.Upsert(context.Background(), testSpec, makeRows(3)); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 chunks took %v, expected at least two 20ms gaps", elapsed)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	w := newFakeWriter()
	p := New(w, Config{ChunkSize: 1, ChunkDelay: time.Hour}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := p.Upsert(ctx, testSpec, makeRows(2))
	if err == nil || n != 0 {
		t.Fatalf("Upsert = %d, %v; want 0 and an error", n, err)
	}
}

func TestSpec_Validate(t *testing.T) {
	bad := []Spec{
		{Table: "t", Columns: []string{"a"}},
		{Table: "t", Columns: []string{"a"}, ConflictKey: []string{"b"}},
		{Table: "t", Columns: []string{"a", "b"}, ConflictKey: []string{"a"}, UpdateColumns: []string{"a"}},
		{Table: "t", Columns: []string{"a", "a"}, ConflictKey: []string{"a"}},
		{Table: "t", Columns: []string{"a", "updated_at"}, ConflictKey: []string{"a"}, TouchColumn: "updated_at"},
	}
	for i, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrInvalidSpec) {
			t.Errorf("spec %d: expected ErrInvalidSpec, got %v", i, err)
		}
	}
	if err := testSpec.Validate(); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
}

func TestBuildStatement(t *testing.T) {
	got := BuildStatement(testSpec, 2, Dollar)
	want := "INSERT INTO economic_indicators_history (series_id, period_date, value, updated_at) " +
		"VALUES ($1, $2, $3, $4), ($5, $6, $7, $8) " +
		"ON CONFLICT (series_id, period_date) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	if got != want {
		t.Errorf("statement mismatch\n got: %s\nwant: %s", got, want)
	}

	q := BuildStatement(Spec{Table: "t", Columns: []string{"k"}, ConflictKey: []string{"k"}}, 1, Question)
	if q != "INSERT INTO t (k) VALUES (?) ON CONFLICT (k) DO NOTHING" {
		t.Errorf("unexpected statement: %s", q)
	}
}
