package model

import "fmt"

// DataClass names a family of series that share a refresh cadence.
type DataClass string

const (
	ClassQuotes     DataClass = "quotes"
	ClassIndicators DataClass = "indicators"
)

// Classes lists the known data classes in refresh order.
var Classes = []DataClass{ClassQuotes, ClassIndicators}

// Upstream returns the rate-limited upstream service the class is fetched from.
func (c DataClass) Upstream() string {
	switch c {
	case ClassQuotes:
		return "market"
	case ClassIndicators:
		return "fred"
	}
	return string(c)
}

// ParseDataClass validates a class name.
func ParseDataClass(s string) (DataClass, error) {
	for _, c := range Classes {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown data class %q", s)
}

// Batch is the result of one fetch. Only the slice matching Class is set.
type Batch struct {
	Class        DataClass
	Observations []Observation
	Quotes       []Quote
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Observations) + len(b.Quotes)
}

// Dedup drops records that repeat a natural key, keeping the last one in
// its original position. A single upsert statement must not touch the
// same row twice. It returns the number of records dropped.
func (b Batch) Dedup() (Batch, int) {
	out := b
	var d1, d2 int
	out.Observations, d1 = lastByKey(b.Observations)
	out.Quotes, d2 = lastByKey(b.Quotes)
	return out, d1 + d2
}

type keyed interface {
	Key() string
}

func lastByKey[T keyed](recs []T) ([]T, int) {
	if len(recs) < 2 {
		return recs, 0
	}
	last := make(map[string]int, len(recs))
	for i, r := range recs {
		last[r.Key()] = i
	}
	if len(last) == len(recs) {
		return recs, 0
	}
	out := make([]T, 0, len(last))
	for i, r := range recs {
		if last[r.Key()] == i {
			out = append(out, r)
		}
	}
	return out, len(recs) - len(out)
}
