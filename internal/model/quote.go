package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"market-syncv1/internal/upsert"
)

// Quote is a market bar for a symbol, keyed by (Symbol, TS).
type Quote struct {
	Symbol string          `json:"symbol"`
	TS     time.Time       `json:"ts"` // bar start (UTC)
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Key returns "symbol@unix".
func (q Quote) Key() string {
	return q.Symbol + "@" + strconv.FormatInt(q.TS.Unix(), 10)
}

var QuoteSpec = upsert.Spec{
	Table:         "market_quotes",
	Columns:       []string{"symbol", "ts", "open", "high", "low", "close", "volume"},
	ConflictKey:   []string{"symbol", "ts"},
	UpdateColumns: []string{"open", "high", "low", "close", "volume"},
	TouchColumn:   "updated_at",
}

func (q Quote) Row() []any {
	return []any{q.Symbol, q.TS.UTC(), q.Open, q.High, q.Low, q.Close, q.Volume}
}
