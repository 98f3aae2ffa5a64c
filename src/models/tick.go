package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MTick represents one decoded realtime trade update for an instrument.
// Ticks are ephemeral: they are fanned out and evaluated, never stored.
type MTick struct {
	InstrumentCode string          `json:"instrument_code"`
	TradeTime      string          `json:"trade_time"` // HHMMSS as sent upstream
	Timestamp      time.Time       `json:"timestamp"`  // decode time, upstream clock is not trusted
	LastPrice      decimal.Decimal `json:"last_price"`
	Delta          decimal.Decimal `json:"delta"`      // vs previous close
	DeltaRate      float64         `json:"delta_rate"` // percent vs previous close
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	BestAsk        decimal.Decimal `json:"best_ask"`
	BestBid        decimal.Decimal `json:"best_bid"`
	Volume         int64           `json:"volume"`   // cumulative session volume
	Turnover       int64           `json:"turnover"` // cumulative session turnover
	TotalAskQty    int64           `json:"total_ask_qty"`
	TotalBidQty    int64           `json:"total_bid_qty"`
}
