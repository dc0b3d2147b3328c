package app

import (
	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
)

// Per-user outcome.
const (
	ResultSucceeded = "SUCCEEDED"
	ResultFailed    = "FAILED"
)

// Bracket leg outcome.
const (
	LegPlaced  = "placed"
	LegFailed  = "failed"
	LegSkipped = "skipped"
)

// LegResult reports one protective order of a bracket.
type LegResult struct {
	Leg      string          `json:"leg"` // SL, TP1, TP2, TP3
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	OrderID  string          `json:"order_id,omitempty"`
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Err      error           `json:"-"`
}

// Placement is the outcome of a bracket placement for one user.
type Placement struct {
	TradeID      string            `json:"trade_id"`
	EntryOrderID string            `json:"entry_order_id"`
	Quantity     decimal.Decimal   `json:"quantity"`
	TakeProfits  []decimal.Decimal `json:"-"` // Sorted TP1..TP3 as stored
	Legs         [4]LegResult      `json:"legs"`
	Warning      string            `json:"warning,omitempty"` // Set when the ledger missed the leg order IDs
}

// PlacedLegs counts the legs accepted by the venue.
func (p *Placement) PlacedLegs() int {
	n := 0
	for _, l := range p.Legs {
		if l.Status == LegPlaced {
			n++
		}
	}
	return n
}

// UserResult is the outcome of one user's pipeline.
type UserResult struct {
	UserID    int64           `json:"user_id"`
	Exchange  domain.Exchange `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Status    string          `json:"status"`
	TradeID   string          `json:"trade_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Closed    int             `json:"closed,omitempty"` // Opposite trades reconciled
	Moved     int             `json:"moved,omitempty"`  // Stop losses moved to breakeven
	Legs      []LegResult     `json:"legs,omitempty"`
	Warning   string          `json:"warning,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether the user's pipeline succeeded.
func (r UserResult) OK() bool { return r.Status == ResultSucceeded }

// Report aggregates the per-user results of one dispatched signal.
type Report struct {
	Action  domain.Action `json:"action"`
	Symbol  string        `json:"symbol"`
	Results []UserResult  `json:"results"`
}

// Succeeded counts successful users.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed counts failed users.
func (r *Report) Failed() int { return len(r.Results) - r.Succeeded() }

// OK reports aggregate success: at least one user succeeded.
func (r *Report) OK() bool { return r.Succeeded() > 0 }
