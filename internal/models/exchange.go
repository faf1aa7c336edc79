package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	CashToOnline Mode = "cashtoonline"
	OnlineToCash Mode = "onlinetocash"
)

// ParseMode accepts the wire values case-insensitively, so "CashToOnline" and
// "cashtoonline" are the same mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case CashToOnline:
		return CashToOnline, true
	case OnlineToCash:
		return OnlineToCash, true
	}

	return "", false
}

func (m Mode) Valid() bool {
	return m == CashToOnline || m == OnlineToCash
}

func (m Mode) Opposite() Mode {
	if m == CashToOnline {
		return OnlineToCash
	}

	return CashToOnline
}

type Location struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type ExchangeRequest struct {
	ID        string          `json:"id"`
	Mode      Mode            `json:"mode"`
	Amount    decimal.Decimal `json:"amount"`
	Phone     string          `json:"phone"`
	Location  Location        `json:"location"`
	Matched   bool            `json:"matched"`
	CreatedAt time.Time       `json:"created_at"`

	// Seq is the insertion order assigned by the store.
	Seq int64 `json:"-"`
}

// Before reports whether r was stored before o.
func (r *ExchangeRequest) Before(o *ExchangeRequest) bool {
	if r.Seq != o.Seq {
		return r.Seq < o.Seq
	}

	return r.CreatedAt.Before(o.CreatedAt)
}
