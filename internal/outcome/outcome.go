// Package outcome handles outcome ticker parsing and the exchange price
// band that bounds order prices and derived cost bases.
package outcome

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidTicker = errors.New("outcome: invalid ticker format")
	ErrInvalidPrice  = errors.New("outcome: price outside tradable band")
	ErrInvalidBand   = errors.New("outcome: invalid price band")
)

// tickerRegex matches: {MARKET}-{OUTCOME}
// Example: PRES2028-DEM, FEDJUN-HOLD
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{2,24})-([A-Z0-9]{1,16})$`)

// Ticker is a parsed outcome ticker.
type Ticker struct {
	Symbol  string `json:"symbol"`
	Market  string `json:"market"`
	Outcome string `json:"outcome"`
}

// ParseTicker parses and validates an outcome ticker string.
func ParseTicker(ticker string) (*Ticker, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {MARKET}-{OUTCOME})", ErrInvalidTicker, ticker)
	}
	return &Ticker{
		Symbol:  ticker,
		Market:  matches[1],
		Outcome: matches[2],
	}, nil
}

// Scale is the settlement payout of one contract in price sub-units
// (10000 = 100%).
const Scale int64 = 10000

// Band is the closed range of tradable prices. Scale is the settlement
// ceiling used for worst-case loss.
type Band struct {
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	Scale int64 `json:"scale"`
}

// DefaultBand trades 1%–99% on the 0–10000 scale.
func DefaultBand() Band {
	return Band{Min: 100, Max: 9900, Scale: Scale}
}

// NewBand validates min ≤ max within (0, Scale).
func NewBand(min, max int64) (Band, error) {
	if min <= 0 || max >= Scale || min > max {
		return Band{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidBand, min, max)
	}
	return Band{Min: min, Max: max, Scale: Scale}, nil
}

// Contains reports whether price is a valid order price.
func (b Band) Contains(price int64) bool {
	return price >= b.Min && price <= b.Max
}

// Validate returns ErrInvalidPrice for prices outside the band.
func (b Band) Validate(price int64) error {
	if !b.Contains(price) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPrice, price, b.Min, b.Max)
	}
	return nil
}

// Clamp bounds a derived cost basis into the band.
func (b Band) Clamp(basis int64) int64 {
	switch {
	case basis < b.Min:
		return b.Min
	case basis > b.Max:
		return b.Max
	}
	return basis
}
