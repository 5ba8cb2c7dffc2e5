package models

// ExchangeRate is a fiat→sats rate snapshot. Immutable once obtained;
// providers cache it with a fixed expiry keyed by currency.
type ExchangeRate struct {
	// Currency is the ISO 4217 code the rate applies to.
	Currency string `json:"currency"`

	// SatsPerUnit is floor(100_000_000 / price-in-currency): how many sats
	// one whole fiat unit buys.
	SatsPerUnit int64 `json:"rate"`

	// Source names where the price came from.
	Source string `json:"source"`

	// Timestamp is the fetch time, Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}
