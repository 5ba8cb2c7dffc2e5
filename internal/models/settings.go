package models

// Settings holds persisted user preferences. The relay list here overrides
// the built-in defaults once saved.
type Settings struct {
	// Relays is the working relay set, ordered.
	Relays []Relay `json:"relays"`

	// DefaultCurrency is the pre-selected currency for new receipts.
	DefaultCurrency string `json:"defaultCurrency"`

	// DefaultMealType is the pre-selected category for new receipts.
	DefaultMealType string `json:"defaultMealType"`
}
