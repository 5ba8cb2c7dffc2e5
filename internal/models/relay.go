package models

// Relay is one store-and-forward endpoint for signed events. No relay is
// trusted or authoritative; identity is the URL.
type Relay struct {
	// URL is the websocket endpoint (wss://...).
	URL string `json:"url"`

	// Read marks the relay as queryable.
	Read bool `json:"read"`

	// Write marks the relay as a publish target.
	Write bool `json:"write"`
}

// Profile is a participant's displayable identity, resolved from the
// network on demand. Lookup cache only; never part of the signing path.
type Profile struct {
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Picture     string `json:"picture,omitempty"`
	About       string `json:"about,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
}
