package models

// StoredKey is the user's signing key at rest. The plaintext secret never
// persists; it is reconstructed transiently inside a decrypt-use-discard
// operation and discarded immediately after signing.
type StoredKey struct {
	// Pubkey is the x-only public key (64-char lowercase hex).
	Pubkey string `json:"pubkey"`

	// EncryptedSecret is the password-encrypted private key token as
	// produced by the key vault.
	EncryptedSecret string `json:"encryptedSecret"`

	// CreatedAt is the Unix timestamp (seconds) the key was stored.
	CreatedAt int64 `json:"createdAt"`

	// LastUsed is the Unix timestamp (seconds) of the last signing use.
	LastUsed int64 `json:"lastUsed"`
}
