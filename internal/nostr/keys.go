package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// GenerateKey creates a fresh secp256k1 signing key.
func GenerateKey() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return priv, nil
}

// PublicKeyHex returns the x-only public key as 64-char lowercase hex,
// the form carried in event pubkey fields and p tags.
func PublicKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
}

// ParseSecret reconstructs a private key from its 32-byte hex form.
func ParseSecret(secretHex string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid secret length: %d bytes", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// SecretHex serializes a private key to 64-char lowercase hex. The caller
// owns the lifetime of the returned string; it must never be persisted
// unencrypted.
func SecretHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(priv.Serialize())
}

// parseXOnlyPubKey lifts a 32-byte x-only hex key to a full point with
// even Y, as used for ECDH with keys from p tags.
func parseXOnlyPubKey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid pubkey length: %d bytes", len(raw))
	}
	compressed := append([]byte{0x02}, raw...)
	pub, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %w", err)
	}
	return pub, nil
}
