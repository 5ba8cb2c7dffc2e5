// Package nostr implements the client side of the signed-event protocol:
// the event envelope with NIP-01 id derivation and BIP-340 schnorr
// signatures, secp256k1 key handling, NIP-04 encrypted direct messages, and
// the JSON wire frames relays speak.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by this client.
const (
	KindProfile      = 0
	KindNote         = 1
	KindFollows      = 3
	KindEncryptedDM  = 4
	KindRelayList    = 10002
	KindZapReceipt   = 9735
)

// Event is the signed, immutable envelope relays store and forward.
// Field names and order follow the wire format exactly.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the canonical id preimage:
// [0, pubkey, created_at, kind, tags, content] as compact JSON without
// HTML escaping, per NIP-01.
func (e *Event) Serialize() ([]byte, error) {
	arr := []any{0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	// Encode appends a newline that is not part of the preimage.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID derives the event id: lowercase hex sha256 of Serialize().
func (e *Event) ComputeID() (string, error) {
	ser, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(ser)
	return hex.EncodeToString(sum[:]), nil
}

// Sign fills in Pubkey, ID and Sig from the given private key. Tags must
// be non-nil so the serialization is stable.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	if e.Tags == nil {
		e.Tags = [][]string{}
	}
	e.Pubkey = PublicKeyHex(priv)

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	digest, _ := hex.DecodeString(id)
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that ID matches the content and Sig is a valid schnorr
// signature over it by Pubkey.
func (e *Event) Verify() (bool, error) {
	id, err := e.ComputeID()
	if err != nil {
		return false, err
	}
	if id != e.ID {
		return false, nil
	}

	pubBytes, err := hex.DecodeString(e.Pubkey)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}

	digest, _ := hex.DecodeString(e.ID)
	return sig.Verify(digest, pub), nil
}

// TagValue returns the first value of the first tag with the given name,
// or "" if absent.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
