package nostr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ErrInvalidCiphertext is returned when a NIP-04 payload cannot be parsed
// or its padding is malformed.
var ErrInvalidCiphertext = errors.New("invalid NIP-04 ciphertext")

// sharedKey derives the 32-byte AES key both parties compute: the X
// coordinate of the ECDH point, used raw per NIP-04.
func sharedKey(priv *btcec.PrivateKey, recipientPubHex string) ([]byte, error) {
	pub, err := parseXOnlyPubKey(recipientPubHex)
	if err != nil {
		return nil, err
	}
	return btcec.GenerateSharedSecret(priv, pub), nil
}

// EncryptDM encrypts plaintext for the recipient under the NIP-04 scheme:
// AES-256-CBC with a random IV, emitted as "base64(ct)?iv=base64(iv)".
func EncryptDM(priv *btcec.PrivateKey, recipientPubHex, plaintext string) (string, error) {
	key, err := sharedKey(priv, recipientPubHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return base64.StdEncoding.EncodeToString(ct) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptDM reverses EncryptDM using the local private key and the sender's
// public key.
func DecryptDM(priv *btcec.PrivateKey, senderPubHex, content string) (string, error) {
	ctB64, ivB64, ok := strings.Cut(content, "?iv=")
	if !ok {
		return "", ErrInvalidCiphertext
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	key, err := sharedKey(priv, senderPubHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrInvalidCiphertext
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrInvalidCiphertext
		}
	}
	return data[:len(data)-pad], nil
}
