package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

const (
	envelopeVersion = 1
	ivLength        = 12
	tagLength       = 16
	keyLength       = 32
)

// envelope is the on-disk ciphertext format shared with the batch sweeper.
// encoding/json renders []byte as standard base64, which is the wire contract.
type envelope struct {
	V    int    `json:"v"`
	IV   []byte `json:"iv"`
	Data []byte `json:"data"`
	Tag  []byte `json:"tag"`
}

// Cipher does AES-256-GCM with a process-wide key. Treated as immutable after
// construction.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 64-char hex key (ENCRYPTION_KEY).
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be %d bytes, got %d", keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into a versioned JSON envelope with a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	// GCM appends the tag to the ciphertext; the envelope stores them apart.
	data := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]
	return json.Marshal(envelope{V: envelopeVersion, IV: iv, Data: data, Tag: tag})
}

// Decrypt opens an envelope. Every failure mode returns ErrCorrupt without
// detail: unknown version, wrong IV or tag length, tampered or truncated input.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, domerrors.ErrCorrupt
	}
	if env.V != envelopeVersion || len(env.IV) != ivLength || len(env.Tag) != tagLength {
		return nil, domerrors.ErrCorrupt
	}
	sealed := append(append([]byte{}, env.Data...), env.Tag...)
	plaintext, err := c.aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, domerrors.ErrCorrupt
	}
	return plaintext, nil
}
