package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/stripe-experiments/sync-data-stripe-app/internal/domain/errors"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	return c
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	_, err := NewCipher("not-hex")
	assert.Error(t, err)
	_, err = NewCipher("abcd")
	assert.Error(t, err)
	_, err = NewCipher(strings.Repeat("ab", 16))
	assert.Error(t, err, "16-byte key is not AES-256")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, plaintext := range []string{"", "a", "sk_test_secret_token_value", strings.Repeat("x", 4096)} {
		blob, err := c.Encrypt([]byte(plaintext))
		require.NoError(t, err)
		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(got))
	}
}

func TestEnvelopeFormat(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	var env struct {
		V    int    `json:"v"`
		IV   []byte `json:"iv"`
		Data []byte `json:"data"`
		Tag  []byte `json:"tag"`
	}
	require.NoError(t, json.Unmarshal(blob, &env))
	assert.Equal(t, 1, env.V)
	assert.Len(t, env.IV, 12)
	assert.Len(t, env.Tag, 16)
	assert.Len(t, env.Data, len("hello"))
}

func TestEncryptUsesFreshIVs(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedInput(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(blob, &env))

	// Flip one bit in every byte position of the ciphertext.
	for i := range env.Data {
		mutated := append([]byte{}, env.Data...)
		mutated[i] ^= 0x01
		raw, err := json.Marshal(envelope{V: env.V, IV: env.IV, Data: mutated, Tag: env.Tag})
		require.NoError(t, err)
		_, err = c.Decrypt(raw)
		assert.ErrorIs(t, err, domerrors.ErrCorrupt)
	}
}

func TestDecryptRejectsStructuralCorruption(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(blob, &env))

	cases := map[string]envelope{
		"unknown version": {V: 2, IV: env.IV, Data: env.Data, Tag: env.Tag},
		"short iv":        {V: 1, IV: env.IV[:8], Data: env.Data, Tag: env.Tag},
		"short tag":       {V: 1, IV: env.IV, Data: env.Data, Tag: env.Tag[:10]},
		"truncated data":  {V: 1, IV: env.IV, Data: env.Data[:0], Tag: env.Tag},
	}
	for name, bad := range cases {
		raw, err := json.Marshal(bad)
		require.NoError(t, err)
		_, err = c.Decrypt(raw)
		assert.ErrorIs(t, err, domerrors.ErrCorrupt, name)
	}

	_, err = c.Decrypt([]byte("not json at all"))
	assert.ErrorIs(t, err, domerrors.ErrCorrupt)
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestRandomPassword(t *testing.T) {
	pw, err := RandomPassword(24)
	require.NoError(t, err)
	assert.Len(t, pw, 24)
	for _, r := range pw {
		assert.Contains(t, passwordAlphabet, string(r))
	}
}

func TestDigestIsStableHex(t *testing.T) {
	assert.Equal(t, Digest("abc"), Digest("abc"))
	assert.NotEqual(t, Digest("abc"), Digest("abd"))
	assert.Len(t, Digest("abc"), 64)
}
