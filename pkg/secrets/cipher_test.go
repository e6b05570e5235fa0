package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCipher_RejectsShortKey(t *testing.T) {
	_, err := NewCipher("too-short")
	assert.ErrorIs(t, err, ErrWeakKey)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("unit-test-secret-key-0001")
	require.NoError(t, err)

	for _, plaintext := range []string{
		"",
		"x",
		"tenant-a-secret-key",
		"sk-1234567890abcdefghij",
		strings.Repeat("long-", 100),
		"带中文的密钥值",
	} {
		token, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(token)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestCipher_NonceMakesTokensDistinct(t *testing.T) {
	c, err := NewCipher("unit-test-secret-key-0001")
	require.NoError(t, err)

	first, err := c.Encrypt("same-plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same-plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCipher_TamperedCiphertextFails(t *testing.T) {
	c, err := NewCipher("unit-test-secret-key-0001")
	require.NoError(t, err)

	token, err := c.Encrypt("tenant-a-secret-key")
	require.NoError(t, err)

	packed, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)

	// Flip one byte inside the ciphertext region (after nonce+tag).
	packed[nonceSize+tagSize] ^= 0x01
	tampered := base64.URLEncoding.EncodeToString(packed)

	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.EqualError(t, err, "invalid secret token")
}

func TestCipher_WrongKeyFails(t *testing.T) {
	first, err := NewCipher("unit-test-secret-key-0001")
	require.NoError(t, err)
	second, err := NewCipher("unit-test-secret-key-0002")
	require.NoError(t, err)

	token, err := first.Encrypt("payload")
	require.NoError(t, err)

	_, err = second.Decrypt(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCipher_DecryptGarbage(t *testing.T) {
	c, err := NewCipher("unit-test-secret-key-0001")
	require.NoError(t, err)

	_, err = c.Decrypt("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.Decrypt(base64.URLEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "********", MaskSecret("abcdefgh"))
	assert.Equal(t, "******", MaskSecret("sk-123"))
}

func TestMaskSecret_LongKeepsEnds(t *testing.T) {
	masked := MaskSecret("sk-1234567890abcd")
	assert.True(t, strings.HasPrefix(masked, "sk-1"))
	assert.True(t, strings.HasSuffix(masked, "abcd"))
	assert.Equal(t, strings.Repeat("*", len("sk-1234567890abcd")-8), masked[4:len(masked)-4])
}
