package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "1111111111111111111111111111111111111111111111111111111111111111"

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	plaintext := `{"provider":"s3","role_arn":"arn:aws:iam::123:role/warehouse"}`
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "role_arn")

	got, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptUsesRandomNonce(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	a, err := enc.Encrypt("same input")
	require.NoError(t, err)
	b, err := enc.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	_, err := NewEncryptor("not hex")
	require.Error(t, err)

	_, err = NewEncryptor("abcd") // too short
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	_, err = enc.Decrypt("zz-not-hex")
	require.Error(t, err)

	_, err = enc.Decrypt("abcd")
	require.Error(t, err)

	// Valid hex, wrong key.
	other, err := NewEncryptor(strings.Repeat("2", 64))
	require.NoError(t, err)
	ciphertext, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = enc.Decrypt(ciphertext)
	require.Error(t, err)
}
