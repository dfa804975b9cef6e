package keystore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akorchak/notekeeper/internal/common"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	ks := New()
	ks.Init([]byte("correct horse battery staple"))

	plain := []byte("the quick brown fox")
	blob, err := ks.Encrypt(plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, blob)

	got, err := ks.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestEncrypt_WithoutKey(t *testing.T) {
	ks := New()
	_, err := ks.Encrypt([]byte("x"))
	require.True(t, errors.Is(err, common.ErrEncryptionKeyMissing))
}

func TestDecrypt_AfterClear(t *testing.T) {
	ks := New()
	ks.Init([]byte("pass"))
	blob, err := ks.Encrypt([]byte("data"))
	require.NoError(t, err)

	ks.Clear()
	require.False(t, ks.Ready())

	_, err = ks.Decrypt(blob)
	require.True(t, errors.Is(err, common.ErrEncryptionKeyMissing))
}

func TestDecrypt_AfterReinit_SamePassphrase(t *testing.T) {
	// Re-initializing picks a new salt, but the blob embeds the salt used at
	// seal time, so the same passphrase must still open it.
	ks := New()
	ks.Init([]byte("pass"))
	blob, err := ks.Encrypt([]byte("data"))
	require.NoError(t, err)

	ks.Init([]byte("pass"))
	got, err := ks.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)
}

func TestDecrypt_WrongPassphrase(t *testing.T) {
	ks := New()
	ks.Init([]byte("pass"))
	blob, err := ks.Encrypt([]byte("data"))
	require.NoError(t, err)

	ks.Init([]byte("other"))
	_, err = ks.Decrypt(blob)
	require.Error(t, err)
}

func TestDecrypt_MalformedBlob(t *testing.T) {
	ks := New()
	ks.Init([]byte("pass"))

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad version", []byte{9, 0, 0}},
		{"truncated salt", []byte{1, 0, 16, 1, 2}},
		{"missing nonce", []byte{1, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ks.Decrypt(tc.blob)
			require.ErrorIs(t, err, ErrMalformedBlob)
		})
	}
}
