// Package keystore manages the symmetric encryption key derived from the
// user's passphrase and performs authenticated encryption of arbitrary byte
// payloads (backup artifacts, exports).
//
// The key never leaves the process: callers hand the KeyStore plaintext or
// sealed blobs and get the counterpart back. Clear wipes all key material.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/akorchak/notekeeper/internal/common"
)

const (
	saltLen = 16
	keyLen  = 32

	// blobVersion identifies the sealed blob layout (see Encrypt).
	blobVersion = 1
)

var ErrMalformedBlob = errors.New("malformed encrypted blob")

// KeyStore holds the passphrase-derived key. The zero value is unusable;
// construct with New and call Init before Encrypt/Decrypt.
type KeyStore struct {
	mu         sync.RWMutex
	passphrase []byte
	salt       []byte
	key        []byte
}

func New() *KeyStore {
	return &KeyStore{}
}

// deriveKey stretches the passphrase into an AES-256 key with Argon2id.
func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keyLen)
}

// Init derives and caches the key from the passphrase with a fresh random
// salt. Previously held material is wiped first.
func (k *KeyStore) Init(passphrase []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.wipeLocked()

	k.passphrase = append([]byte(nil), passphrase...)
	k.salt = common.GenerateRandByteArray(saltLen)
	k.key = deriveKey(k.passphrase, k.salt)
}

// Clear wipes the passphrase and derived key. Subsequent Encrypt/Decrypt
// calls fail with common.ErrEncryptionKeyMissing until Init is called again.
func (k *KeyStore) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.wipeLocked()
}

func (k *KeyStore) wipeLocked() {
	common.WipeByteArray(k.passphrase)
	common.WipeByteArray(k.key)
	k.passphrase = nil
	k.salt = nil
	k.key = nil
}

// Ready reports whether a key is loaded.
func (k *KeyStore) Ready() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key != nil
}

// Encrypt seals the payload with AES-GCM and returns a self-describing blob:
//
//	[version:1][saltLen:2][salt][nonceLen:2][nonce][ciphertext]
//
// Lengths are big-endian uint16. The embedded salt makes the blob decryptable
// with nothing but the passphrase.
func (k *KeyStore) Encrypt(plain []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.key == nil {
		return nil, common.ErrEncryptionKeyMissing
	}

	aesgcm, err := newGCM(k.key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext := aesgcm.Seal(nil, nonce, plain, nil)

	blob := make([]byte, 0, 1+2+len(k.salt)+2+len(nonce)+len(ciphertext))
	blob = append(blob, blobVersion)
	blob = binary.BigEndian.AppendUint16(blob, uint16(len(k.salt)))
	blob = append(blob, k.salt...)
	blob = binary.BigEndian.AppendUint16(blob, uint16(len(nonce)))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. If the blob was sealed under a
// different salt (an earlier Init), the key is re-derived from the retained
// passphrase and the embedded salt.
func (k *KeyStore) Decrypt(blob []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.key == nil {
		return nil, common.ErrEncryptionKeyMissing
	}

	salt, nonce, ciphertext, err := splitBlob(blob)
	if err != nil {
		return nil, err
	}

	key := k.key
	if !bytesEqual(salt, k.salt) {
		key = deriveKey(k.passphrase, salt)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, ErrMalformedBlob
	}

	plain, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func splitBlob(blob []byte) (salt, nonce, ciphertext []byte, err error) {
	if len(blob) < 1 || blob[0] != blobVersion {
		return nil, nil, nil, ErrMalformedBlob
	}
	rest := blob[1:]

	salt, rest, err = readChunk(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, rest, err = readChunk(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	return salt, nonce, rest, nil
}

func readChunk(b []byte) (chunk, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, ErrMalformedBlob
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return nil, nil, ErrMalformedBlob
	}
	return b[:n], b[n:], nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
