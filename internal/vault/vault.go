// Package vault implements per-user envelope encryption for credential
// blobs. Each user's encryption key is derived from the process-wide master
// key and the user's random vault salt; ciphertexts are AES-256-GCM with a
// random 12-byte nonce stored alongside. A tampered ciphertext, wrong salt
// or wrong nonce all fail authentication and surface as decryption_failed.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/mcpambassador/server/internal/apierror"
)

const (
	// SaltLen is the length of per-user vault salts.
	SaltLen = 32

	ivLen  = 12
	keyLen = 32

	kdfInfo = "ambassador-credential-v1"
)

// Vault encrypts and decrypts credential blobs under per-user derived keys.
type Vault struct {
	masterKey []byte
}

// New creates a vault over the given 32-byte master key.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != keyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(masterKey))
	}
	key := make([]byte, keyLen)
	copy(key, masterKey)
	return &Vault{masterKey: key}, nil
}

// NewSalt generates a fresh per-user vault salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate vault salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext under the user's derived key. Returns the
// ciphertext (with GCM tag appended) and the random IV.
func (v *Vault) Encrypt(vaultSalt, plaintext []byte) (ciphertext, iv []byte, err error) {
	gcm, key, err := v.aead(v.masterKey, vaultSalt)
	if err != nil {
		return nil, nil, err
	}
	defer zero(key)

	iv = make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext = gcm.Seal(nil, iv, plaintext, nil)
	return ciphertext, iv, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any mismatch in salt, IV
// or ciphertext bytes yields a decryption_failed error.
func (v *Vault) Decrypt(vaultSalt, ciphertext, iv []byte) ([]byte, error) {
	return decryptWith(v.masterKey, vaultSalt, ciphertext, iv)
}

// ReEncrypt re-wraps a ciphertext under a new master key, preserving the
// user's salt. Used during master key rotation.
func ReEncrypt(oldMaster, newMaster, vaultSalt, ciphertext, iv []byte) (newCiphertext, newIV []byte, err error) {
	plaintext, err := decryptWith(oldMaster, vaultSalt, ciphertext, iv)
	if err != nil {
		return nil, nil, err
	}
	defer zero(plaintext)

	nv, err := New(newMaster)
	if err != nil {
		return nil, nil, err
	}
	return nv.Encrypt(vaultSalt, plaintext)
}

func decryptWith(master, vaultSalt, ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != ivLen {
		return nil, apierror.New(apierror.KindDecryptionFailed, "invalid IV length %d", len(iv))
	}
	v := Vault{masterKey: master}
	gcm, key, err := v.aead(master, vaultSalt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, apierror.New(apierror.KindDecryptionFailed, "ciphertext failed authentication")
	}
	return plaintext, nil
}

// aead derives the per-user key and builds the AES-GCM AEAD. The caller
// must zero the returned key when done.
func (v *Vault) aead(master, vaultSalt []byte) (cipher.AEAD, []byte, error) {
	if len(vaultSalt) == 0 {
		return nil, nil, apierror.New(apierror.KindDecryptionFailed, "missing vault salt")
	}

	key := make([]byte, keyLen)
	kdf := hkdf.New(sha256.New, master, vaultSalt, []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		zero(key)
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		zero(key)
		return nil, nil, err
	}
	return gcm, key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
