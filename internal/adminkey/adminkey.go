// Package adminkey manages the single active admin key and its paired
// recovery token. Rotation requires dual proof: the current admin key and
// the current recovery token, both verified against stored argon2id hashes.
package adminkey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/logging"
)

// RecoveryTokenFile is the recovery token's location inside the data
// directory, written at mode 0400.
const RecoveryTokenFile = ".recovery-token"

// Manager owns admin key bootstrap and rotation.
type Manager struct {
	store   *store.Store
	dataDir string
}

// NewManager creates an admin key manager rooted at dataDir.
func NewManager(st *store.Store, dataDir string) *Manager {
	return &Manager{store: st, dataDir: dataDir}
}

// Bootstrap ensures an admin key exists. On first boot it generates the
// key and recovery token, persists their hashes, writes the recovery token
// file, and returns the plaintext admin key exactly once. On later boots it
// returns empty.
func (m *Manager) Bootstrap(ctx context.Context) (adminKey string, created bool, err error) {
	if _, err := m.store.GetAdminKey(ctx); err == nil {
		return "", false, nil
	} else if !apierror.IsKind(err, apierror.KindNotFound) {
		return "", false, err
	}

	adminKey, _, err = m.writeNewKeyPair(ctx)
	if err != nil {
		return "", false, err
	}
	logging.Info("AdminKey", "Generated initial admin key and recovery token")
	return adminKey, true, nil
}

// Rotate replaces the admin key after verifying both the current key and
// the current recovery token. Returns the new plaintext key; a fresh
// recovery token is written to the recovery token file.
func (m *Manager) Rotate(ctx context.Context, currentKey, recoveryToken string) (newKey string, err error) {
	row, err := m.store.GetAdminKey(ctx)
	if err != nil {
		return "", err
	}

	// Dual proof: both credentials must verify.
	if !authn.VerifySecret(currentKey, row.KeyHash) || !authn.VerifySecret(recoveryToken, row.RecoveryTokenHash) {
		return "", apierror.New(apierror.KindUnauthorized, "admin key rotation proof failed")
	}

	newKey, _, err = m.writeNewKeyPair(ctx)
	if err != nil {
		return "", err
	}
	logging.Info("AdminKey", "Rotated admin key and recovery token")
	return newKey, nil
}

// writeNewKeyPair generates a key and recovery token, stores their hashes,
// and atomically rewrites the recovery token file.
func (m *Manager) writeNewKeyPair(ctx context.Context) (adminKey, recoveryToken string, err error) {
	adminKey, err = randomSecret(32)
	if err != nil {
		return "", "", err
	}
	recoveryToken, err = randomSecret(32)
	if err != nil {
		return "", "", err
	}

	keyHash, err := authn.HashSecret(adminKey)
	if err != nil {
		return "", "", err
	}
	tokenHash, err := authn.HashSecret(recoveryToken)
	if err != nil {
		return "", "", err
	}

	if err := m.store.SetAdminKey(ctx, keyHash, tokenHash); err != nil {
		return "", "", err
	}
	if err := writeRecoveryTokenFile(m.dataDir, recoveryToken); err != nil {
		return "", "", err
	}
	return adminKey, recoveryToken, nil
}

// ReadRecoveryToken loads the recovery token from disk, for the rotation
// CLI.
func (m *Manager) ReadRecoveryToken() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.dataDir, RecoveryTokenFile))
	if err != nil {
		return "", fmt.Errorf("failed to read recovery token: %w", err)
	}
	return string(data), nil
}

// writeRecoveryTokenFile writes via temp+rename at mode 0400.
func writeRecoveryTokenFile(dataDir, token string) error {
	path := filepath.Join(dataDir, RecoveryTokenFile)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dataDir, ".recovery-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o400); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// Replace an existing read-only file.
	os.Remove(path)
	return os.Rename(tmpName, path)
}

func randomSecret(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
