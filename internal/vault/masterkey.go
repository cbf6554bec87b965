package vault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcpambassador/server/pkg/logging"
)

const (
	// MasterKeyEnv overrides the on-disk master key when set (64 hex chars).
	MasterKeyEnv = "AMBASSADOR_MASTER_KEY"

	// MasterKeyFile is the on-disk key location inside the data directory.
	MasterKeyFile = "credential_master_key"

	masterKeyLen = 32
)

// LoadMasterKey resolves the 32-byte master key, in priority order:
// environment variable, key file in dataDir, autogenerated on first boot
// (persisted atomically at mode 0600).
func LoadMasterKey(dataDir string) ([]byte, error) {
	if env := os.Getenv(MasterKeyEnv); env != "" {
		key, err := hex.DecodeString(strings.TrimSpace(env))
		if err != nil || len(key) != masterKeyLen {
			return nil, fmt.Errorf("%s must be %d hex characters", MasterKeyEnv, masterKeyLen*2)
		}
		logging.Info("Vault", "Master key loaded from environment")
		return key, nil
	}

	path := filepath.Join(dataDir, MasterKeyFile)
	if data, err := os.ReadFile(path); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != masterKeyLen {
			return nil, fmt.Errorf("master key file %s is corrupt", path)
		}
		logging.Info("Vault", "Master key loaded from %s", path)
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key file %s: %w", path, err)
	}

	key := make([]byte, masterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := writeFileAtomic(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist master key: %w", err)
	}
	logging.Info("Vault", "Generated new master key at %s", path)
	return key, nil
}

// PersistMasterKey writes a new master key file (used by key rotation).
func PersistMasterKey(dataDir string, key []byte) error {
	if len(key) != masterKeyLen {
		return fmt.Errorf("master key must be %d bytes", masterKeyLen)
	}
	path := filepath.Join(dataDir, MasterKeyFile)
	return writeFileAtomic(path, []byte(hex.EncodeToString(key)+"\n"), 0o600)
}

// GenerateMasterKey produces a fresh random 32-byte key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, masterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// writeFileAtomic writes via a temp file in the same directory followed by
// rename, so a crash never leaves a partial key on disk.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
