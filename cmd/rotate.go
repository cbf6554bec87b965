package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mcpambassador/server/internal/adminkey"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/vault"
)

var (
	rotateDataDir  string
	rotateAdminKey string
)

var rotateAdminKeyCmd = &cobra.Command{
	Use:   "rotate-admin-key",
	Short: "Rotate the admin key using dual proof (current key + recovery token)",
	Long: `Rotates the admin key. Requires the current admin key (--current-key) and
the recovery token, which is read from <data-dir>/.recovery-token. On
success the new admin key is printed once and a fresh recovery token is
written in place of the old one.`,
	Args: cobra.NoArgs,
	RunE: runRotateAdminKey,
}

func runRotateAdminKey(cmd *cobra.Command, _ []string) error {
	if rotateAdminKey == "" {
		return fmt.Errorf("--current-key is required")
	}

	st, err := store.Open(filepath.Join(rotateDataDir, "ambassador.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	keys := adminkey.NewManager(st, rotateDataDir)
	token, err := keys.ReadRecoveryToken()
	if err != nil {
		return err
	}

	newKey, err := keys.Rotate(context.Background(), rotateAdminKey, token)
	if err != nil {
		return err
	}

	fmt.Printf("New admin key (save it now, it will not be shown again): %s\n", newKey)
	fmt.Printf("New recovery token written to %s\n", filepath.Join(rotateDataDir, adminkey.RecoveryTokenFile))
	return nil
}

var rotateMasterKeyCmd = &cobra.Command{
	Use:   "rotate-master-key",
	Short: "Rotate the credential master key, re-encrypting every stored credential",
	Long: `Generates a new credential master key and re-encrypts every stored user
credential under it. The server must be stopped while this runs. The new
key replaces <data-dir>/credential_master_key; if the key is supplied via
the environment instead, update the environment after rotation.`,
	Args: cobra.NoArgs,
	RunE: runRotateMasterKey,
}

func runRotateMasterKey(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(filepath.Join(rotateDataDir, "ambassador.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	oldMaster, err := vault.LoadMasterKey(rotateDataDir)
	if err != nil {
		return err
	}
	newMaster, err := vault.GenerateMasterKey()
	if err != nil {
		return err
	}

	ctx := context.Background()
	creds, err := st.ListAllCredentials(ctx)
	if err != nil {
		return err
	}

	rotated := 0
	for _, cred := range creds {
		user, err := st.GetUser(ctx, cred.UserID)
		if err != nil {
			return fmt.Errorf("credential for user %s: %w", cred.UserID, err)
		}
		newCT, newIV, err := vault.ReEncrypt(oldMaster, newMaster, user.VaultSalt, cred.Ciphertext, cred.IV)
		if err != nil {
			return fmt.Errorf("re-encrypt failed for user %s: %w", cred.UserID, err)
		}
		cred.Ciphertext = newCT
		cred.IV = newIV
		if err := st.UpsertUserCredential(ctx, cred); err != nil {
			return err
		}
		rotated++
	}

	if err := vault.PersistMasterKey(rotateDataDir, newMaster); err != nil {
		return err
	}

	fmt.Printf("Rotated master key; re-encrypted %d credential(s)\n", rotated)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{rotateAdminKeyCmd, rotateMasterKeyCmd} {
		c.Flags().StringVar(&rotateDataDir, "data-dir", config.DefaultDataDir, "Data directory")
	}
	rotateAdminKeyCmd.Flags().StringVar(&rotateAdminKey, "current-key", "", "Current admin key")
	rootCmd.AddCommand(rotateAdminKeyCmd)
	rootCmd.AddCommand(rotateMasterKeyCmd)
}
