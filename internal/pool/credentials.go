package pool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/vault"
)

// credentialMaterial is the decrypted shape of a stored user credential.
// Static credentials carry headers and/or env to inject; oauth2
// credentials carry a token set whose access token becomes a bearer header.
type credentialMaterial struct {
	Headers     map[string]string `json:"headers,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AccessToken string            `json:"access_token,omitempty"`
}

// resolveCredentials loads and decrypts the user's credential for a catalog
// entry, returning the headers and env to inject into the connection.
// Entries that do not require user credentials yield nothing.
func resolveCredentials(ctx context.Context, st *store.Store, v *vault.Vault, userID string, entry *store.CatalogEntry) (headers, env map[string]string, err error) {
	if !entry.RequiresUserCredentials {
		return nil, nil, nil
	}

	cred, err := st.GetUserCredential(ctx, userID, entry.ID)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, nil, apierror.New(apierror.KindForbidden,
				"no credential configured for server %s", entry.Name)
		}
		return nil, nil, err
	}

	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := v.Decrypt(user.VaultSalt, cred.Ciphertext, cred.IV)
	if err != nil {
		return nil, nil, fmt.Errorf("credential for server %s: %w", entry.Name, err)
	}

	var material credentialMaterial
	if err := json.Unmarshal(plaintext, &material); err != nil {
		return nil, nil, apierror.Wrap(apierror.KindInternal, err,
			"credential for server %s is malformed", entry.Name)
	}

	headers = material.Headers
	if material.AccessToken != "" {
		if headers == nil {
			headers = make(map[string]string, 1)
		}
		if _, set := headers["Authorization"]; !set {
			headers["Authorization"] = "Bearer " + material.AccessToken
		}
	}
	return headers, material.Env, nil
}
