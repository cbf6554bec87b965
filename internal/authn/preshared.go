// Package authn implements request authentication. The reference provider
// verifies preshared client keys (amb_<prefix>_<secret>) and session tokens
// (ambs_<random>). Preshared keys split into an indexed non-secret prefix
// and a secret remainder verified against an argon2id hash; session tokens
// are high-entropy and stored as SHA-256 hashes for indexed lookup.
package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/logging"
)

const (
	// KeyPrefix marks preshared client keys.
	KeyPrefix = "amb_"
	// TokenPrefix marks session tokens.
	TokenPrefix = "ambs_"

	prefixLen = 12
	secretLen = 32
)

// Internal failure kinds. These never reach a client verbatim; the pipeline
// collapses every authentication failure into a generic unauthorized.
var (
	errInvalidCredential = apierror.New(apierror.KindUnauthorized, "invalid_credential")
	errExpired           = apierror.New(apierror.KindUnauthorized, "expired")
	errRevoked           = apierror.New(apierror.KindUnauthorized, "revoked")
	errUnknownClient     = apierror.New(apierror.KindUnauthorized, "unknown_client")
)

// PresharedKeyProvider authenticates preshared keys and session tokens
// against the store.
type PresharedKeyProvider struct {
	store *store.Store
	now   func() time.Time
}

// NewPresharedKeyProvider creates the reference authentication provider.
func NewPresharedKeyProvider(s *store.Store) *PresharedKeyProvider {
	return &PresharedKeyProvider{store: s, now: time.Now}
}

// ID implements Provider.
func (p *PresharedKeyProvider) ID() string { return "preshared-key" }

// Authenticate implements Provider.
func (p *PresharedKeyProvider) Authenticate(ctx context.Context, req *Request) (*SessionContext, error) {
	switch {
	case req.PresharedKey != "":
		return p.authenticateKey(ctx, req.PresharedKey)
	case req.SessionToken != "":
		return p.authenticateToken(ctx, req.SessionToken)
	default:
		return nil, errInvalidCredential
	}
}

func (p *PresharedKeyProvider) authenticateKey(ctx context.Context, key string) (*SessionContext, error) {
	prefix, secret, ok := SplitKey(key)
	if !ok {
		return nil, errInvalidCredential
	}

	client, err := p.store.GetClientByKeyPrefix(ctx, prefix)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			// Burn comparable time so unknown prefixes are not
			// distinguishable from wrong secrets by latency.
			VerifySecret(secret, dummyHash)
			return nil, errUnknownClient
		}
		return nil, err
	}

	if !VerifySecret(secret, client.SecretHash) {
		logging.Warn("AuthN", "Preshared key verification failed for client %s", client.ID)
		return nil, errInvalidCredential
	}

	now := p.now()
	switch client.Status {
	case store.ClientRevoked:
		return nil, errRevoked
	case store.ClientSuspended:
		return nil, errRevoked
	}
	if client.ExpiresAt != nil && now.After(*client.ExpiresAt) {
		return nil, errExpired
	}

	user, err := p.store.GetUser(ctx, client.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != store.UserActive {
		return nil, errRevoked
	}

	groups, err := p.store.GroupsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &SessionContext{
		ClientID:  client.ID,
		UserID:    user.ID,
		ProfileID: client.ProfileID,
		Groups:    groups,
		IssuedAt:  now,
	}, nil
}

func (p *PresharedKeyProvider) authenticateToken(ctx context.Context, token string) (*SessionContext, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, errInvalidCredential
	}

	sess, err := p.store.GetSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, errInvalidCredential
		}
		return nil, err
	}

	now := p.now()
	if now.After(sess.ExpiresAt) || sess.Status == store.SessionExpired {
		return nil, errExpired
	}
	// A suspended session's tool servers are gone; the host must register
	// again to reactivate.
	if sess.Status == store.SessionSuspended {
		return nil, errExpired
	}

	user, err := p.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != store.UserActive {
		return nil, errRevoked
	}

	groups, err := p.store.GroupsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &SessionContext{
		SessionID: sess.ID,
		ClientID:  sess.ClientID,
		UserID:    sess.UserID,
		ProfileID: sess.ProfileID,
		Groups:    groups,
		IssuedAt:  sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// dummyHash is verified against when the client prefix is unknown, keeping
// the failure path's timing in the same ballpark as a real verification.
var dummyHash = func() string {
	h, err := HashSecret("dummy-timing-equalizer")
	if err != nil {
		return ""
	}
	return h
}()

// SplitKey parses an amb_<prefix>_<secret> preshared key.
func SplitKey(key string) (prefix, secret string, ok bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", "", false
	}
	rest := key[len(KeyPrefix):]
	idx := strings.IndexByte(rest, '_')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// GeneratePresharedKey mints a fresh client key. Returns the full key
// (shown once), its indexed prefix, and the argon2id hash to store.
func GeneratePresharedKey() (fullKey, prefix, secretHash string, err error) {
	prefix, err = randomToken(prefixLen / 2)
	if err != nil {
		return "", "", "", err
	}
	secret, err := randomToken(secretLen / 2)
	if err != nil {
		return "", "", "", err
	}
	secretHash, err = HashSecret(secret)
	if err != nil {
		return "", "", "", err
	}
	return fmt.Sprintf("%s%s_%s", KeyPrefix, prefix, secret), prefix, secretHash, nil
}

// GenerateSessionToken mints a session token and its stored hash and nonce.
func GenerateSessionToken() (token, tokenHash, nonce string, err error) {
	raw, err := randomToken(24)
	if err != nil {
		return "", "", "", err
	}
	nonce, err = randomToken(8)
	if err != nil {
		return "", "", "", err
	}
	token = TokenPrefix + raw
	return token, HashToken(token), nonce, nil
}

// HashToken computes the stored hash of a session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
