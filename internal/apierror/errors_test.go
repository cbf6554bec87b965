package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindForbidden, "denied by pattern %s", "github.delete_*")
	assert.Equal(t, KindForbidden, KindOf(err))

	wrapped := fmt.Errorf("stage failed: %w", err)
	assert.Equal(t, KindForbidden, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindServiceUnavailable, cause, "downstream unreachable")

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "service_unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMetadata(t *testing.T) {
	err := New(KindResourceLimitExceeded, "limit").WithMetadata(map[string]interface{}{
		"current":     4,
		"max_allowed": 3,
	})

	meta := MetadataOf(fmt.Errorf("spawn: %w", err))
	assert.Equal(t, 4, meta["current"])
	assert.Nil(t, MetadataOf(errors.New("plain")))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindRateLimited))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindResourceLimitExceeded))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindDecryptionFailed))
}

// The public message for authn and authz failures must not leak the reason.
func TestPublicMessagesAreGeneric(t *testing.T) {
	assert.Equal(t, "Unauthorized", PublicMessage(KindUnauthorized))
	assert.Equal(t, "Access denied", PublicMessage(KindForbidden))
	assert.Equal(t, "Internal error", PublicMessage(KindDecryptionFailed))
}
