package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/pipeline"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/logging"
)

type registerRequest struct {
	PresharedKey string `json:"preshared_key"`
	FriendlyName string `json:"friendly_name"`
	HostTool     string `json:"host_tool"`
}

type registerResponse struct {
	SessionToken string `json:"session_token"`
	SessionID    string `json:"session_id"`
	ConnectionID string `json:"connection_id"`
}

// handleRegister authenticates a preshared key and creates (or reuses) the
// user's session. Re-registering replaces the session's token hash in one
// transaction, so any previously issued token stops authenticating the
// moment this returns; a host holding the old token sees 401 and must
// register again.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.PresharedKey == "" || req.FriendlyName == "" {
		writeError(w, apierror.New(apierror.KindValidation, "preshared_key and friendly_name are required"))
		return
	}

	ctx := r.Context()
	sess, err := s.pipeline.AuthenticateKey(ctx, req.PresharedKey, sourceIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	token, tokenHash, nonce, err := authn.GenerateSessionToken()
	if err != nil {
		writeError(w, apierror.Wrap(apierror.KindInternal, err, "token generation failed"))
		return
	}

	now := time.Now().UTC()
	row := &store.Session{
		ID:     uuid.NewString(),
		UserID: sess.UserID, ClientID: sess.ClientID,
		TokenHash: tokenHash, TokenNonce: nonce, ProfileID: sess.ProfileID,
		IdleTimeoutSeconds:   int(s.cfg.Sessions.DefaultIdleTimeout.Seconds()),
		SpindownDelaySeconds: int(s.cfg.Sessions.DefaultSpindownDelay.Seconds()),
		CreatedAt:            now, LastActivityAt: now,
		ExpiresAt: now.Add(s.cfg.Sessions.MaxLifetime),
	}
	if _, err := s.store.ReplaceSessionToken(ctx, row); err != nil {
		writeError(w, err)
		return
	}

	conn := &store.Connection{
		ID: uuid.NewString(), SessionID: row.ID,
		FriendlyName: req.FriendlyName, HostTool: req.HostTool,
		LastHeartbeatAt: now, Status: store.ConnectionConnected,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		writeError(w, err)
		return
	}

	// Bring the user's tool servers up eagerly; a failure here is not
	// fatal, the invoke path retries.
	if err := s.router.EnsureUser(ctx, sess.UserID); err != nil {
		logging.Warn("HTTP", "Eager spawn for user %s failed: %v", sess.UserID, err)
	}

	writeJSON(w, http.StatusOK, registerResponse{
		SessionToken: token,
		SessionID:    row.ID,
		ConnectionID: conn.ID,
	})
}

type toolEntry struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema interface{}            `json:"input_schema,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type listToolsResponse struct {
	Tools      []toolEntry `json:"tools"`
	APIVersion string      `json:"api_version"`
	Timestamp  time.Time   `json:"timestamp"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, sess, err := s.pipeline.ListTools(r.Context(), bearerToken(r), sourceIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]toolEntry, 0, len(tools))
	for _, tool := range tools {
		entries = append(entries, toolEntry{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Metadata: map[string]interface{}{
				"mcp_server": s.router.OwnerOf(sess.UserID, tool.Name),
			},
		})
	}

	writeJSON(w, http.StatusOK, listToolsResponse{
		Tools:      entries,
		APIVersion: APIVersion,
		Timestamp:  time.Now().UTC(),
	})
}

type invokeRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

type invokeResponse struct {
	Result    *mcp.CallToolResult    `json:"result,omitempty"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	out, err := s.pipeline.Invoke(r.Context(), &pipeline.InvokeRequest{
		SessionToken: bearerToken(r),
		SourceIP:     sourceIP(r),
		Tool:         req.Tool,
		Arguments:    req.Arguments,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := invokeResponse{
		Result:    out.Result,
		RequestID: out.RequestID,
		Timestamp: time.Now().UTC(),
	}
	if out.DownstreamError != "" {
		resp.Metadata = map[string]interface{}{"error": out.DownstreamError}
	}
	writeJSON(w, http.StatusOK, resp)
}

type heartbeatRequest struct {
	ConnectionID string `json:"connection_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req heartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.ConnectionID == "" {
		writeError(w, apierror.New(apierror.KindValidation, "connection_id is required"))
		return
	}

	now := time.Now().UTC()
	if err := s.store.HeartbeatConnection(r.Context(), req.ConnectionID, now); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.TouchSession(r.Context(), sess.SessionID, now); err != nil {
		logging.Warn("HTTP", "Failed to touch session: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "timestamp": now})
}

func (s *Server) handleDisconnectConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.DisconnectConnection(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type oauthAuthorizeRequest struct {
	ServerName string `json:"server_name"`
}

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	sess, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req oauthAuthorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.ServerName == "" {
		writeError(w, apierror.New(apierror.KindValidation, "server_name is required"))
		return
	}

	entry, err := s.store.GetCatalogEntryByName(r.Context(), req.ServerName)
	if err != nil {
		writeError(w, err)
		return
	}

	redirectURI := fmt.Sprintf("https://%s:%d/v1/oauth/callback", s.cfg.ServerName, s.cfg.Port)
	authURL, state, err := s.oauth.GenerateAuthorizationURL(r.Context(), sess.UserID, entry.ID, redirectURI)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": authURL,
		"state":             state,
	})
}

// handleOAuthCallback finishes the PKCE flow. It is idempotent (a replayed
// state fails the atomic consume), rate-limited per source IP, and always
// ends in a redirect to the portal regardless of outcome.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !s.callbackLimiter.allow(sourceIP(r)) {
		w.Header().Set("Retry-After", "60")
		s.redirectToPortal(w, r, "error", "rate_limited")
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		logging.Warn("HTTP", "OAuth provider returned error: %s", errParam)
		s.redirectToPortal(w, r, "error", "provider_error")
		return
	}

	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		s.redirectToPortal(w, r, "error", "invalid_request")
		return
	}

	if _, _, _, err := s.oauth.ExchangeCodeForTokens(r.Context(), state, code); err != nil {
		reason := "exchange_failed"
		if apierror.IsKind(err, apierror.KindInvalidState) {
			reason = "invalid_state"
		}
		logging.Warn("HTTP", "OAuth exchange failed: %v", err)
		s.redirectToPortal(w, r, "error", reason)
		return
	}

	s.redirectToPortal(w, r, "success", "")
}

func (s *Server) redirectToPortal(w http.ResponseWriter, r *http.Request, status, reason string) {
	portal := s.cfg.OAuth.PortalURL
	if portal == "" {
		portal = "/"
	}
	values := url.Values{"status": {status}}
	if reason != "" {
		values.Set("reason", reason)
	}
	http.Redirect(w, r, portal+"?"+values.Encode(), http.StatusFound)
}

func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.store.GetCatalogEntryByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := s.oauth.Status(r.Context(), sess.UserID, entry.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"server": entry.Name, "status": status})
}

func (s *Server) handleOAuthDisconnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.store.GetCatalogEntryByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.oauth.Disconnect(r.Context(), sess.UserID, entry.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"server": entry.Name, "status": "disconnected"})
}

// handleHealth reports aggregate status only; no topology, no counts that
// would reveal tenant structure.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON parses a request body, writing the validation error itself on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" && ct != "application/json; charset=utf-8" {
		err := apierror.New(apierror.KindValidation, "unsupported content type")
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]interface{}{
			"error": map[string]string{"code": "unsupported_media_type", "message": "Content-Type must be application/json"},
		})
		return err
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		verr := apierror.New(apierror.KindValidation, "invalid JSON body")
		writeError(w, verr)
		return verr
	}
	return nil
}
