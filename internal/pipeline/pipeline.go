// Package pipeline composes authentication, authorization, argument
// validation, routing and audit into the single request path every tool
// invocation takes. The pipeline is fail-closed: any stage failure stops the
// request, every failure mode maps to a generic public error, and exactly
// one terminal audit event is emitted per invocation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/google/uuid"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/killswitch"
	"github.com/mcpambassador/server/internal/ratelimit"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/validate"
	"github.com/mcpambassador/server/pkg/logging"
)

// Router is the dispatch surface the pipeline routes through. Satisfied by
// the tool router.
type Router interface {
	Invoke(ctx context.Context, userID, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error)
	Descriptor(userID, toolName string) (mcp.Tool, bool)
	Catalog(userID string) []mcp.Tool
	EnsureUser(ctx context.Context, userID string) error
}

// LimitsFunc resolves a profile's rate-limit triple.
type LimitsFunc func(ctx context.Context, profileID string) (ratelimit.Limits, error)

// Pipeline wires the AAA stages together.
type Pipeline struct {
	authn     authn.Provider
	authz     authz.Provider
	auditor   *audit.Service
	validator *validate.Validator
	router    Router
	switches  *killswitch.Map
	limiter   *ratelimit.Limiter
	limits    LimitsFunc
	store     *store.Store

	// restrictions apply to every invocation on top of tool schemas.
	restrictions *validate.Restrictions
}

// New creates a pipeline.
func New(
	authnProvider authn.Provider,
	authzProvider authz.Provider,
	auditor *audit.Service,
	validator *validate.Validator,
	router Router,
	switches *killswitch.Map,
	limiter *ratelimit.Limiter,
	limits LimitsFunc,
	st *store.Store,
) *Pipeline {
	return &Pipeline{
		authn:     authnProvider,
		authz:     authzProvider,
		auditor:   auditor,
		validator: validator,
		router:    router,
		switches:  switches,
		limiter:   limiter,
		limits:    limits,
		store:     st,
	}
}

// SetRestrictions installs global argument restrictions.
func (p *Pipeline) SetRestrictions(r *validate.Restrictions) {
	p.restrictions = r
}

// InvokeRequest is one tool invocation entering the pipeline.
type InvokeRequest struct {
	SessionToken string
	SourceIP     string
	Tool         string
	Arguments    map[string]interface{}
}

// InvokeResult is the pipeline's outcome for a routed invocation.
type InvokeResult struct {
	RequestID string
	Result    *mcp.CallToolResult
	// DownstreamError carries a recovered downstream failure; the request
	// itself succeeded through the pipeline.
	DownstreamError string
	Session         *authn.SessionContext
}

// recorder tracks which audit events have been emitted for one request so
// each is emitted exactly once and the terminal catch never double-logs.
type recorder struct {
	auditor  *audit.Service
	terminal bool
}

func (r *recorder) emit(ctx context.Context, event *audit.Event) error {
	switch event.EventType {
	case audit.TypeAuthnFail, audit.TypeAuthzDeny, audit.TypeToolInvocation, audit.TypeToolError:
		r.terminal = true
	}
	return r.auditor.Emit(ctx, event)
}

// Invoke runs one tool call through AuthN -> AuthZ -> Validate -> Route,
// bracketed by audit events.
func (p *Pipeline) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	requestID := uuid.NewString()
	rec := &recorder{auditor: p.auditor}

	// Input validation precedes everything, including authentication.
	if req.Tool == "" {
		return nil, apierror.New(apierror.KindValidation, "tool name is required")
	}

	// AuthN. Every failure collapses to a generic unauthorized; the
	// specific reason lives only in the audit trail.
	sess, err := p.authn.Authenticate(ctx, &authn.Request{
		SessionToken: req.SessionToken,
		SourceIP:     req.SourceIP,
	})
	if err != nil {
		event := audit.NewEvent(audit.TypeAuthnFail)
		event.SourceIP = req.SourceIP
		event.Action = "tool_invoke"
		event.ToolName = req.Tool
		event.Metadata = map[string]interface{}{"reason": err.Error()}
		if auditErr := rec.emit(ctx, event); auditErr != nil {
			return nil, auditErr
		}
		return nil, apierror.New(apierror.KindUnauthorized, "authentication failed")
	}

	event := audit.NewEvent(audit.TypeAuthnSuccess)
	p.attribute(event, sess, req)
	if auditErr := rec.emit(ctx, event); auditErr != nil {
		return nil, auditErr
	}

	// Kill switches are authoritative: an active switch denies before the
	// RBAC provider is consulted.
	if key, active := p.switches.AnyActive(
		[2]string{killswitch.TypeGlobal, killswitch.GlobalTarget},
		[2]string{killswitch.TypeUser, sess.UserID},
		[2]string{killswitch.TypeClient, sess.ClientID},
		[2]string{killswitch.TypeTool, req.Tool},
	); active {
		if auditErr := p.auditDeny(ctx, rec, sess, req, "kill_switch", "kill switch "+key+" active"); auditErr != nil {
			return nil, auditErr
		}
		return nil, apierror.New(apierror.KindForbidden, "access denied")
	}

	// AuthZ.
	decision, err := p.authz.Authorize(ctx, &authz.Subject{
		SessionID: sess.SessionID,
		ClientID:  sess.ClientID,
		UserID:    sess.UserID,
		ProfileID: sess.ProfileID,
	}, req.Tool)
	if err != nil {
		return nil, p.fail(ctx, rec, sess, req, err)
	}
	if !decision.Permit {
		if auditErr := p.auditDeny(ctx, rec, sess, req, decision.PolicyID, decision.Reason); auditErr != nil {
			return nil, auditErr
		}
		return nil, apierror.New(apierror.KindForbidden, "access denied")
	}

	permitEvent := audit.NewEvent(audit.TypeAuthzPermit)
	p.attribute(permitEvent, sess, req)
	permitEvent.AuthzDecision = "permit"
	permitEvent.Metadata = map[string]interface{}{
		"policy_id": decision.PolicyID,
		"reason":    decision.Reason,
	}
	if auditErr := rec.emit(ctx, permitEvent); auditErr != nil {
		return nil, auditErr
	}

	// Rate limits from the effective profile.
	limits, err := p.limits(ctx, sess.ProfileID)
	if err != nil {
		return nil, p.fail(ctx, rec, sess, req, err)
	}
	release, err := p.limiter.Acquire(sess.ClientID, limits)
	if err != nil {
		return nil, p.fail(ctx, rec, sess, req, err)
	}
	defer release()

	// Ensure the user's servers exist before consulting the catalog for
	// the tool's schema.
	if err := p.router.EnsureUser(ctx, sess.UserID); err != nil {
		return nil, p.fail(ctx, rec, sess, req, err)
	}

	// Argument validation against the downstream server's declared schema.
	args := req.Arguments
	var schemaJSON []byte
	if tool, ok := p.router.Descriptor(sess.UserID, req.Tool); ok && tool.InputSchema.Type != "" {
		if raw, marshalErr := json.Marshal(tool.InputSchema); marshalErr == nil {
			schemaJSON = raw
		}
	}
	result, err := p.validator.Validate(args, schemaJSON, p.restrictions)
	if err != nil {
		return nil, p.fail(ctx, rec, sess, req, err)
	}
	if !result.Valid {
		verr := apierror.New(apierror.KindValidation, "%s", result.Error)
		return nil, p.fail(ctx, rec, sess, req, verr)
	}
	sanitized := result.SanitizedArgs

	// Route. Downstream failures are recovered: they become a response
	// with an error in metadata, never a pipeline failure.
	out := &InvokeResult{RequestID: requestID, Session: sess}
	toolResult, invokeErr := p.router.Invoke(ctx, sess.UserID, req.Tool, sanitized)
	if invokeErr != nil {
		kind := apierror.KindOf(invokeErr)
		if kind == apierror.KindNotFound || kind == apierror.KindResourceLimitExceeded {
			return nil, p.fail(ctx, rec, sess, req, invokeErr)
		}

		errEvent := audit.NewEvent(audit.TypeToolError)
		p.attribute(errEvent, sess, req)
		errEvent.RequestSummary = summarizeArgs(sanitized)
		errEvent.ResponseSummary = invokeErr.Error()
		if auditErr := rec.emit(ctx, errEvent); auditErr != nil {
			return nil, auditErr
		}
		out.DownstreamError = apierror.PublicMessage(kind)
		logging.Warn("Pipeline", "Downstream error for tool %s: %v", req.Tool, invokeErr)
	} else {
		okEvent := audit.NewEvent(audit.TypeToolInvocation)
		p.attribute(okEvent, sess, req)
		okEvent.RequestSummary = summarizeArgs(sanitized)
		okEvent.ResponseSummary = "success"
		if auditErr := rec.emit(ctx, okEvent); auditErr != nil {
			return nil, auditErr
		}
		out.Result = toolResult
	}

	if sess.SessionID != "" {
		if touchErr := p.store.TouchSession(ctx, sess.SessionID, time.Now()); touchErr != nil {
			logging.Warn("Pipeline", "Failed to record session activity: %v", touchErr)
		}
	}
	return out, nil
}

// ListTools returns the subset of the merged catalog the session is
// authorized to see.
func (p *Pipeline) ListTools(ctx context.Context, sessionToken, sourceIP string) ([]mcp.Tool, *authn.SessionContext, error) {
	sess, err := p.authn.Authenticate(ctx, &authn.Request{SessionToken: sessionToken, SourceIP: sourceIP})
	if err != nil {
		return nil, nil, apierror.New(apierror.KindUnauthorized, "authentication failed")
	}

	if err := p.router.EnsureUser(ctx, sess.UserID); err != nil {
		return nil, nil, err
	}

	catalog := p.router.Catalog(sess.UserID)
	names := make([]string, len(catalog))
	byName := make(map[string]mcp.Tool, len(catalog))
	for i, tool := range catalog {
		names[i] = tool.Name
		byName[tool.Name] = tool
	}

	permitted, err := p.authz.ListAuthorized(ctx, &authz.Subject{
		SessionID: sess.SessionID,
		ClientID:  sess.ClientID,
		UserID:    sess.UserID,
		ProfileID: sess.ProfileID,
	}, names)
	if err != nil {
		return nil, nil, err
	}

	out := make([]mcp.Tool, 0, len(permitted))
	for _, name := range permitted {
		out = append(out, byName[name])
	}
	return out, sess, nil
}

// AuthenticateKey authenticates a preshared client key during session
// registration, auditing the attempt either way.
func (p *Pipeline) AuthenticateKey(ctx context.Context, presharedKey, sourceIP string) (*authn.SessionContext, error) {
	sess, err := p.authn.Authenticate(ctx, &authn.Request{PresharedKey: presharedKey, SourceIP: sourceIP})
	if err != nil {
		event := audit.NewEvent(audit.TypeAuthnFail)
		event.SourceIP = sourceIP
		event.Action = "session_register"
		event.Metadata = map[string]interface{}{"reason": err.Error()}
		if auditErr := p.auditor.Emit(ctx, event); auditErr != nil {
			return nil, auditErr
		}
		return nil, apierror.New(apierror.KindUnauthorized, "authentication failed")
	}

	event := audit.NewEvent(audit.TypeSessionRegister)
	event.UserID = sess.UserID
	event.ClientID = sess.ClientID
	event.SourceIP = sourceIP
	event.Action = "session_register"
	if auditErr := p.auditor.Emit(ctx, event); auditErr != nil {
		return nil, auditErr
	}
	return sess, nil
}

// Authenticate exposes bare authentication for endpoints outside the
// invocation path (heartbeat, connection management).
func (p *Pipeline) Authenticate(ctx context.Context, sessionToken, sourceIP string) (*authn.SessionContext, error) {
	sess, err := p.authn.Authenticate(ctx, &authn.Request{SessionToken: sessionToken, SourceIP: sourceIP})
	if err != nil {
		return nil, apierror.New(apierror.KindUnauthorized, "authentication failed")
	}
	return sess, nil
}

// fail emits the terminal tool_error event for a pipeline-stage failure,
// unless a terminal event was already recorded, then propagates err.
func (p *Pipeline) fail(ctx context.Context, rec *recorder, sess *authn.SessionContext, req *InvokeRequest, err error) error {
	if !rec.terminal {
		event := audit.NewEvent(audit.TypeToolError)
		p.attribute(event, sess, req)
		event.ResponseSummary = err.Error()
		if auditErr := rec.emit(ctx, event); auditErr != nil {
			return auditErr
		}
	}
	return err
}

func (p *Pipeline) auditDeny(ctx context.Context, rec *recorder, sess *authn.SessionContext, req *InvokeRequest, policyID, reason string) error {
	event := audit.NewEvent(audit.TypeAuthzDeny)
	p.attribute(event, sess, req)
	event.AuthzDecision = "deny"
	event.Metadata = map[string]interface{}{
		"policy_id": policyID,
		"reason":    reason,
	}
	return rec.emit(ctx, event)
}

func (p *Pipeline) attribute(event *audit.Event, sess *authn.SessionContext, req *InvokeRequest) {
	event.SessionID = sess.SessionID
	event.UserID = sess.UserID
	event.ClientID = sess.ClientID
	event.SourceIP = req.SourceIP
	event.Action = "tool_invoke"
	event.ToolName = req.Tool
}

// summarizeArgs renders the sanitized (already redacted) arguments for
// audit, truncated to keep rows bounded.
func summarizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("unserializable arguments (%d keys)", len(args))
	}
	const maxSummary = 2048
	if len(raw) > maxSummary {
		return string(raw[:maxSummary]) + "..."
	}
	return string(raw)
}
