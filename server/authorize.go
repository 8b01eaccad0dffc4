package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/users"
)

// CallbackPath is the fallback redirect target for codes issued without a
// redirect_uri.
const CallbackPath = "/oauth2/callback"

// AuthorizationRequest holds the parameters of an authorization request. It
// is kept in the login session while the user signs in.
type AuthorizationRequest struct {
	ResponseType        string `json:"response_type"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri,omitempty"`
	Scope               string `json:"scope"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// ParseAuthorizationRequest reads an authorization request from query values.
func ParseAuthorizationRequest(q url.Values) *AuthorizationRequest {
	return &AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
}

// ErrorRedirect returns the redirect URI carrying err back to the client, or
// "" when the request has no redirect URI.
func (r *AuthorizationRequest) ErrorRedirect(err *Error) string {
	if r.RedirectURI == "" {
		return ""
	}
	return util.AppendQuery(r.RedirectURI,
		"error", err.Code,
		"error_description", err.Description,
		"state", r.State)
}

// ValidateAuthorizationRequest checks response type, client and redirect URI,
// and fills the default scope. The returned errors are safe to show.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "validate_authorization_request")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	if req.ResponseType != ResponseTypeCode {
		instrumentation.AddOAuthErrorAttributes(span, ErrorCodeUnsupportedResponseType, "")
		return nil, ErrUnsupportedResponseType("Only 'code' response type is supported")
	}

	if req.ClientID == "" {
		return nil, ErrInvalidRequest("Missing client_id")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			instrumentation.AddOAuthErrorAttributes(span, ErrorCodeInvalidClient, "")
			return nil, ErrInvalidClient(fmt.Sprintf("Unknown client: %s", req.ClientID))
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	if req.RedirectURI != "" && !s.redirectAllowed(client, req.RedirectURI) {
		s.Logger.Warn("Rejected redirect_uri", "client_id", client.ClientID)
		s.Auditor.LogInvalidRedirect(ctx, client.ClientID, "")
		instrumentation.AddOAuthErrorAttributes(span, ErrorCodeInvalidRequest, "invalid redirect_uri")
		return nil, ErrInvalidRequest("Invalid redirect_uri")
	}

	if req.Scope == "" {
		req.Scope = s.Config.DefaultScope
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", req.Scope)
	instrumentation.SetSpanSuccess(span)
	return client, nil
}

// RedirectTrusted reports whether redirectURI belongs to the registered client
// and may therefore receive error redirects.
func (s *Server) RedirectTrusted(ctx context.Context, clientID, redirectURI string) bool {
	if clientID == "" || redirectURI == "" {
		return false
	}
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return false
	}
	return s.redirectAllowed(client, redirectURI)
}

func (s *Server) redirectAllowed(client *storage.Client, redirectURI string) bool {
	if len(client.RedirectURIs) == 0 {
		return s.Config.AllowsAnyRedirectURI()
	}
	return client.HasRedirectURI(redirectURI)
}

// IssueCode stores a new authorization code for subject and returns the URL
// the user agent is sent to.
func (s *Server) IssueCode(ctx context.Context, req *AuthorizationRequest, subject string) (string, error) {
	ctx, span := s.startSpan(ctx, "issue_code")
	defer span.End()

	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}

	scope := req.Scope
	if scope == "" {
		scope = s.Config.DefaultScope
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                uuid.NewString(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Subject:             subject,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.CodeTTL),
	}
	if code.CodeChallenge == "" {
		code.CodeChallengeMethod = ""
	}

	if err := s.codes.SaveAuthorizationCode(ctx, code); err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, code.ClientID, subject, scope)
	instrumentation.AddPKCEAttributes(span, code.CodeChallengeMethod)
	instrumentation.SetSpanSuccess(span)
	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, code.ClientID)
	}
	s.Auditor.LogCodeIssued(ctx, subject, code.ClientID, scope, code.CodeChallenge != "")
	s.Logger.Debug("Issued authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, 8))

	target := req.RedirectURI
	if target == "" {
		target = s.Config.Issuer + CallbackPath
	}
	return util.AppendQuery(target, "code", code.Code, "state", req.State), nil
}

// Authenticate checks login credentials. It returns users.ErrInvalidCredentials
// for an unknown email or a wrong password.
func (s *Server) Authenticate(ctx context.Context, email, password, clientIP string) (*users.User, error) {
	ctx, span := s.startSpan(ctx, "authenticate")
	defer span.End()

	user, err := users.CheckCredentials(ctx, s.users, email, password)
	success := err == nil
	if s.metrics != nil {
		s.metrics.RecordLoginAttempt(ctx, success)
	}
	s.Auditor.LogLogin(ctx, users.NormalizeEmail(email), clientIP, success)

	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			instrumentation.SetSpanError(span, "invalid credentials")
			return nil, err
		}
		instrumentation.RecordError(span, err)
		s.Logger.Error("User lookup failed", "error", err)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, "", user.Email, "")
	instrumentation.SetSpanSuccess(span)
	return user, nil
}
