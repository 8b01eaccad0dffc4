package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/signing"
	"github.com/giantswarm/mcp-authserver/storage"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// TokenRequest is a token endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
	RefreshToken string

	// ClientIP is filled by the HTTP layer for auditing.
	ClientIP string
}

// TokenResponse is a successful token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token dispatches on grant_type.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.RefreshAccessToken(ctx, req)
	default:
		s.recordGrantFailure(ctx, req.GrantType, ErrorCodeUnsupportedGrantType)
		return nil, ErrUnsupportedGrantType("Supported grant types: authorization_code, refresh_token")
	}
}

// ExchangeAuthorizationCode redeems a code for an access token and a refresh
// token. The code is consumed before any other check, so a failed attempt
// still burns it.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "exchange_authorization_code")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))

	fail := func(err *Error, reason string) (*TokenResponse, error) {
		s.Logger.Debug("Authorization code exchange failed",
			"reason", reason,
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		instrumentation.AddOAuthErrorAttributes(span, err.Code, err.Description)
		s.recordGrantFailure(ctx, GrantTypeAuthorizationCode, err.Code)
		s.Auditor.LogAuthFailure(ctx, req.ClientID, req.ClientIP, reason)
		return nil, err
	}

	if req.Code == "" || req.ClientID == "" {
		return fail(ErrInvalidRequest("Missing code or client_id"), "missing_parameters")
	}

	authCode, err := s.codes.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return fail(ErrInvalidGrant("Invalid or expired authorization code"), "unknown_code")
		}
		return s.internalFailure(ctx, span, GrantTypeAuthorizationCode, err)
	}

	if s.now().Sub(authCode.CreatedAt) > s.Config.CodeTTL {
		return fail(ErrInvalidGrant("Authorization code expired"), "code_expired")
	}

	if authCode.ClientID != req.ClientID {
		return fail(ErrInvalidGrant("Client ID mismatch"), "client_id_mismatch")
	}

	if authCode.RedirectURI != "" && authCode.RedirectURI != req.RedirectURI {
		return fail(ErrInvalidGrant("Redirect URI mismatch"), "redirect_uri_mismatch")
	}

	if err := validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, req.CodeVerifier); err != nil {
		if errors.Is(err, errMissingVerifier) {
			return fail(ErrInvalidGrant("Missing code_verifier"), "missing_code_verifier")
		}
		if s.metrics != nil {
			s.metrics.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		s.Auditor.LogPKCEFailure(ctx, req.ClientID, req.ClientIP, authCode.CodeChallengeMethod)
		return fail(ErrInvalidGrant("Invalid code_verifier"), "pkce_validation_failed")
	}

	resp, err := s.issueTokens(ctx, authCode.Subject, authCode.ClientID, authCode.Scope)
	if err != nil {
		return s.internalFailure(ctx, span, GrantTypeAuthorizationCode, err)
	}

	instrumentation.AddOAuthFlowAttributes(span, authCode.ClientID, authCode.Subject, authCode.Scope)
	instrumentation.AddPKCEAttributes(span, authCode.CodeChallengeMethod)
	instrumentation.SetSpanSuccess(span)
	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, authCode.ClientID, authCode.CodeChallengeMethod)
	}
	s.Auditor.LogTokenIssued(ctx, authCode.Subject, authCode.ClientID, req.ClientIP, authCode.Scope)

	return resp, nil
}

// RefreshAccessToken rotates a refresh token. The presented token is
// consumed and can never be used again, whatever the outcome.
func (s *Server) RefreshAccessToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "refresh_access_token")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken))

	fail := func(err *Error, reason string) (*TokenResponse, error) {
		s.Logger.Debug("Refresh token grant failed",
			"reason", reason,
			"client_id", req.ClientID,
			"token_prefix", util.SafeTruncate(req.RefreshToken, 8))
		instrumentation.AddOAuthErrorAttributes(span, err.Code, err.Description)
		s.recordGrantFailure(ctx, GrantTypeRefreshToken, err.Code)
		s.Auditor.LogAuthFailure(ctx, req.ClientID, req.ClientIP, reason)
		return nil, err
	}

	if req.RefreshToken == "" || req.ClientID == "" {
		return fail(ErrInvalidRequest("Missing refresh_token or client_id"), "missing_parameters")
	}

	stored, err := s.refreshTokens.ConsumeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			return fail(ErrInvalidGrant("Invalid refresh token"), "unknown_refresh_token")
		case errors.Is(err, storage.ErrTokenExpired):
			return fail(ErrInvalidGrant("Invalid refresh token"), "refresh_token_expired")
		}
		return s.internalFailure(ctx, span, GrantTypeRefreshToken, err)
	}

	if stored.ClientID != req.ClientID {
		return fail(ErrInvalidGrant("Client ID mismatch"), "client_id_mismatch")
	}

	resp, err := s.issueTokens(ctx, stored.Subject, stored.ClientID, stored.Scope)
	if err != nil {
		return s.internalFailure(ctx, span, GrantTypeRefreshToken, err)
	}

	instrumentation.AddOAuthFlowAttributes(span, stored.ClientID, stored.Subject, stored.Scope)
	instrumentation.SetSpanSuccess(span)
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, stored.ClientID)
	}
	s.Auditor.LogTokenRefreshed(ctx, stored.Subject, stored.ClientID, req.ClientIP)

	return resp, nil
}

// issueTokens signs an access token and stores a fresh refresh token.
func (s *Server) issueTokens(ctx context.Context, subject, clientID, scope string) (*TokenResponse, error) {
	now := s.now()

	claims := signing.NewAccessTokenClaims(s.Config.Issuer, subject, s.Config.Issuer, scope, clientID, s.Config.AccessTokenTTL, now)
	accessToken, err := s.signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := &storage.RefreshToken{
		Token:     uuid.NewString(),
		ClientID:  clientID,
		Subject:   subject,
		Scope:     scope,
		CreatedAt: now,
	}
	if s.Config.RefreshTokenTTL > 0 {
		refresh.ExpiresAt = now.Add(s.Config.RefreshTokenTTL)
	}
	if err := s.refreshTokens.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.Config.AccessTokenTTL.Seconds()),
		Scope:        scope,
		RefreshToken: refresh.Token,
	}, nil
}

func (s *Server) internalFailure(ctx context.Context, span trace.Span, grantType string, err error) (*TokenResponse, error) {
	s.Logger.Error("Token request failed", "grant_type", grantType, "error", err)
	instrumentation.RecordError(span, err)
	s.recordGrantFailure(ctx, grantType, ErrorCodeServerError)
	return nil, ErrServerError("The server could not complete the request")
}

func (s *Server) recordGrantFailure(ctx context.Context, grantType, reason string) {
	if s.metrics != nil {
		s.metrics.RecordGrantFailed(ctx, grantType, reason)
	}
}
