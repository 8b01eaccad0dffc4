package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Grant and response types the server supports.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"

	// TokenEndpointAuthMethodNone marks every registered client as public.
	TokenEndpointAuthMethodNone = "none"
)

var blockedRedirectSchemes = []string{"javascript", "data", "vbscript", "file"}

// RegistrationRequest is a dynamic client registration request body.
type RegistrationRequest struct {
	ClientName    string   `json:"client_name,omitempty"`
	RedirectURIs  []string `json:"redirect_uris,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	ResponseTypes []string `json:"response_types,omitempty"`

	// ClientIP is filled by the HTTP layer for auditing.
	ClientIP string `json:"-"`
}

// RegistrationResponse is returned to the registering client.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
}

// NewRegistrationResponse renders a stored client.
func NewRegistrationResponse(client *storage.Client) *RegistrationResponse {
	return &RegistrationResponse{
		ClientID:                client.ClientID,
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
	}
}

// RegisterClient stores a new public client under a fresh id. Registration is
// never idempotent: identical requests yield distinct clients.
func (s *Server) RegisterClient(ctx context.Context, req RegistrationRequest) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "register_client")
	defer span.End()

	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			s.Logger.Warn("Rejected client registration", "reason", err.Error(), "client_ip", req.ClientIP)
			s.Auditor.LogInvalidRedirect(ctx, "", req.ClientIP)
			instrumentation.SetSpanError(span, "invalid redirect uri")
			return nil, ErrInvalidRedirectURI(err.Error())
		}
	}

	client := &storage.Client{
		ClientID:      uuid.NewString(),
		ClientName:    req.ClientName,
		RedirectURIs:  append([]string{}, req.RedirectURIs...),
		GrantTypes:    req.GrantTypes,
		ResponseTypes: req.ResponseTypes,
		CreatedAt:     s.now(),
	}
	if client.ClientName == "" {
		client.ClientName = DefaultClientName
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{ResponseTypeCode}
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", "")
	instrumentation.SetSpanSuccess(span)
	if s.metrics != nil {
		s.metrics.RecordClientRegistration(ctx)
	}
	s.Auditor.LogClientRegistered(ctx, client.ClientID, client.ClientName, req.ClientIP, len(client.RedirectURIs))
	s.Logger.Info("Registered client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uris", len(client.RedirectURIs))

	return client, nil
}

// GetClient returns a registered client.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clients.GetClient(ctx, clientID)
}

// validateRedirectURI rejects URIs that cannot safely receive a code:
// unparsable ones, script-capable schemes and fragments.
func validateRedirectURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("redirect_uri cannot be empty")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format")
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute")
	}
	scheme := strings.ToLower(parsed.Scheme)
	for _, blocked := range blockedRedirectSchemes {
		if scheme == blocked {
			return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
		}
	}
	if parsed.Fragment != "" || strings.Contains(uri, "#") {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}
	return nil
}
