package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/signing"
)

// Bearer validation results recorded in metrics.
const (
	BearerResultValid   = "valid"
	BearerResultMissing = "missing"
	BearerResultInvalid = "invalid"
)

// ValidateAccessToken verifies the token signature and expiry and requires the
// issuer among its audiences. Trailing slashes are ignored on both sides.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*signing.Claims, error) {
	_, span := s.startSpan(ctx, "validate_access_token")
	defer span.End()

	claims, err := s.verify(token)
	result := BearerResultValid
	if err != nil {
		result = BearerResultInvalid
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.AddOAuthFlowAttributes(span, claims.ClientID, claims.Subject, claims.Scope)
		instrumentation.SetSpanSuccess(span)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrBearerResult, result))
	return claims, err
}

func (s *Server) verify(token string) (*signing.Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if !AudienceContains(claims.Audience, s.Config.Issuer) {
		return nil, fmt.Errorf("token audience does not include %s", s.Config.Issuer)
	}
	return claims, nil
}

// AudienceContains reports whether audiences holds want, ignoring trailing
// slashes.
func AudienceContains(audiences []string, want string) bool {
	want = util.NormalizeURL(want)
	for _, aud := range audiences {
		if util.NormalizeURL(aud) == want {
			return true
		}
	}
	return false
}
