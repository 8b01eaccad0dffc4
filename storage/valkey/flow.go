package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// luaConsumeRefresh reads, expiry-checks and deletes a refresh entry in one step.
//
// KEYS[1] = refresh key
// ARGV[1] = current Unix time in seconds
//
// Returns the stored JSON, 'NOT_FOUND', or 'EXPIRED' (the key is deleted either way).
const luaConsumeRefresh = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
redis.call('DEL', KEYS[1])
local entry = cjson.decode(data)
local expiresAt = tonumber(entry['expires_at_unix'])
if expiresAt and expiresAt > 0 and tonumber(ARGV[1]) > expiresAt then
    return 'EXPIRED'
end
return data
`

// refreshEntry is the stored form of a refresh token. The Unix expiry lets
// the Lua script compare without parsing RFC 3339.
type refreshEntry struct {
	Token         *storage.RefreshToken `json:"token"`
	ExpiresAtUnix int64                 `json:"expires_at_unix"`
}

// SaveAuthorizationCode stores a code with a TTL slightly past its ExpiresAt.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	if err := s.set(ctx, s.codeKey(code.Code), data, s.ttlUntil(code.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode removes and returns a code with GETDEL.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.codeKey(code)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var authCode storage.AuthorizationCode
	if err := json.Unmarshal([]byte(data), &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	return &authCode, nil
}

// SaveRefreshToken stores a refresh token. Tokens without ExpiresAt never expire.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	entry := refreshEntry{Token: token}
	if !token.ExpiresAt.IsZero() {
		entry.ExpiresAtUnix = token.ExpiresAt.Unix()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	if err := s.set(ctx, s.refreshKey(token.Token), data, s.ttlUntil(token.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	return nil
}

// ConsumeRefreshToken removes and returns a refresh token atomically.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefresh).
			Numkeys(1).
			Key(s.refreshKey(token)).
			Arg(strconv.FormatInt(s.now().Unix(), 10)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case "EXPIRED":
		s.logger.Debug("Refresh token expired",
			"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
		return nil, storage.ErrTokenExpired
	}

	var entry refreshEntry
	if err := json.Unmarshal([]byte(result), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	if entry.Token == nil {
		return nil, fmt.Errorf("refresh entry is missing its token")
	}

	return entry.Token, nil
}

func (s *Store) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	}
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
}
