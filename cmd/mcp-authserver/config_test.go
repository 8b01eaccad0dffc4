package main

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Issuer != "http://localhost:8080" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != time.Hour || cfg.CodeTTL != 10*time.Minute {
		t.Errorf("TTLs = %v / %v", cfg.AccessTokenTTL, cfg.CodeTTL)
	}
	if cfg.RefreshTokenTTL != 0 {
		t.Errorf("RefreshTokenTTL = %v, want 0 (no expiry)", cfg.RefreshTokenTTL)
	}
	if cfg.Store != backendMemory || cfg.SessionStore != backendMemory || cfg.Users != usersSeed || cfg.Verifier != verifierLocal {
		t.Errorf("backends = %s/%s/%s/%s", cfg.Store, cfg.SessionStore, cfg.Users, cfg.Verifier)
	}
	if !cfg.AllowAnyRedirect {
		t.Error("AllowAnyRedirect should default to true")
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate() error = %v", err)
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("MCP_ISSUER", "https://auth.example.com")
	t.Setenv("MCP_REFRESH_TOKEN_TTL", "720h")
	t.Setenv("MCP_STORE", "valkey")
	t.Setenv("VALKEY_DB", "3")
	t.Setenv("MCP_ALLOW_ANY_REDIRECT", "false")
	t.Setenv("MCP_CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Issuer != "https://auth.example.com" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.RefreshTokenTTL != 720*time.Hour {
		t.Errorf("RefreshTokenTTL = %v", cfg.RefreshTokenTTL)
	}
	if cfg.Store != backendValkey || cfg.ValkeyDB != 3 {
		t.Errorf("Store = %q, ValkeyDB = %d", cfg.Store, cfg.ValkeyDB)
	}
	if cfg.AllowAnyRedirect {
		t.Error("AllowAnyRedirect = true, want false")
	}
	origins := cfg.corsOrigins()
	if strings.Join(origins, "|") != "https://a.example|https://b.example" {
		t.Errorf("corsOrigins() = %v", origins)
	}
}

func TestAppConfig_Validate(t *testing.T) {
	valid := func() *appConfig {
		return &appConfig{Store: "memory", SessionStore: "memory", Users: "seed", Verifier: "local"}
	}

	tests := []struct {
		name    string
		mutate  func(*appConfig)
		wantErr string
	}{
		{"valid", func(*appConfig) {}, ""},
		{"bad store", func(c *appConfig) { c.Store = "postgres" }, "MCP_STORE"},
		{"bad session store", func(c *appConfig) { c.SessionStore = "valkey" }, "MCP_SESSION_STORE"},
		{"file without path", func(c *appConfig) { c.Users = "file" }, "MCP_USERS_FILE"},
		{"mysql without database", func(c *appConfig) { c.Users = "mysql" }, "MYSQL_DATABASE"},
		{"bad users", func(c *appConfig) { c.Users = "ldap" }, "MCP_USERS"},
		{"bad verifier", func(c *appConfig) { c.Verifier = "introspect" }, "MCP_VERIFIER"},
		{"negative rate", func(c *appConfig) { c.RateLimit = -1 }, "MCP_RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug", "json"); err != nil {
		t.Errorf("newLogger(debug, json) error = %v", err)
	}
	if _, err := newLogger("info", ""); err != nil {
		t.Errorf("newLogger(info, \"\") error = %v", err)
	}
	if _, err := newLogger("loud", "text"); err == nil {
		t.Error("newLogger() with bad level should fail")
	}
	if _, err := newLogger("info", "xml"); err == nil {
		t.Error("newLogger() with bad format should fail")
	}
}
