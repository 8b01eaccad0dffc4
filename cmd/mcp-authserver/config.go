package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// appConfig is the process configuration read from the environment.
type appConfig struct {
	Issuer            string        `env:"MCP_ISSUER,default=http://localhost:8080"`
	Addr              string        `env:"MCP_ADDR,default=:8080"`
	AccessTokenTTL    time.Duration `env:"MCP_ACCESS_TOKEN_TTL,default=1h"`
	RefreshTokenTTL   time.Duration `env:"MCP_REFRESH_TOKEN_TTL"`
	CodeTTL           time.Duration `env:"MCP_CODE_TTL,default=10m"`
	AllowAnyRedirect  bool          `env:"MCP_ALLOW_ANY_REDIRECT,default=true"`
	AllowInsecureHTTP bool          `env:"MCP_ALLOW_INSECURE_HTTP"`
	SigningKeyFile    string        `env:"MCP_SIGNING_KEY_FILE"`
	ResourceName      string        `env:"MCP_RESOURCE_NAME"`

	Store          string `env:"MCP_STORE,default=memory"`
	ValkeyAddr     string `env:"VALKEY_ADDR,default=localhost:6379"`
	ValkeyPassword string `env:"VALKEY_PASSWORD"`
	ValkeyDB       int    `env:"VALKEY_DB,default=0"`

	SessionStore  string `env:"MCP_SESSION_STORE,default=memory"`
	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	Users         string `env:"MCP_USERS,default=seed"`
	UsersFile     string `env:"MCP_USERS_FILE"`
	MySQLAddr     string `env:"MYSQL_ADDR,default=localhost:3306"`
	MySQLUser     string `env:"MYSQL_USER"`
	MySQLPassword string `env:"MYSQL_PASSWORD"`
	MySQLDatabase string `env:"MYSQL_DATABASE"`
	MySQLTable    string `env:"MYSQL_TABLE,default=users"`

	Verifier string `env:"MCP_VERIFIER,default=local"`

	CORSOrigins       string `env:"MCP_CORS_ORIGINS"`
	RateLimit         int    `env:"MCP_RATE_LIMIT,default=10"`
	TrustProxy        bool   `env:"MCP_TRUST_PROXY"`
	TrustedProxyCount int    `env:"MCP_TRUSTED_PROXY_COUNT,default=1"`

	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=text"`
	OTelEnabled bool   `env:"OTEL_ENABLED,default=true"`
}

const (
	backendMemory = "memory"
	backendValkey = "valkey"
	backendRedis  = "redis"

	usersSeed  = "seed"
	usersFile  = "file"
	usersMySQL = "mysql"

	verifierLocal  = "local"
	verifierRemote = "remote"
)

func loadConfig() (*appConfig, error) {
	var cfg appConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

func (c *appConfig) validate() error {
	var errs []error
	if !oneOf(c.Store, backendMemory, backendValkey) {
		errs = append(errs, fmt.Errorf("MCP_STORE must be memory or valkey, got %q", c.Store))
	}
	if !oneOf(c.SessionStore, backendMemory, backendRedis) {
		errs = append(errs, fmt.Errorf("MCP_SESSION_STORE must be memory or redis, got %q", c.SessionStore))
	}
	switch c.Users {
	case usersSeed:
	case usersFile:
		if c.UsersFile == "" {
			errs = append(errs, fmt.Errorf("MCP_USERS_FILE is required when MCP_USERS=file"))
		}
	case usersMySQL:
		if c.MySQLDatabase == "" {
			errs = append(errs, fmt.Errorf("MYSQL_DATABASE is required when MCP_USERS=mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("MCP_USERS must be seed, file or mysql, got %q", c.Users))
	}
	if !oneOf(c.Verifier, verifierLocal, verifierRemote) {
		errs = append(errs, fmt.Errorf("MCP_VERIFIER must be local or remote, got %q", c.Verifier))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("MCP_RATE_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}

// corsOrigins splits MCP_CORS_ORIGINS on commas. Empty means the default.
func (c *appConfig) corsOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
}
