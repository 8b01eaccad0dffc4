package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultUsersTable is queried when SQLConfig.Table is empty.
	DefaultUsersTable = "users"

	// DefaultQueryTimeout bounds a shared user lookup.
	DefaultQueryTimeout = 5 * time.Second
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// SQLConfig describes the MySQL database holding users.
//
// The table needs name, email, department and password_hash columns.
type SQLConfig struct {
	Addr     string
	User     string
	Password string
	DBName   string
	Table    string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	QueryTimeout    time.Duration
}

// SQLStore looks users up in MySQL. Concurrent lookups of the same email
// share one query.
type SQLStore struct {
	db           *sql.DB
	query        string
	queryTimeout time.Duration
	group        singleflight.Group
}

var _ Lookup = (*SQLStore)(nil)

// OpenSQLStore connects to MySQL and verifies the connection.
func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if cfg.Addr == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("mysql address and database name are required")
	}

	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store, err := NewSQLStore(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.QueryTimeout > 0 {
		store.queryTimeout = cfg.QueryTimeout
	}
	return store, nil
}

// NewSQLStore wraps an open database. table defaults to DefaultUsersTable.
func NewSQLStore(db *sql.DB, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultUsersTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid users table name %q", table)
	}

	return &SQLStore{
		db:           db,
		queryTimeout: DefaultQueryTimeout,
		query:        "SELECT name, email, COALESCE(department, ''), password_hash FROM " + table + " WHERE email = ? LIMIT 1",
	}, nil
}

// FindByEmail implements Lookup. The shared query ignores the caller's
// cancellation and is bounded by the query timeout instead.
func (s *SQLStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)

	ch := s.group.DoChan(email, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.queryTimeout)
		defer cancel()

		var u User
		err := s.db.QueryRowContext(qctx, s.query, email).Scan(&u.Name, &u.Email, &u.Department, &u.PasswordHash)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query user: %w", err)
		}
		return &u, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// callers sharing a flight must not share the pointer
		u := *res.Val.(*User)
		return &u, nil
	}
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func buildDSN(cfg SQLConfig) string {
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = cfg.Addr
	mysqlCfg.DBName = cfg.DBName
	mysqlCfg.ParseTime = true
	mysqlCfg.AllowNativePasswords = true
	mysqlCfg.Params = map[string]string{"charset": "utf8mb4"}

	return mysqlCfg.FormatDSN()
}
