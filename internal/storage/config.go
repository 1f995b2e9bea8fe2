package storage

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gjallarhorn-io/gjallarhorn/internal/config"
)

const (
	defaultMaxOpenConns    = 5
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Second
	defaultTxTimeout       = 30 * time.Second

	defaultDBHost     = "localhost"
	defaultDBPort     = "5432"
	defaultDBName     = "gjallarhorn"
	defaultDBUser     = "postgres"
	defaultDBPassword = "postgres" // pragma: allowlist secret
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrInvalidTxTimeout is returned when the transaction timeout is not positive.
	ErrInvalidTxTimeout = errors.New("transaction timeout must be greater than zero")
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Idle connections are closed after this long
	TxTimeout       time.Duration // Deadline applied to every unit of work
}

// LoadConfig loads PostgreSQL configuration from environment variables with fallback to defaults.
//
// DATABASE_URL wins when set. Otherwise the URL is assembled from DB_HOST, DB_PORT,
// DB_NAME, DB_USER and DB_PASSWORD.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", buildDatabaseURLFromEnv()),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		TxTimeout:       config.GetEnvDuration("DATABASE_TX_TIMEOUT", defaultTxTimeout),
	}
}

// NewConfig returns a Config for databaseURL with default pool settings.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		TxTimeout:       defaultTxTimeout,
	}
}

func buildDatabaseURLFromEnv() string {
	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			config.GetEnvStr("DB_USER", defaultDBUser),
			config.GetEnvStr("DB_PASSWORD", defaultDBPassword),
		),
		Host:     net.JoinHostPort(config.GetEnvStr("DB_HOST", defaultDBHost), config.GetEnvStr("DB_PORT", defaultDBPort)),
		Path:     "/" + config.GetEnvStr("DB_NAME", defaultDBName),
		RawQuery: "sslmode=" + config.GetEnvStr("DB_SSLMODE", "disable"),
	}

	return u.String()
}

// DatabaseURL returns the unmasked connection URL. Never log it; use MaskDatabaseURL.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.TxTimeout <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidTxTimeout, c.TxTimeout)
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	// Find the scheme separator
	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	// Find the last @ which separates userinfo from host
	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
