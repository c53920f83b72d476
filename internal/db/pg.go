package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// redactDSN returns a copy of the DSN with the password replaced by ****
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// extractDBName returns the database name from the URL path ("/advocacy" -> "advocacy")
func extractDBName(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "existiert nicht")
}

// Open establishes a connection to PostgreSQL and configures the connection pool.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*sql.DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	dbName := extractDBName(u)
	host := u.Hostname()
	port := u.Port()
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}

	logger.Info("db connect",
		zap.String("host", host),
		zap.String("port", port),
		zap.String("db", dbName),
		zap.String("dsn", redactDSN(databaseURL)))

	if dbName != "" {
		precheck(ctx, u, dbName, logger)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()
		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf("database %q not found on host=%s port=%s: %w", dbName, host, port, err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// precheck connects to the maintenance database and reports whether dbName exists.
// It only logs; Open decides on failure.
func precheck(ctx context.Context, u *url.URL, dbName string, logger *zap.Logger) {
	maintenanceURL := *u
	maintenanceURL.Path = "/postgres"
	maintenanceURL.RawPath = ""

	maintDB, err := sql.Open("postgres", maintenanceURL.String())
	if err != nil {
		logger.Debug("db precheck: could not open maintenance connection", zap.Error(err))
		return
	}
	defer maintDB.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var found string
	err = maintDB.QueryRowContext(checkCtx,
		"SELECT datname FROM pg_database WHERE datname = $1", dbName,
	).Scan(&found)
	switch {
	case err == nil:
		logger.Debug("db precheck: database exists", zap.String("db", found))
	case errors.Is(err, sql.ErrNoRows):
		logger.Warn("db precheck: database not found on this instance", zap.String("db", dbName))
	default:
		logger.Debug("db precheck: could not query pg_database", zap.Error(err))
	}
}
