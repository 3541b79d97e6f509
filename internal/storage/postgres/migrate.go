package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

// Supported migration directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection converts CLI input into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case "", Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return "", fmt.Errorf("unknown migration direction %q", raw)
	}
}

type migrationLogger struct {
	logger *zap.SugaredLogger
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.logger.Infof(strings.TrimSpace(format), v...)
}

func (l migrationLogger) Verbose() bool {
	return false
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string, direction Direction, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(dsn))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("close migrate", zap.NamedError("source_error", srcErr), zap.NamedError("db_error", dbErr))
		}
	}()
	m.Log = migrationLogger{logger: logger.Sugar()}

	before, _, _ := m.Version()
	switch direction {
	case Down:
		err = m.Down()
	default:
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply", zap.String("direction", string(direction)), zap.Uint("version", before))
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		return fmt.Errorf("migrate %s (version=%d dirty=%t): %w", direction, version, dirty, err)
	}
	after, _, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", verr)
	}
	logger.Info("migrations applied",
		zap.String("direction", string(direction)),
		zap.Uint("from_version", before),
		zap.Uint("to_version", after),
	)
	return nil
}

// migrationURL rewrites a postgres DSN into the scheme the pgx5 driver registers.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
