package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	appmigrations "github.com/wolfman30/thread-relay/migrations"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

// Usage: migrate [up|down|force <version>]
func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		fatal(logger, "DATABASE_URL is required", nil)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		fatal(logger, "open db", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		fatal(logger, "ping db", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal(logger, "db driver", err)
	}

	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		fatal(logger, "source driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		fatal(logger, "create migrator", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "force":
		if len(os.Args) < 3 {
			fatal(logger, "force requires a version", nil)
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fatal(logger, "invalid version", err)
		}
		if err := m.Force(version); err != nil {
			fatal(logger, "force version", err)
		}
		logger.Info("forced migration version", "version", version)
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal(logger, "migrate down", err)
		}
		logger.Info("migrations rolled back")
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal(logger, "migrate up", err)
		}
		logger.Info("migrations complete")
	default:
		fatal(logger, "unknown command "+cmd, nil)
	}
}

func fatal(logger *logging.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
