package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	appmigrations "github.com/wolfman30/rescue-triage/migrations"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// Usage: migrate [up | down <steps> | force <version> | version]
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("migrate")

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := run(cfg.DatabaseURL, os.Args[1:], logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(databaseURL string, args []string, logger *logging.Logger) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd, arg, err := parseArgs(args)
	if err != nil {
		return err
	}
	switch cmd {
	case "force":
		if err := m.Force(arg); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		logger.Info("forced schema version", "version", arg)
	case "down":
		if err := m.Steps(-arg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("rolled back migrations", "steps", arg)
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("read version: %w", err)
		}
		logger.Info("schema version", "version", version, "dirty", dirty)
	default:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info("migrations complete")
	}
	return nil
}

// parseArgs validates the subcommand before any database work happens.
func parseArgs(args []string) (string, int, error) {
	if len(args) == 0 {
		return "up", 0, nil
	}
	switch args[0] {
	case "up", "version":
		return args[0], 0, nil
	case "down":
		steps := 1
		if len(args) >= 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return "", 0, fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		return "down", steps, nil
	case "force":
		if len(args) < 2 {
			return "", 0, errors.New("force requires a version")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid version: %w", err)
		}
		return "force", version, nil
	default:
		return "", 0, fmt.Errorf("unknown command %q", args[0])
	}
}
