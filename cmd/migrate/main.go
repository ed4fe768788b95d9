// Command migrate applies the versioned postgres schema of the sync engine.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/migration"
	"github.com/erp/syncengine/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage")

// command runs against an open migrator with the remaining CLI arguments
type command func(m *migration.Migrator, log *zap.Logger, args []string) error

var commands = map[string]command{
	"up":   func(m *migration.Migrator, _ *zap.Logger, _ []string) error { return m.Up() },
	"down": func(m *migration.Migrator, _ *zap.Logger, _ []string) error { return m.Down() },
	"step": func(m *migration.Migrator, _ *zap.Logger, args []string) error {
		n, err := intArg(args, "step count")
		if err != nil {
			return err
		}
		return m.Steps(n)
	},
	"version": func(m *migration.Migrator, log *zap.Logger, _ []string) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("No migrations applied")
			return nil
		}
		log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	},
	"force": func(m *migration.Migrator, log *zap.Logger, args []string) error {
		version, err := intArg(args, "version")
		if err != nil {
			return err
		}
		log.Warn("Forcing migration version", zap.Int("version", version))
		return m.Force(version)
	},
}

func main() {
	migrationsPath := flag.String("path", "", "Path to a migrations directory (default: embedded migrations)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	var source fs.FS = migrations.FS
	if *migrationsPath != "" {
		source = os.DirFS(*migrationsPath)
	}

	if err := run(log, source, args[0], args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			log.Error("Invalid invocation", zap.String("command", args[0]), zap.Error(err))
			printUsage()
			os.Exit(1)
		}
		log.Fatal("Migration command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func run(log *zap.Logger, source fs.FS, name string, args []string) error {
	if name == "list" {
		return listMigrations(source)
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		return errors.New("versioned migrations target postgres; sqlite databases are created by the server's auto-migration")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, source, log)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Info("Running migration command", zap.String("command", name), zap.String("database", cfg.Database.DBName))
	return cmd(m, log, args)
}

func listMigrations(source fs.FS) error {
	files, err := fs.Glob(source, "*.up.sql")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No migrations found")
		return nil
	}
	fmt.Printf("%d migrations:\n", len(files))
	for _, f := range files {
		fmt.Println("  -", f)
	}
	return nil
}

func intArg(args []string, name string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: %s required", errUsage, name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errUsage, name, args[0])
	}
	return n, nil
}

func printUsage() {
	fmt.Println(`Sync Engine Database Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  version               Show current migration version
  force <version>       Force set migration version
  list                  List available migrations

Flags:
  -path string          Path to a migrations directory (default: embedded)
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  SYNC_DATABASE_HOST, SYNC_DATABASE_PORT, SYNC_DATABASE_USER,
  SYNC_DATABASE_PASSWORD, SYNC_DATABASE_DBNAME, SYNC_DATABASE_SSLMODE`)
}
