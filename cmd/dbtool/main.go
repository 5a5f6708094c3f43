package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/config"
	"github.com/productcareerlyst/careerlyst/backend/internal/logging"
	"github.com/productcareerlyst/careerlyst/backend/internal/migrations"
	"github.com/productcareerlyst/careerlyst/backend/internal/store"
)

const usage = "usage: dbtool [up|fix|force <version>|status|import-bubble <file.csv>|cleanup-jobs [days]]"

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.LoadDatabaseOnly()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping database", append(logging.DSNFields(cfg.DatabaseURL), zap.Error(err))...)
	}

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"up"}
	}
	if err := runCommand(db, logger, args); err != nil {
		logger.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func runCommand(db *sql.DB, logger *zap.Logger, args []string) error {
	switch args[0] {
	case "up":
		return migrations.Up(db, logger)

	case "fix":
		return migrations.FixDirtyDatabase(db, logger)

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("%s", usage)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := migrations.ForceVersion(db, v); err != nil {
			return err
		}
		logger.Info("database version forced", zap.Int("version", v))
		return nil

	case "status":
		st, err := migrations.Status(db)
		if err != nil {
			return err
		}
		logger.Info("migration status", zap.Uint("version", st.Version), zap.Bool("dirty", st.Dirty), zap.Bool("fresh", st.Fresh))
		return nil

	case "import-bubble":
		if len(args) < 2 {
			return fmt.Errorf("%s", usage)
		}
		return importBubble(db, logger, args[1])

	case "cleanup-jobs":
		days := 30
		if len(args) > 1 {
			d, err := strconv.Atoi(args[1])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid day count %q", args[1])
			}
			days = d
		}
		jobs, err := store.NewJobStore(db)
		if err != nil {
			return err
		}
		n, err := jobs.CleanupOldJobs(context.Background(), time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		logger.Info("old jobs removed", zap.Int64("rows", n), zap.Int("older_than_days", days))
		return nil

	default:
		return fmt.Errorf("unknown command %q; %s", args[0], usage)
	}
}

func importBubble(db *sql.DB, logger *zap.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	rows, err := migrations.ParseBubbleCSV(f)
	if err != nil {
		return err
	}
	st, err := store.New(db)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	n, err := migrations.ImportBubbleUsers(ctx, db, st, rows, logger)
	if err != nil {
		return err
	}
	logger.Info("bubble export imported", zap.String("file", path), zap.Int("parsed", len(rows)), zap.Int64("upserted", n))
	return nil
}
