package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/config"
	"github.com/markovalexander/dynamic-batching-tg/internal/migration"
)

// =============================================================================
// 🗄️ 批次历史 schema 迁移
// =============================================================================

var errMigrateUsage = errors.New("invalid migrate usage")

// runMigrate 处理 migrate 子命令
func runMigrate(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrateCommand(ctx, args, os.Stdout); err != nil {
		if errors.Is(err, errMigrateUsage) {
			printMigrateUsage(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func migrateCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing subcommand", errMigrateUsage)
	}
	sub, rest := args[0], args[1:]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(out)
		return nil
	}

	// goto/force 第一个位置参数是版本号
	var version int64
	if sub == "goto" || sub == "force" {
		if len(rest) < 1 {
			return fmt.Errorf("%w: %s requires a version", errMigrateUsage, sub)
		}
		v, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil || (sub == "goto" && v < 0) {
			return fmt.Errorf("%w: invalid version %q", errMigrateUsage, rest[0])
		}
		version, rest = v, rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	all := fs.Bool("all", false, "Rollback all migrations (down only)")
	m, err := newMigratorFromFlags(fs, rest)
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)

	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		if *all {
			return cli.RunDownAll(ctx)
		}
		return cli.RunDown(ctx)
	case "reset":
		return cli.RunDownAll(ctx)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	case "info":
		return cli.RunInfo(ctx)
	case "goto":
		return cli.RunGoto(ctx, uint(version))
	case "force":
		return cli.RunForce(ctx, int(version))
	default:
		return fmt.Errorf("%w: unknown subcommand %q", errMigrateUsage, sub)
	}
}

// newMigratorFromFlags --driver 与 --dsn 同时给出时直连，否则读配置文件
func newMigratorFromFlags(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Database driver: sqlite, postgres, mysql")
	dsn := fs.String("dsn", "", "Database DSN")
	verbose := fs.Bool("verbose", false, "Log migration steps")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errMigrateUsage, err)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	}

	if *driver != "" && *dsn != "" {
		dialect, err := migration.ParseDialect(*driver)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(migration.Config{Dialect: dialect, DSN: *dsn}, logger)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Batch history schema migrations

Usage:
  dynbatch migrate <subcommand> [options]

Subcommands:
  up              Apply all pending migrations
  down [--all]    Roll back the last migration (or all of them)
  status          Show every migration and whether it is applied
  version         Show the current schema version
  info            Show a migration summary
  goto <version>  Migrate up or down to a specific version
  force <version> Set the version without running SQL (repairs a dirty state)
  reset           Roll back all migrations
  help            Show this help message

Options:
  --config <path>   Path to configuration file (database section is used)
  --driver <name>   sqlite, postgres or mysql (default: from config)
  --dsn <dsn>       Connection string; with --driver skips the config file
  --verbose         Log migration steps to stderr

Examples:
  dynbatch migrate up --config /etc/dynbatch/config.yaml
  dynbatch migrate status --driver sqlite --dsn ./dynbatch.db
  dynbatch migrate goto 1
  dynbatch migrate force 1`)
}
