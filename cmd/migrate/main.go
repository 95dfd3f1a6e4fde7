package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// offline commands only touch the migrations directory.
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(o.dir, o.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(o options) error {
		if err := migrate.ValidateDir(o.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	},
	"list": func(o options) error {
		files, err := migrate.ListFiles(o.dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%s  %s\n", f.Version, f.Name)
		}
		return nil
	},
}

func main() {
	var o options
	flag.StringVar(&o.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate|list")
	flag.StringVar(&o.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&o.name, "name", "", "migration name (for create)")
	flag.StringVar(&o.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	_ = godotenv.Load()

	if fn, ok := offline[o.cmd]; ok {
		if err := fn(o); err != nil {
			fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", o.cmd, err)
			os.Exit(1)
		}
		return
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "resource not working: config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    o.cmd,
		"dir":    o.dir,
		"driver": cfg.DB.Driver,
	})

	if err := run(ctx, cfg, logg, o); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate completed")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, o options) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() { _ = dbClient.Close() }()

	// the SQL files target Postgres; local SQLite databases are migrated by gorm
	if cfg.DB.Driver == db.DriverSQLite {
		if o.cmd != "up" {
			return errors.New("sqlite only supports -cmd=up")
		}
		return migrate.AutoMigrateSQLite(ctx, dbClient)
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	switch o.cmd {
	case "up", "down", "status":
		return migrate.Run(ctx, sqlDB, cfg.DB.Driver, o.dir, o.cmd)
	case "version":
		if o.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, cfg.DB.Driver, o.dir, o.version)
	default:
		return fmt.Errorf("unknown -cmd value %q", o.cmd)
	}
}
