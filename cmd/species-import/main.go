package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/forestcarbon-backend/internal/species"
	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/migrate"
)

// species-import loads tree species rates from an XLSX workbook.
func main() {
	file := flag.String("file", "", "path to the .xlsx workbook")
	sheet := flag.String("sheet", "", "sheet name (defaults to the first sheet)")
	update := flag.Bool("update", false, "refresh rates of existing, unreferenced species")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "species-import"})
	_ = godotenv.Load()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "species-import",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "file": *file})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() { _ = dbClient.Close() }()
	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	svc, err := species.NewService(species.NewRepository(dbClient.DB()), dbClient)
	requireResource(ctx, logg, "species service", err)

	f, err := os.Open(*file)
	requireResource(ctx, logg, "workbook", err)
	defer func() { _ = f.Close() }()

	result, err := svc.ImportSheet(ctx, species.ImportInput{Reader: f, Sheet: *sheet, UpdateExisting: *update})
	requireResource(ctx, logg, "import", err)

	logg.Info(logg.WithFields(ctx, map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
		"errors":  len(result.Errors),
	}), "species import finished")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if len(result.Errors) > 0 {
		os.Exit(2)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
