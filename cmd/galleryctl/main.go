// galleryctl runs maintenance tasks against the gallery database.
//
// Usage:
//
//	galleryctl seed <galleries.yaml>
//	galleryctl requests [galleryId]
//	galleryctl export <out.xlsx> [galleryId]
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"galleryaccess/internal/config"
	"galleryaccess/internal/db"
	"galleryaccess/internal/export"
	"galleryaccess/internal/logging"
	"galleryaccess/internal/seed"
	"galleryaccess/internal/service"
	"galleryaccess/internal/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: galleryctl seed <galleries.yaml> | requests [galleryId] | export <out.xlsx> [galleryId]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	sqdb, err := db.Open(db.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		Path:        cfg.DBPath,
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, cfg.MigrationsPath); err != nil {
		log.Fatalf("migration: %v", err)
	}
	svc := service.New(cfg, store.New(sqdb, cfg.DBDriver), nil, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "seed":
		if len(os.Args) < 3 {
			usage()
		}
		err = runSeed(ctx, svc, os.Args[2])
	case "requests":
		err = runRequests(ctx, svc, optionalArg(2))
	case "export":
		if len(os.Args) < 3 {
			usage()
		}
		err = runExport(ctx, svc, os.Args[2], optionalArg(3))
	default:
		usage()
	}
	if err != nil {
		logger.Error("galleryctl", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func optionalArg(i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return ""
}

func runSeed(ctx context.Context, svc *service.Service, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	items, err := seed.Parse(f)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range seed.Apply(ctx, svc, items) {
		if r.Err != nil {
			failed++
			color.Red("FAIL %-10s %v", r.Code, r.Err)
			continue
		}
		color.Green("OK   %-10s %s", r.Code, r.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d galleries not created", failed, len(items))
	}
	return nil
}

func runRequests(ctx context.Context, svc *service.Service, galleryID string) error {
	items, err := svc.AllPasswordRequests(ctx, galleryID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		color.Yellow("no password requests")
		return nil
	}
	bold := color.New(color.Bold)
	for _, r := range items {
		bold.Printf("%s  %-8s ", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.GalleryCode)
		fmt.Printf("%s %s <%s>", r.FirstName, r.LastName, r.Email)
		if r.Relation != "" {
			fmt.Printf(" (%s)", r.Relation)
		}
		if r.SecurityQuestionAnswered {
			color.New(color.FgCyan).Print(" [domanda]")
		}
		fmt.Println()
	}
	return nil
}

func runExport(ctx context.Context, svc *service.Service, out, galleryID string) error {
	items, err := svc.AllPasswordRequests(ctx, galleryID)
	if err != nil {
		return err
	}
	data, err := export.PasswordRequests(items, time.Local)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	color.Green("wrote %d requests to %s", len(items), out)
	return nil
}
