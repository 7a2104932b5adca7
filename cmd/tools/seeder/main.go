package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/employee"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// Seeds a fresh store with a starter product list and an administrator so a
// till can log in. Existing entries are left untouched, so it is safe to rerun.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger("console", cfg.LogLevel)
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background()), 30*time.Second)
	defer cancel()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	seedProducts(ctx, store, logger)
	seedEmployees(ctx, store, cfg.HashPasswords, logger)

	logger.Info().Msg("seeding completed")
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		client := redis.NewClient(opts)
		return docstore.NewRedis(client), func() { _ = client.Close() }
	case config.BackendPostgres:
		if err := docstore.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate database")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		return docstore.NewPostgres(pool), pool.Close
	default:
		logger.Fatal().Str("backend", cfg.StoreBackend).Msg("seeding an in-memory store has no effect")
		return nil, nil
	}
}

func seedProducts(ctx context.Context, store docstore.Store, logger zerolog.Logger) {
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: store})
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog service")
	}
	products := []catalog.NewProduct{
		{PID: "PID1", Name: "Notebook A5", Price: 4500, QTY: 120},
		{PID: "PID2", Name: "Ball Pen Blue", Price: 1000, QTY: 500},
		{PID: "PID3", Name: "Pencil HB", Price: 500, QTY: 400},
		{PID: "PID4", Name: "Eraser", Price: 300, QTY: 250},
		{PID: "PID5", Name: "Stapler", Price: 12000, QTY: 40},
		{PID: "PID6", Name: "Glue Stick", Price: 2500, QTY: 90},
		{PID: "PID7", Name: "Geometry Box", Price: 18050, QTY: 25},
		{PID: "PID8", Name: "Highlighter", Price: 3500, QTY: 150},
	}
	created := 0
	for _, p := range products {
		_, err := svc.Create(ctx, p)
		switch {
		case errors.Is(err, catalog.ErrDuplicate):
			continue
		case err != nil:
			logger.Fatal().Err(err).Str("pid", p.PID).Msg("seed product")
		}
		created++
	}
	logger.Info().Int("created", created).Int("total", len(products)).Msg("products seeded")
}

func seedEmployees(ctx context.Context, store docstore.Store, hash bool, logger zerolog.Logger) {
	svc, err := employee.NewService(employee.Config{Store: store, HashPasswords: hash})
	if err != nil {
		logger.Fatal().Err(err).Msg("employee service")
	}
	adminPassword := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "admin"
		logger.Warn().Msg("SEED_ADMIN_PASSWORD not set, using the default admin password")
	}
	staff := []employee.NewEmployee{
		{UserName: "admin", Password: adminPassword, Email: "admin@toko.example", Role: common.RoleAdmin},
		{UserName: "cashier", Password: "cashier", Email: "cashier@toko.example", Role: common.RoleUser},
	}
	for _, e := range staff {
		_, err := svc.Create(ctx, e)
		switch {
		case errors.Is(err, employee.ErrDuplicate):
			logger.Info().Str("username", e.UserName).Msg("employee exists, skipped")
		case err != nil:
			logger.Fatal().Err(err).Str("username", e.UserName).Msg("seed employee")
		default:
			logger.Info().Str("username", e.UserName).Str("role", e.Role).Msg("employee created")
		}
	}
}
