package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zerobin/cfg"
	"zerobin/pkg/kms"
	"zerobin/svc/api"
	"zerobin/svc/avatar"
	"zerobin/svc/cache"
	"zerobin/svc/db"
	"zerobin/svc/lim"
	"zerobin/svc/svc"
	"zerobin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}

	util.InitLog("info", false)
	if err := cfg.LoadDotEnv(".env"); err != nil {
		util.Fatal().Err(err).Msg("failed to read .env")
		os.Exit(1)
	}
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	util.InitLog(c.LogLevel, c.Environment == "development")
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.Info().
		Strs("allowed_origins", c.AllowedOrigins).
		Str("environment", c.Environment).
		Msg("starting zerobin server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kmsAdapter, err := kms.NewAdapter(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize KMS adapter")
		os.Exit(1)
	}

	pepper, err := loadPepper(ctx, c, kmsAdapter)
	if err != nil {
		util.Fatal().Err(err).Msg("CRITICAL: pepper unavailable")
		os.Exit(1)
	}
	hasher, err := util.NewIPHasher(pepper, c.IPHashRotationInterval)
	util.Wipe(pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize IP hasher")
		os.Exit(1)
	}
	hasher.Start()
	defer hasher.Stop()
	util.Info().Dur("rotation_interval", c.IPHashRotationInterval).Msg("IP hasher initialized")

	tokenSecret, err := loadDeleteSecret(ctx, c, kmsAdapter)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load delete token secret")
		os.Exit(1)
	}
	tokens, err := util.NewDeleteTokens(tokenSecret)
	util.Wipe(tokenSecret)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to init delete token key")
		os.Exit(1)
	}
	defer tokens.Wipe()

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable, using in-process flood and rate state")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}
	// a nil *db.Redis must not become a non-nil interface
	var (
		counter lim.Counter
		marker  lim.Marker
	)
	if rdb != nil {
		counter, marker = rdb, rdb
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	deks := kms.NewDEKCache(kmsAdapter, c.DEKCacheTTL)
	defer deks.Stop()
	sealer := kms.NewSealer(kmsAdapter, deks)

	flood := lim.NewFlood(c.FloodThreshold, marker)
	flood.StartSweeper(ctx, time.Minute)

	pasteSvc := svc.NewPaste(sqlDB, lruCache, rdb, sealer, tokens, hasher, flood, avatar.New(), c)
	pasteSvc.StartCleaner(ctx, c.CleanInterval)
	util.Info().Dur("interval", c.CleanInterval).Msg("expired paste cleanup worker started")

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, counter, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, sqlDB, rdb)

	walCtx, stopWAL := context.WithCancel(ctx)
	walDone := make(chan struct{})
	go db.StartWALMaintenance(walCtx, sqlDB.DB(), db.DefaultCheckpointInterval, walDone)
	util.Info().Msg("WAL maintenance worker started")

	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	stopWAL()
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(6 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	cancel()
	util.Info().Msg("shutdown complete")
}

// loadPepper reads the IP hashing pepper from the environment or, when
// PEPPER_FROM_KMS is set, from the KMS secret store as base64.
func loadPepper(ctx context.Context, c *cfg.Cfg, adapter *kms.Adapter) ([]byte, error) {
	if !c.PepperFromKMS {
		return []byte(c.Pepper.Value()), nil
	}
	b64, err := adapter.GetSecret(ctx, "PEPPER")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(b64)
}

func loadDeleteSecret(ctx context.Context, c *cfg.Cfg, adapter *kms.Adapter) ([]byte, error) {
	if v := c.DeleteTokenSecret.Value(); v != "" {
		return []byte(v), nil
	}
	b64, err := adapter.GetSecret(ctx, "DELETE_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(b64)
}

func healthCheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "zerobin.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
