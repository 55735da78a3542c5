package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"revenue-ledger/internal/clients"
	"revenue-ledger/internal/config"
	"revenue-ledger/internal/migrations"
	"revenue-ledger/internal/repository"
	"revenue-ledger/internal/service"
	"revenue-ledger/internal/split"
	"revenue-ledger/internal/transport/auth"
	"revenue-ledger/internal/transport/rest"
	"revenue-ledger/internal/transport/websocket"
	"revenue-ledger/pkg/database/postgres"
	"revenue-ledger/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	envErr := godotenv.Load()

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		log.Info("no .env file found, using system env or defaults")
	}

	db := mustInitPostgres(ctx, cfg.Postgres, log)
	defer postgres.Close(db)

	if err := migrations.Up(db, log); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	var (
		cache  service.Cache
		runs   service.RunStore
		locker service.Locker
	)
	if cfg.Redis.Enabled {
		redisClient := mustInitRedis(ctx, cfg.Redis, log)
		defer redisClient.Close()
		cache, runs, locker = redisClient, redisClient, redisClient
	} else {
		log.Warn("redis disabled: split model cache, run history and settlement lock are off")
	}

	storageClient, err := clients.NewLocalStorage(cfg.ReportDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
	if err != nil {
		log.WithError(err).Fatal("storage init error")
	}
	var archiver service.ReportArchiver = storageClient
	if cfg.S3.Enabled {
		archiver = mustInitS3(ctx, cfg.S3, log)
	}

	wsHub := websocket.NewHub(log.WithField("component", "websocket"))
	go wsHub.Run(ctx)
	notifier := clients.NewWebSocketNotifier(wsHub)

	txManager := repository.NewTxManager(db)
	paymentRepo := repository.NewPaymentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	splitModelRepo := repository.NewSplitModelRepository(db)
	clientRepo := repository.NewClientRepository(db)
	mouRepo := repository.NewMouRepository(db)
	tokenRepo := repository.NewPersonalAccessTokenRepository(db)

	registrySvc := service.NewRegistryService(
		splitModelRepo,
		cache,
		time.Duration(cfg.Policy.SplitModelCacheTTLSecs)*time.Second,
		log.WithField("component", "registry"),
	)
	ledgerSvc := service.NewLedgerService(txManager, ledgerRepo, notifier, log.WithField("component", "ledger"))
	calculator := split.NewCalculator(split.Policy{
		MaxDepartmentDiscount: cfg.Policy.MaxDepartmentDiscount,
		ReferralBonusPercent:  cfg.Policy.ReferralBonusPercent,
	})
	paymentSvc := service.NewPaymentService(
		txManager,
		paymentRepo,
		ledgerSvc,
		registrySvc,
		clientRepo,
		calculator,
		notifier,
		log.WithField("component", "payments"),
	)
	settlementSvc := service.NewSettlementService(
		paymentRepo,
		paymentSvc,
		archiver,
		runs,
		notifier,
		cfg.Settlement.BatchSize,
		log.WithField("component", "settlement"),
	)
	pricingSvc := service.NewPricingService(
		txManager,
		clientRepo,
		mouRepo,
		paymentSvc,
		service.PricingPolicy{
			PartnerDiscountPercent:   cfg.Policy.PartnerDiscountPercent,
			ReferralUpgradeThreshold: cfg.Policy.ReferralUpgradeThreshold,
		},
		log.WithField("component", "pricing"),
	)

	scheduler := service.NewScheduler(
		service.SchedulerConfig{
			Cron:           cfg.Settlement.Cron,
			ThresholdHours: cfg.Settlement.ThresholdHours,
			LockTTL:        time.Duration(cfg.Settlement.LockTTLSeconds) * time.Second,
			Retention:      time.Duration(cfg.Settlement.ReportRetentionHrs) * time.Hour,
		},
		settlementSvc,
		locker,
		storageClient,
		log.WithField("component", "scheduler"),
	)
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("scheduler init error")
	}

	handler := rest.NewHandler(rest.Deps{
		SplitModels:      registrySvc,
		Payments:         paymentSvc,
		Ledger:           ledgerSvc,
		Settlement:       settlementSvc,
		Pricing:          pricingSvc,
		Files:            storageClient,
		WebSocket:        wsHub.HandleWebSocket,
		DefaultThreshold: cfg.Settlement.ThresholdHours,
		Log:              log.WithField("component", "http"),
	})
	router := handler.InitRouterWithAuth(auth.SanctumMiddleware(tokenRepo, log.WithField("component", "auth")))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run HTTP server in goroutine so we can listen for shutdown signals
	srvErr := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.WithError(err).Fatal("HTTP server error")
		}
	case sig := <-stop:
		log.Infof("shutdown signal received: %v", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown error")
		}
		// waits for a running sweep before the database goes away
		scheduler.Stop(shutdownCtx)

		cancel()
		log.Info("shutdown complete")
	}
}

func mustInitPostgres(ctx context.Context, cfg config.PostgresConfig, log logrus.FieldLogger) *sql.DB {
	db, err := postgres.NewPostgresConnection(ctx, postgres.ConnectionInfo{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Username:     cfg.User,
		DBName:       cfg.DBName,
		SSLMode:      cfg.SSLMode,
		Password:     cfg.Password,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		log.WithError(err).Fatal("postgres init error")
	}
	return db
}

func mustInitRedis(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) *clients.RedisClient {
	client, err := clients.NewRedisClient(ctx, clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.WithError(err).Fatal("redis init error")
	}
	return client
}

func mustInitS3(ctx context.Context, cfg config.S3Config, log logrus.FieldLogger) *clients.S3Client {
	client, err := clients.NewS3Client(ctx, clients.S3Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
	})
	if err != nil {
		log.WithError(err).Fatal("s3 init error")
	}
	return client
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
