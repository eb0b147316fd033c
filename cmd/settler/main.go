package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"fanpool/internal/audit"
	"fanpool/internal/chainbets"
	"fanpool/internal/config"
	cronrunner "fanpool/internal/cron"
	"fanpool/internal/db"
	"fanpool/internal/handler"
	"fanpool/internal/lock"
	"fanpool/internal/logger"
	"fanpool/internal/metrics"
	"fanpool/internal/progress"
	"fanpool/internal/publisher"
	gormrepository "fanpool/internal/repository/gorm"
	"fanpool/internal/service"
	"fanpool/internal/settlement"

	_ "fanpool/docs"
)

func main() {
	cfgPath := os.Getenv("FP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, cfg.App)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	if cfg.Metrics.Enabled {
		if err := metrics.RegisterDB(dbConn.SQL); err != nil {
			logger.Warn("db stats collector not registered", zap.Error(err))
		}
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	locker := initLocker(cfg.Redis, logger)
	if rl, ok := locker.(*lock.RedisLocker); ok {
		defer rl.Close()
	}
	events := initPublisher(cfg.Kafka, logger)
	defer events.Close()
	auditClient := initAuditClient(cfg.Audit, logger)
	hub := progress.NewHub(logger)

	engine := settlement.NewEngine(store, logger, settlement.Options{
		DefaultBatchSize: cfg.Settlement.DefaultBatchSize,
		MaxBatchSize:     cfg.Settlement.MaxBatchSize,
	})
	settlementSvc := &service.SettlementService{
		Repo:      store,
		Engine:    engine,
		Locker:    locker,
		Publisher: events,
		Progress:  hub,
		Flags:     settingsSvc,
		Config:    cfg.Settlement,
		Logger:    logger,
	}

	decoder, err := chainbets.NewDecoder(cfg.Chain.ContractAddress)
	if err != nil {
		logger.Fatal("chain decoder init failed", zap.Error(err))
	}
	ingestSvc := &service.ChainIngestService{
		Repo:    store,
		Decoder: decoder,
		Flags:   settingsSvc,
		MaxLogs: cfg.Chain.MaxLogsPerCall,
		Logger:  logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(corsMiddleware())
	router.Use(audit.InjectClientMiddleware(auditClient))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Deps: readinessDeps(locker, events)}
	healthHandler.Register(router)
	poolHandler := &handler.PoolHandler{
		Repo:        store,
		Pools:       &service.PoolService{Repo: store},
		Settlements: settlementSvc,
		Logger:      logger,
	}
	poolHandler.Register(router)
	chainHandler := &handler.ChainHandler{Ingest: ingestSvc}
	chainHandler.Register(router)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(router)

	router.GET("/ws/settlement-progress", gin.WrapH(hub))
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseCtx := ctx
	if auditClient != nil {
		baseCtx = audit.WithClient(ctx, auditClient)
	}

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, baseCtx)
		if _, err := cronRunner.Add("settlement_retry", cfg.Cron.SettlementRetry, settlementSvc.RetryPending); err != nil {
			logger.Warn("cron register settlement retry failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// readinessDeps lists the optional backends /readyz must reach.
func readinessDeps(locker lock.Locker, events publisher.Publisher) map[string]handler.Pinger {
	deps := map[string]handler.Pinger{}
	if rl, ok := locker.(*lock.RedisLocker); ok {
		deps["redis"] = rl
	}
	if kp, ok := events.(*publisher.KafkaPublisher); ok {
		deps["kafka"] = kp
	}
	return deps
}

// initLocker prefers Redis so that replicas share run locks. A single
// replica can run on the in-process locker.
func initLocker(cfg config.RedisConfig, logger *zap.Logger) lock.Locker {
	if !cfg.Enabled {
		return lock.NewMemoryLocker()
	}
	rl := lock.NewRedisLocker(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, "fanpool:")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rl.Ping(ctx); err != nil {
		logger.Fatal("redis ping failed", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	logger.Info("redis run locks enabled", zap.String("addr", cfg.Addr))
	return rl
}

func initPublisher(cfg config.KafkaConfig, logger *zap.Logger) publisher.Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return publisher.Nop{}
	}
	logger.Info("kafka settlement events enabled",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return publisher.NewKafkaPublisher(cfg.Brokers, cfg.Topic, cfg.WriteTimeout)
}

func initAuditClient(cfg config.AuditConfig, logger *zap.Logger) *audit.Client {
	base := strings.TrimSpace(cfg.BaseURL)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if base == "" || apiKey == "" {
		return nil
	}

	c := &audit.Client{
		BaseURL: base,
		APIKey:  apiKey,
		Agent:   "pool-settler",
		HTTP:    &http.Client{Timeout: cfg.Timeout},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Login(ctx); err != nil {
		logger.Warn("audit login failed (audit log disabled)", zap.Error(err))
		return nil
	}
	logger.Info("audit login ok")
	return c
}
