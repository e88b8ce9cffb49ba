package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/audit"
	"github.com/xela07ax/guild-gatekeeper/internal/console/handler"
	"github.com/xela07ax/guild-gatekeeper/internal/console/server"
	"github.com/xela07ax/guild-gatekeeper/internal/console/service"
	"github.com/xela07ax/guild-gatekeeper/internal/engine"
	"github.com/xela07ax/guild-gatekeeper/internal/infra"
	"github.com/xela07ax/guild-gatekeeper/internal/infra/auth"
	"github.com/xela07ax/guild-gatekeeper/internal/platform/discord"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
	"github.com/xela07ax/guild-gatekeeper/internal/store/filestore"
	"github.com/xela07ax/guild-gatekeeper/internal/store/pgstore"
	"github.com/xela07ax/guild-gatekeeper/internal/store/redisstore"
	"github.com/xela07ax/guild-gatekeeper/internal/token"
)

func main() {
	// Логгера еще нет: ошибки конфига идут в stderr
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gatekeeper stopped with error", zap.Error(err))
	}
	logger.Info("gatekeeper stopped")
}

func loadConfig() (*infra.Config, error) {
	if path := os.Getenv("GATEKEEPER_CONFIG"); path != "" {
		return infra.LoadConfigFile(path)
	}
	return infra.LoadConfig()
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Токены кнопок
	if cfg.Tokens.Secret == "" {
		logger.Warn("tokens.secret is empty, using a random key for this process")
	}
	codec, err := token.NewCodecFromHex(cfg.Tokens.Secret)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 3. Хранилище заявок
	st, closeStore, err := openStore(appCtx, cfg, codec, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. Платформа
	adapter, err := discord.NewAdapter(discord.Config{
		Token:             cfg.Discord.Token,
		GuildID:           cfg.Discord.GuildID,
		ApprovalChannelID: cfg.Discord.ApprovalChannelID,
		AuditChannelID:    cfg.Discord.AuditChannelID,
		RateLimit:         cfg.Platform.RateLimit,
		RateBurst:         cfg.Platform.RateBurst,
		RetryAttempts:     cfg.Platform.RetryAttempts,
		BreakerFailures:   cfg.Platform.BreakerFailures,
		BreakerTimeout:    cfg.Platform.BreakerTimeout,
		CallTimeout:       cfg.Platform.CallTimeout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	// 5. Журнал модерации
	var sink audit.Sink = adapter
	if cfg.Discord.AuditChannelID == "" {
		logger.Warn("discord.audit_channel_id is empty, audit goes to the log only")
		sink = audit.NewLogSink(logger)
	}
	var archive *audit.PostgresSink
	if cfg.Audit.Archive {
		archive, err = audit.OpenPostgresSink(appCtx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer archive.Close()
		sink = audit.FanOut{sink, archive}
	}
	trail := audit.NewTrail(sink, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, logger)
	trail.Start()
	metrics.ObserveAuditBuffer(func() float64 { return float64(trail.Len()) })

	// 6. Движок
	authz := engine.Authorizer{AdminUserID: cfg.Discord.AdminUserID, ModeratorRoleID: cfg.Discord.ModeratorRoleID}
	machine := engine.NewMachine(st, adapter, adapter, trail, authz, cfg.Discord.ApprovedRoleID, metrics, logger)
	gate := engine.NewGatekeeper(machine, st, adapter, trail, metrics, logger)
	loop := engine.NewLoop(cfg.Platform.QueueSize, logger)
	adapter.Bind(gate, loop)

	var ready atomic.Bool

	// 7. Console API
	srv, err := newConsole(cfg, logger, st, archive, reg, &ready)
	if err != nil {
		return err
	}
	if srv != nil {
		go func() {
			logger.Info("console API started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("console API failed", zap.Error(err))
			}
		}()
	}

	// 8. Старт: gateway -> восстановление кнопок -> обработка событий.
	// События, пришедшие до конца восстановления, ждут в очереди.
	if err := adapter.Start(appCtx); err != nil {
		trail.Stop()
		return err
	}
	if _, err := engine.NewRehydrator(st, adapter, metrics, logger).Rehydrate(appCtx); err != nil {
		_ = adapter.Stop()
		trail.Stop()
		return fmt.Errorf("rehydrate: %w", err)
	}
	loop.Start(appCtx)
	ready.Store(true)
	logger.Info("gatekeeper is running", zap.String("store", cfg.Store.Driver))

	<-appCtx.Done()
	logger.Info("shutting down")

	// 9. Graceful Shutdown: сначала вход, потом обработка, потом журнал
	ready.Store(false)
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("console API shutdown", zap.Error(err))
		}
		cancel()
	}
	if err := adapter.Stop(); err != nil {
		logger.Warn("discord session close", zap.Error(err))
	}
	loop.Stop()
	trail.Stop()
	return nil
}

func openStore(ctx context.Context, cfg *infra.Config, codec *token.Codec, logger *zap.Logger) (store.Store, func(), error) {
	closer := func(s store.Store) func() {
		return func() {
			if err := s.Close(); err != nil {
				logger.Warn("store close", zap.Error(err))
			}
		}
	}

	switch cfg.Store.Driver {
	case infra.StoreDriverFile:
		s, err := filestore.Open(cfg.Store.Path, codec, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s), nil

	case infra.StoreDriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		host, _ := os.Hostname()
		s, err := redisstore.Open(ctx, rdb, codec, logger, redisstore.Options{
			Owner:    host + "/" + strconv.Itoa(os.Getpid()) + "/" + uuid.NewString(),
			LeaseTTL: cfg.Store.LeaseTTL,
		})
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return s, func() {
			closer(s)()
			_ = rdb.Close()
		}, nil

	case infra.StoreDriverPostgres:
		s, err := pgstore.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns, codec, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, closer(s), nil

	case infra.StoreDriverMemory:
		logger.Warn("store.driver=memory: pending approvals will not survive a restart")
		s := store.NewMemory(codec)
		return s, closer(s), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newConsole(cfg *infra.Config, logger *zap.Logger, st store.Store, archive *audit.PostgresSink, reg *prometheus.Registry, ready *atomic.Bool) (*http.Server, error) {
	if cfg.Console.Addr == "" {
		return nil, nil
	}

	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return nil, err
		}
		validator = auth.NewBaseValidator(pub)
	}

	var authH *handler.AuthHandler
	if len(cfg.Auth.PrivateKey) > 0 {
		priv, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
		if err != nil {
			return nil, err
		}
		authH = handler.NewAuthHandler(service.NewAuthService(cfg.Auth.Operators, priv, cfg.Auth.TokenTTL))
	}

	var auditH *handler.AuditHandler
	if archive != nil {
		auditH = handler.NewAuditHandler(service.NewAuditService(archive), logger)
	}

	console := server.NewConsoleServer(logger, validator, reg,
		func() (bool, map[string]string) {
			return ready.Load(), map[string]string{"store": cfg.Store.Driver}
		},
		authH,
		handler.NewApprovalHandler(service.NewApprovalService(st), logger),
		auditH,
	)

	return &http.Server{
		Addr:         cfg.Console.Addr,
		Handler:      console,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}, nil
}
