package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"MachineMap-App/internal/config"
	"MachineMap-App/internal/domain/repository"
	"MachineMap-App/internal/handler"
	"MachineMap-App/internal/infrastructure/database"
	"MachineMap-App/internal/infrastructure/firestore"
	"MachineMap-App/internal/logger"
	"MachineMap-App/internal/metrics"
	repoimpl "MachineMap-App/internal/repository"
	"MachineMap-App/internal/usecase"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()

	if err := backend.checker.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%sヘルスチェックに失敗: %w", cfg.GeodataBackend, err)
	}
	log.Info("✅ ジオデータバックエンド接続成功", "backend", cfg.GeodataBackend)

	repo := repoimpl.NewInstrumentedGeodataRepository(backend.repo, cfg.GeodataBackend, log)
	sessionOpts := usecase.MapSessionOptions{
		Cache:       cfg.Map.TileCacheOptions(),
		Coordinator: cfg.Map.CoordinatorOptions(),
	}
	registry := handler.NewSessionRegistry(func() usecase.MapSession {
		return usecase.NewMapSession(ctx, repo, log, sessionOpts)
	}, cfg.SessionIdleTTL, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handler.RequestLogger(log))
	router.GET("/api/health", handler.NewHealthHandler(backend.checker, cfg.GeodataBackend, registry).Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	handler.NewMapHandler(registry, log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("🚀 MachineMap-App server starting", "addr", cfg.HTTPAddr, "backend", cfg.GeodataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("🛑 シャットダウン開始")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		registry.CloseAll()
		return err
	})

	return g.Wait()
}

// geodataBackend 選択されたバックエンドのリポジトリと後始末
type geodataBackend struct {
	repo    repository.GeodataRepository
	checker handler.HealthChecker
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*geodataBackend, error) {
	switch cfg.GeodataBackend {
	case config.BackendPostgres:
		client, err := database.NewPostgreSQLClient(ctx, cfg.SupabaseURL, cfg.SupabaseDBPassword)
		if err != nil {
			return nil, fmt.Errorf("PostgreSQLクライアント初期化に失敗: %w", err)
		}
		return &geodataBackend{
			repo:    repoimpl.NewPostgresGeodataRepository(client),
			checker: client,
			close: func() {
				if err := client.Close(); err != nil {
					log.Warn("PostgreSQL接続のクローズに失敗", "error", err)
				}
			},
		}, nil

	case config.BackendFirestore:
		client, err := firestore.NewFirestoreClient(ctx, cfg.FirestoreProjectID, cfg.GoogleCredentials, log)
		if err != nil {
			return nil, fmt.Errorf("Firestoreクライアント初期化に失敗: %w", err)
		}
		return &geodataBackend{
			repo:    repoimpl.NewFirestoreGeodataRepository(client.GetClient()),
			checker: client,
			close: func() {
				if err := client.Close(); err != nil {
					log.Warn("Firestore接続のクローズに失敗", "error", err)
				}
			},
		}, nil

	default:
		client, err := database.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err != nil {
			return nil, fmt.Errorf("Supabaseクライアント初期化に失敗: %w", err)
		}
		return &geodataBackend{
			repo:    repoimpl.NewSupabaseGeodataRepository(client),
			checker: client,
			close:   func() {},
		}, nil
	}
}
