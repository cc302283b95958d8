// Точка входа WQT — сервиса записей квалификации сварщиков.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт хранилище артефактов, журнал операций и сервисный слой,
// запускает фоновую сверку журнала, topologymetrics и HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Arsalanbashir831/ATECOWQT/internal/api/handlers"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/openapi"
	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/config"
	"github.com/Arsalanbashir831/ATECOWQT/internal/database"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
	"github.com/Arsalanbashir831/ATECOWQT/internal/journal"
	"github.com/Arsalanbashir831/ATECOWQT/internal/objectstore"
	"github.com/Arsalanbashir831/ATECOWQT/internal/qrcode"
	"github.com/Arsalanbashir831/ATECOWQT/internal/repository"
	"github.com/Arsalanbashir831/ATECOWQT/internal/server"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

func main() {
	// 1. Загрузка конфигурации (.env, затем переменные окружения)
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("Ошибка загрузки .env", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("WQT запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("base_view_url", cfg.BaseViewURL),
	)

	ctx := context.Background()

	// 3. OpenAPI контракт
	if _, err := openapi.Load(ctx); err != nil {
		logger.Error("Ошибка OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 6. Объектное хранилище
	store, err := objectstore.Open(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var media http.Handler
	if local, ok := store.(*objectstore.LocalStore); ok {
		media = http.StripPrefix("/media", local.Handler())
		logger.Info("Локальное хранилище", slog.String("root", local.Root()))
	}

	// 7. Журнал операций
	jrn, err := journal.New(cfg.JournalDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Repositories
	recordRepo := repository.NewRecordRepository(pool)
	seqAlloc := repository.NewSequenceAllocator(pool)

	// 9. Services
	artifacts := service.NewArtifactPublisher(
		store,
		qrcode.NewRenderer(cfg.QRWidth, cfg.QRMargin),
		cfg.BaseViewURL,
		cfg.StorageTimeout,
		cfg.MaxPhotoSize,
		logger,
	)
	recordSvc := service.NewRecordService(
		recordRepo, seqAlloc, artifacts, jrn,
		service.NewRecordCache(cfg.CacheSize, cfg.CacheTTL),
		logger,
	)
	// Незавершённые операции моложе трёх таймаутов хранилища могут ещё выполняться
	sweeper := service.NewSweeperService(jrn, recordRepo, artifacts,
		cfg.SweepInterval, 3*cfg.StorageTimeout, logger)

	// 10. Аутентификация
	credentials, err := auth.NewStaticCredentialStore(
		auth.Account{ID: cfg.SupervisorID, PasswordHash: cfg.SupervisorPasswordHash, Role: rbac.RoleSupervisor},
		auth.Account{ID: cfg.InspectorID, PasswordHash: cfg.InspectorPasswordHash, Role: rbac.RoleInspector},
	)
	if err != nil {
		logger.Error("Ошибка учётных записей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if credentials.Len() == 0 && cfg.JWKSURL == "" {
		logger.Warn("Учётные записи не заданы и WQT_JWKS_URL пуст: вход невозможен")
	}
	if cfg.SessionSecret == "" {
		logger.Warn("WQT_SESSION_SECRET не задан, сессии не переживут перезапуск")
	}

	sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("Ошибка инициализации сессий", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var external *auth.ExternalVerifier
	var jwksChecker handlers.ReadinessChecker
	if cfg.JWKSURL != "" {
		external, err = auth.NewExternalVerifier(cfg.JWKSURL, cfg.JWTIssuer, logger)
		if err != nil {
			logger.Error("Ошибка создания проверки внешних токенов", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jwksChecker = middleware.NewJWKSReadinessChecker(cfg.JWKSURL, cfg.StorageTimeout)
		logger.Info("Внешние токены принимаются",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}
	authMW := middleware.NewAuth(auth.NewAuthenticator(sessions, external), logger)

	// 11. API handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), jwksChecker)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		recordSvc,
		credentials,
		sessions,
		handlers.Options{
			BaseViewURL:   cfg.BaseViewURL,
			MaxPhotoSize:  cfg.MaxPhotoSize,
			SecureCookies: cfg.SecureCookies(),
		},
		logger,
	)

	// 12. Фоновая сверка журнала
	sweeper.Start(ctx)

	// 12.1 topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "wqt",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 13. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, authMW, media)
	runErr := srv.Run()

	// 14. Остановка фоновых задач
	sweeper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("WQT остановлен")
}
