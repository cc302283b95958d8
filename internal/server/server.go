// Пакет server — HTTP-сервер WQT с graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/api/handlers"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/middleware"
	"github.com/Arsalanbashir831/ATECOWQT/internal/api/openapi"
	"github.com/Arsalanbashir831/ATECOWQT/internal/config"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
)

// Server — HTTP-сервер WQT.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// media — раздача объектов локального хранилища по /media/ (nil для GCS).
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, auth *middleware.Auth, media http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, auth, media),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты WQT.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, auth *middleware.Auth, media http.Handler) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные маршруты
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Method(http.MethodGet, "/api/openapi.yaml", openapi.Handler())
	router.Post("/auth", h.Login)
	router.Get("/{kind}/view/{publicId}", h.ViewRecord)
	if media != nil {
		router.Handle("/media/*", media)
	}

	// Сессия: пользователь в контексте, если есть
	router.Group(func(r chi.Router) {
		r.Use(auth.Optional())
		r.Get("/logout", h.Logout)
		r.Get("/check-session", h.CheckSession)
	})

	// Просмотр списков: supervisor и inspector
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		r.Use(middleware.RequireRole(rbac.RoleSupervisor, rbac.RoleInspector))
		r.Get("/{kind}/list", h.ListRecords)
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		r.Use(middleware.RequireRole(rbac.RoleInspector))
		r.Get("/inspector", h.InspectorDashboard)
	})

	// Управление записями: только supervisor
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		r.Use(middleware.RequireRole(rbac.RoleSupervisor))
		r.Get("/supervisor", h.SupervisorDashboard)
		r.Post("/api/update-all-qr", h.UpdateAllQR)
		r.Get("/{kind}/", h.GetKindSchema)
		r.Post("/{kind}/insert", h.InsertRecord)
		r.Get("/{kind}/edit/{publicId}", h.EditRecord)
		r.Post("/{kind}/update/{publicId}", h.UpdateRecord)
		r.Post("/{kind}/delete/{publicId}", h.DeleteRecord)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
