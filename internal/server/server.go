// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New opens the database and the
// optional Redis client, builds services and handlers, and wires routes.
// Nothing below it constructs its own dependencies.
//
//	config.Config → sqlite.DB ─┬→ TaskService    ─┬→ TaskAPIHandler
//	                           └→ AccountService ─┼→ AccountAPIHandler
//	redis (optional) → ratelimit.Limiter ─┘       └→ PageHandler
//	mailer (SMTP or log) ───────────────────┘
package server

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/config"
	"github.com/sakif/task-manager/internal/handler"
	"github.com/sakif/task-manager/internal/mailer"
	"github.com/sakif/task-manager/internal/metrics"
	"github.com/sakif/task-manager/internal/middleware"
	"github.com/sakif/task-manager/internal/ratelimit"
	sqliteRepo "github.com/sakif/task-manager/internal/repository/sqlite"
	"github.com/sakif/task-manager/internal/service"
)

// Server owns the router and the long-lived resources it closes on
// shutdown: the database and, when configured, the Redis client.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	rdb    *redis.Client
}

// New opens every dependency described by cfg and wires the routes.
// On error anything already opened is closed again.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if cfg.RedisEnabled() {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	} else {
		logger.Warn("redis not configured; login attempts are not rate limited")
	}

	if err := s.setupRoutes(); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) close() {
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}

// csrfKey is the configured key, or one derived from the JWT secret so a
// single secret is enough for a small deployment.
func (s *Server) csrfKey() []byte {
	if k := s.config.Auth.CSRFKey; k != "" {
		sum := sha256.Sum256([]byte(k))
		return sum[:]
	}
	sum := sha256.Sum256([]byte("csrf:" + s.config.Auth.JWTSecret))
	return sum[:]
}

// markPlaintext tells gorilla/csrf the site is served over plain HTTP, so
// it skips the HTTPS-only Referer check. Used only when cookies are not
// marked Secure, i.e. local development.
func markPlaintext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz, /metrics                   operational
//	     /api/accounts/{signup,login,logout}  JSON, anonymous
//	     /api/accounts/profile, /api/tasks…   JSON, RequireAuth
//	     /accounts/…                          HTML, CSRF, OptionalAuth
//	     /tasks…                              HTML, CSRF, RequireLogin
//
// The JSON API authenticates with a bearer header or the session cookie and
// is not CSRF protected; the cookie is SameSite=Lax, so cross-site POSTs do
// not carry it.
func (s *Server) setupRoutes() error {
	cfg := s.config

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)

	// === Dependencies ===
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	opts := service.AccountOptions{
		RequireEmailVerification: cfg.Auth.RequireEmailVerification,
		BaseURL:                  cfg.BaseURL,
		Mailer:                   mailer.New(cfg, s.logger),
	}
	if s.rdb != nil {
		opts.Limiter = ratelimit.New(s.rdb, s.logger, "taskmanager:login",
			cfg.RateLimit.LoginRate, cfg.RateLimit.LoginBurst)
	}

	tasks := service.NewTaskService(s.db, s.logger)
	accounts := service.NewAccountService(s.db.Users(), tokens, auth.NewPasswordService(), s.logger, opts)

	taskAPI := handler.NewTaskAPIHandler(tasks, accounts, s.logger)
	accountAPI := handler.NewAccountAPIHandler(accounts, cfg.Auth.SecureCookies, s.logger)
	pages, err := handler.NewPageHandler(tasks, accounts, cfg.Auth.SecureCookies, s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}

	// === Operational ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	// === JSON API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/accounts/signup", accountAPI.HandleSignup)
		r.Post("/accounts/login", accountAPI.HandleLogin)
		r.Post("/accounts/logout", accountAPI.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Use(accountAPI.RequireActive)

			r.Get("/accounts/profile", accountAPI.HandleProfile)

			r.Get("/tasks", taskAPI.HandleList)
			r.Post("/tasks", taskAPI.HandleCreate)
			r.Get("/tasks/{id}", taskAPI.HandleGet)
			r.Put("/tasks/{id}", taskAPI.HandleUpdate)
			r.Delete("/tasks/{id}", taskAPI.HandleDelete)
			r.Get("/tasks/{id}/subtasks", taskAPI.HandleSubtasks)
			r.Post("/tasks/{id}/complete", taskAPI.HandleComplete)
			r.Post("/tasks/{id}/reopen", taskAPI.HandleReopen)
		})
	})

	// === HTML pages ===
	s.router.Group(func(r chi.Router) {
		if !cfg.Auth.SecureCookies {
			r.Use(markPlaintext)
		}
		r.Use(csrf.Protect(s.csrfKey(),
			csrf.Secure(cfg.Auth.SecureCookies),
			csrf.Path("/"),
			csrf.FieldName("csrf_token"),
			csrf.CookieName("csrf"),
			csrf.SameSite(csrf.SameSiteLaxMode),
		))

		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))

			r.Get("/", pages.HandleHome)
			r.Get("/accounts/login", pages.HandleLoginForm)
			r.Post("/accounts/login", pages.HandleLogin)
			r.Get("/accounts/signup", pages.HandleSignupForm)
			r.Post("/accounts/signup", pages.HandleSignup)
			r.Post("/accounts/logout", pages.HandleLogout)
			r.Get("/accounts/verify", pages.HandleVerify)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireLogin(tokens, "/accounts/login"))

			r.Get("/tasks", pages.HandleTaskList)
			r.Post("/tasks", pages.HandleTaskCreate)
			r.Get("/tasks/{id}", pages.HandleTaskDetail)
			r.Get("/tasks/{id}/edit", pages.HandleTaskEditForm)
			r.Post("/tasks/{id}/edit", pages.HandleTaskEdit)
			r.Get("/tasks/{id}/delete", pages.HandleTaskDeleteConfirm)
			r.Post("/tasks/{id}/delete", pages.HandleTaskDelete)
			r.Post("/tasks/{id}/complete", pages.HandleTaskComplete)
			r.Post("/tasks/{id}/reopen", pages.HandleTaskReopen)
			r.Post("/tasks/{id}/subtasks", pages.HandleSubtaskCreate)
		})
	})

	return nil
}

// handleHealth reports whether the database (and Redis, when configured)
// answers. Redis being down degrades rate limiting but not the service, so
// it is reported without failing the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	redisStatus := "disabled"
	if s.rdb != nil {
		redisStatus = "ok"
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			redisStatus = "unavailable"
		}
	}

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"unavailable","redis":%q}`+"\n", redisStatus)
		return
	}
	fmt.Fprintf(w, `{"status":"ok","redis":%q}`+"\n", redisStatus)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections.
//  2. Wait up to 30s for in-flight requests.
//  3. Close Redis and the database (flushes WAL, releases the file lock).
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
