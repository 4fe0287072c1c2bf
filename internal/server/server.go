/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/api"
	"github.com/friendsincode/vakt/internal/audit"
	"github.com/friendsincode/vakt/internal/cache"
	"github.com/friendsincode/vakt/internal/config"
	"github.com/friendsincode/vakt/internal/db"
	"github.com/friendsincode/vakt/internal/eventbus"
	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/leadership"
	"github.com/friendsincode/vakt/internal/logbuffer"
	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/runs"
	"github.com/friendsincode/vakt/internal/storage"
	"github.com/friendsincode/vakt/internal/telemetry"
	"github.com/friendsincode/vakt/internal/webhooks"
)

// bootstrapAdminEmail is the account created on an empty user table.
const bootstrapAdminEmail = "admin@vakt.local"

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	logBuffer  *logbuffer.Buffer
	api        *api.API
	bus        *events.Bus
	natsBridge *eventbus.NATSBridge
	election   *leadership.Election
	runsSvc    *runs.Service
	worker     *runs.Worker
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The event stream holds its connection open for the life
			// of the client.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			// Inline solves (?wait=true) legitimately run up to the
			// solve timeout, which can exceed the request timeout.
			if strings.HasSuffix(r.URL.Path, "/runs") && r.URL.Query().Get("wait") == "true" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(srv.router, "vakt-api"),
		// Keep header deadline to protect against slowloris, but do not
		// enforce a full-body read deadline so large instance uploads are
		// not terminated mid-request.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout 0 so the websocket event stream manages its own
		// deadlines; the middleware timeout covers ordinary routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register database callbacks: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := s.ensureAdminUser(); err != nil {
		return err
	}

	// Shared identity for leader election and the NATS bridge.
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	// Redis result cache; solves fall through to compute when it is
	// absent or unreachable.
	if s.cfg.CacheEnabled() {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.CacheTTL > 0 {
			cacheCfg.ResultTTL = s.cfg.CacheTTL
		}
		resultCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = resultCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	s.runsSvc = runs.New(database, s.bus, s.cfg.SolveTimeout, s.logger)
	if s.cache != nil {
		s.runsSvc.SetCache(s.cache)
	}

	if s.cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(context.Background(), s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("initialize archive: %w", err)
		}
		s.runsSvc.SetArchive(archive)
	}

	// Leader election keeps queued runs on a single replica.
	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    nodeID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.election = election
		s.DeferClose(func() error { return s.election.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", nodeID).
			Msg("leader election enabled for run worker")
	}

	if s.cfg.WorkerEnabled {
		s.worker = runs.NewWorker(s.runsSvc, s.cfg.WorkerPollInterval, s.logger)
		if s.election != nil {
			s.worker.SetElection(s.election)
		}
	} else {
		s.logger.Warn().Msg("run worker disabled, queued runs will not execute on this node")
	}

	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)

	if s.cfg.NATSURL != "" {
		bridge, err := eventbus.NewNATSBridge(s.cfg.NATSURL, s.bus, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("start nats bridge: %w", err)
		}
		s.natsBridge = bridge
		s.DeferClose(func() error { return s.natsBridge.Close() })
	}

	s.api = api.New(database, s.cfg, s.runsSvc, s.auditSvc, s.webhookSvc, s.bus, s.logger)
	if s.cache != nil {
		s.api.SetCache(s.cache)
	}
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}

	return nil
}

// ensureAdminUser creates the bootstrap admin account when the user table
// is empty, so a fresh deployment can log in.
func (s *Server) ensureAdminUser() error {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("VAKT_ADMIN_PASSWORD")
	generated := false
	if password == "" {
		password = uuid.NewString()
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := models.User{
		ID:       uuid.NewString(),
		Email:    bootstrapAdminEmail,
		Password: string(hash),
		Role:     models.RoleAdmin,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	if generated {
		// The generated password appears once, here. Rotate it after
		// first login.
		s.logger.Warn().
			Str("email", bootstrapAdminEmail).
			Str("password", password).
			Msg("created bootstrap admin with generated password")
	} else {
		s.logger.Info().Str("email", bootstrapAdminEmail).Msg("created bootstrap admin")
	}
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader election start failed")
		}
	}

	if s.worker != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.worker.Run(ctx)
		}()
	}

	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	if s.webhookSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhookSvc.Start(ctx)
		}()
	}

	// Connection pool gauge refresh.
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`

		// Report the worker lease when leader election is on.
		if s.election != nil {
			if s.election.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
