/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the REST surface: instances, runs, reports, auth,
// webhooks and the websocket event stream.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/audit"
	"github.com/friendsincode/vakt/internal/auth"
	"github.com/friendsincode/vakt/internal/cache"
	"github.com/friendsincode/vakt/internal/config"
	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/logbuffer"
	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/runs"
	"github.com/friendsincode/vakt/internal/webhooks"
)

// API exposes HTTP handlers.
type API struct {
	db         *gorm.DB
	cfg        *config.Config
	jwtSecret  []byte
	runsSvc    *runs.Service
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service
	cache      *cache.Cache
	bus        *events.Bus
	logBuf     *logbuffer.Buffer
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, cfg *config.Config, runsSvc *runs.Service, auditSvc *audit.Service, webhookSvc *webhooks.Service, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		db:         db,
		cfg:        cfg,
		jwtSecret:  []byte(cfg.JWTSigningKey),
		runsSvc:    runsSvc,
		auditSvc:   auditSvc,
		webhookSvc: webhookSvc,
		bus:        bus,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetCache wires the result cache so instance deletion can invalidate it.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// SetLogBuffer wires the in-memory log buffer behind the admin log routes.
func (a *API) SetLogBuffer(b *logbuffer.Buffer) {
	a.logBuf = b
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/auth/me", a.handleWhoAmI)

			pr.Route("/keys", func(r chi.Router) {
				r.Get("/", a.handleKeysList)
				r.Post("/", a.handleKeysCreate)
				r.Post("/{keyID}/revoke", a.handleKeyRevoke)
				r.Delete("/{keyID}", a.handleKeyDelete)
			})

			// User management (admin only)
			pr.Route("/users", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleUsersList)
				r.Post("/", a.handleUsersCreate)
				r.Patch("/{userID}", a.handleUserUpdate)
				r.Delete("/{userID}", a.handleUserDelete)
			})

			pr.Route("/instances", func(r chi.Router) {
				r.Get("/", a.handleInstancesList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleInstancesCreate)
				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/", a.handleInstancesGet)
					r.Get("/body", a.handleInstanceBody)
					r.Get("/lint", a.handleInstanceLint)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Delete("/", a.handleInstancesDelete)
					r.Get("/runs", a.handleInstanceRunsList)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/runs", a.handleRunsCreate)
				})
			})

			pr.Route("/runs", func(r chi.Router) {
				r.Get("/", a.handleRunsList)
				r.Route("/{runID}", func(r chi.Router) {
					r.Get("/", a.handleRunsGet)
					r.Get("/assignments", a.handleRunAssignments)
					r.Get("/report", a.handleRunReport)
				})
			})

			// Audit log routes (admin only)
			pr.Route("/audit", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleAuditList)
			})

			// Process log buffer (admin only)
			pr.Route("/logs", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleLogsList)
				r.Get("/components", a.handleLogComponents)
				r.Get("/stats", a.handleLogStats)
			})

			// Webhook management (admin only)
			pr.Route("/webhooks", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleWebhooksList)
				r.Post("/", a.handleWebhooksCreate)
				r.Get("/{webhookID}", a.handleWebhooksGet)
				r.Put("/{webhookID}", a.handleWebhooksUpdate)
				r.Delete("/{webhookID}", a.handleWebhooksDelete)
				r.Post("/{webhookID}/test", a.handleWebhooksTest)
				r.Get("/{webhookID}/logs", a.handleWebhookLogs)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.db, a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, exists := allowedSet[claims.Role]; exists {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// parsePagination reads limit/offset query parameters with bounds.
func parsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		payload["user_id"] = claims.UserID
		payload["user_email"] = claims.Email
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
