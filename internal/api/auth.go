/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/friendsincode/vakt/internal/auth"
	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/models"
)

const (
	defaultKeyLifetime = 90 * 24 * time.Hour
	maxKeyLifetime     = 365 * 24 * time.Hour
)

// roleRank orders roles for the "at or below your own" key scoping rule.
var roleRank = map[models.RoleName]int{
	models.RoleViewer:  1,
	models.RolePlanner: 2,
	models.RoleAdmin:   3,
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	// Identical response for unknown email and wrong password so the
	// endpoint does not leak which accounts exist.
	var user models.User
	if err := a.db.First(&user, "email = ?", req.Email).Error; err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}, a.cfg.TokenTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to issue token")
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditLogin, events.Payload{
		"user_id":       user.ID,
		"user_email":    user.Email,
		"resource_type": "user",
		"resource_id":   user.ID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": time.Now().Add(a.cfg.TokenTTL),
		"user":       userResponse(&user),
	})
}

func (a *API) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"role":    claims.Role,
	})
}

func (a *API) handleKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := auth.ListAPIKeys(a.db, claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list api keys")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (a *API) handleKeysCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Name          string `json:"name"`
		Role          string `json:"role"`
		ExpiresInDays int    `json:"expires_in_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	// A key defaults to its owner's role and can never exceed it.
	role := models.RoleName(claims.Role)
	if req.Role != "" {
		requested := models.RoleName(req.Role)
		if _, known := roleRank[requested]; !known {
			writeError(w, http.StatusBadRequest, "unknown_role")
			return
		}
		if roleRank[requested] > roleRank[models.RoleName(claims.Role)] {
			writeError(w, http.StatusForbidden, "role_exceeds_own")
			return
		}
		role = requested
	}

	lifetime := defaultKeyLifetime
	if req.ExpiresInDays > 0 {
		lifetime = time.Duration(req.ExpiresInDays) * 24 * time.Hour
		if lifetime > maxKeyLifetime {
			lifetime = maxKeyLifetime
		}
	}

	plaintext, key, err := auth.GenerateAPIKey(claims.UserID, req.Name, role, lifetime)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to generate api key")
		writeError(w, http.StatusInternalServerError, "key_generation_failed")
		return
	}
	if err := a.db.Create(key).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to store api key")
		writeError(w, http.StatusInternalServerError, "key_generation_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyCreate, events.Payload{
		"resource_type": "apikey",
		"resource_id":   key.ID,
		"key_name":      key.Name,
		"key_role":      string(key.Role),
	})

	// The plaintext key is shown exactly once.
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     plaintext,
		"api_key": key,
	})
}

func (a *API) handleKeyRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := auth.RevokeAPIKey(a.db, keyID, claims.UserID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "key_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("failed to revoke api key")
		writeError(w, http.StatusInternalServerError, "revoke_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyRevoke, events.Payload{
		"resource_type": "apikey",
		"resource_id":   keyID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := auth.DeleteAPIKey(a.db, keyID, claims.UserID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "key_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("failed to delete api key")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
