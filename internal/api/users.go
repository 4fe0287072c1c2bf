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
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/auth"
	"github.com/friendsincode/vakt/internal/models"
)

// userPayload is the sanitized user representation. Password hashes never
// leave the server.
type userPayload struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Role      models.RoleName `json:"role"`
	CreatedAt time.Time       `json:"created_at"`
}

func userResponse(u *models.User) userPayload {
	return userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func (a *API) handleUsersList(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := a.db.Order("created_at ASC").Find(&users).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list users")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	payload := make([]userPayload, 0, len(users))
	for i := range users {
		payload = append(payload, userResponse(&users[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": payload, "total": len(payload)})
}

func (a *API) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	role := models.RoleViewer
	if req.Role != "" {
		role = models.RoleName(req.Role)
		if _, known := roleRank[role]; !known {
			writeError(w, http.StatusBadRequest, "unknown_role")
			return
		}
	}

	var existing models.User
	err := a.db.First(&existing, "email = ?", req.Email).Error
	if err == nil {
		writeError(w, http.StatusConflict, "email_taken")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		a.logger.Error().Err(err).Msg("failed to check email")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to hash password")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    req.Email,
		Password: string(hash),
		Role:     role,
	}
	if err := a.db.Create(&user).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to create user")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.logger.Info().Str("email", user.Email).Str("role", string(user.Role)).Msg("user created")
	writeJSON(w, http.StatusCreated, userResponse(&user))
}

func (a *API) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var user models.User
	if err := a.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("failed to load user")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	var req struct {
		Role     *string `json:"role"`
		Password *string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	updates := map[string]any{}

	if req.Password != nil {
		if *req.Password == "" {
			writeError(w, http.StatusBadRequest, "empty_password")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			a.logger.Error().Err(err).Msg("failed to hash password")
			writeError(w, http.StatusInternalServerError, "update_failed")
			return
		}
		updates["password"] = string(hash)
	}

	var previousRole models.RoleName
	roleChanged := false
	if req.Role != nil {
		newRole := models.RoleName(*req.Role)
		if _, known := roleRank[newRole]; !known {
			writeError(w, http.StatusBadRequest, "unknown_role")
			return
		}
		if newRole != user.Role {
			if user.Role == models.RoleAdmin && a.countAdmins() <= 1 {
				writeError(w, http.StatusConflict, "last_admin")
				return
			}
			previousRole = user.Role
			updates["role"] = newRole
			roleChanged = true
		}
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, userResponse(&user))
		return
	}

	if err := a.db.Model(&user).Updates(updates).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to update user")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	if roleChanged && a.auditSvc != nil {
		ctx := a.auditContext(r)
		entry := &models.AuditLog{
			Action:       models.AuditActionUserRoleChange,
			ResourceType: "user",
			ResourceID:   user.ID,
			Details: map[string]any{
				"from": string(previousRole),
				"to":   updates["role"],
			},
		}
		if v, ok := ctx["user_id"].(string); ok {
			entry.UserID = &v
		}
		if v, ok := ctx["user_email"].(string); ok {
			entry.UserEmail = v
		}
		if v, ok := ctx["ip_address"].(string); ok {
			entry.IPAddress = v
		}
		if v, ok := ctx["user_agent"].(string); ok {
			entry.UserAgent = v
		}
		if err := a.auditSvc.Log(r.Context(), entry); err != nil {
			a.logger.Error().Err(err).Msg("failed to audit role change")
		}
	}

	if err := a.db.First(&user, "id = ?", userID).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to reload user")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	writeJSON(w, http.StatusOK, userResponse(&user))
}

func (a *API) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if claims.UserID == userID {
		writeError(w, http.StatusConflict, "cannot_delete_self")
		return
	}

	var user models.User
	if err := a.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("failed to load user")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	if user.Role == models.RoleAdmin && a.countAdmins() <= 1 {
		writeError(w, http.StatusConflict, "last_admin")
		return
	}

	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to delete user")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	a.logger.Info().Str("email", user.Email).Msg("user deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) countAdmins() int64 {
	var n int64
	a.db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&n)
	return n
}
