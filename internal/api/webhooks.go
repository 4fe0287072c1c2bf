/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/models"
)

// knownWebhookEvents validates the comma-separated events field on
// create and update.
var knownWebhookEvents = map[string]struct{}{
	string(models.WebhookEventRunCompleted): {},
	string(models.WebhookEventRunFailed):    {},
}

func validateWebhookEvents(events string) error {
	if events == "" {
		return nil
	}
	for _, e := range strings.Split(events, ",") {
		if _, ok := knownWebhookEvents[strings.TrimSpace(e)]; !ok {
			return errors.New("unknown event: " + strings.TrimSpace(e))
		}
	}
	return nil
}

func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	var targets []models.WebhookTarget
	if err := a.db.Order("created_at ASC").Find(&targets).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list webhooks")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"webhooks": targets, "total": len(targets)})
}

func (a *API) handleWebhooksCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Events string `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	}
	if err := validateWebhookEvents(req.Events); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid_events",
			"detail": err.Error(),
		})
		return
	}

	target := models.NewWebhookTarget(req.URL, req.Events)
	if err := a.db.Create(target).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to create webhook")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.logger.Info().Str("webhook_id", target.ID).Str("url", target.URL).Msg("webhook created")

	// The signing secret is returned exactly once, on creation.
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": target,
		"secret":  target.Secret,
	})
}

func (a *API) handleWebhooksGet(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (a *API) handleWebhooksUpdate(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	var req struct {
		URL    *string `json:"url"`
		Events *string `json:"events"`
		Active *bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	updates := map[string]any{}
	if req.URL != nil {
		parsed, err := url.Parse(*req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			writeError(w, http.StatusBadRequest, "invalid_url")
			return
		}
		updates["url"] = *req.URL
	}
	if req.Events != nil {
		if err := validateWebhookEvents(*req.Events); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "invalid_events",
				"detail": err.Error(),
			})
			return
		}
		updates["events"] = *req.Events
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := a.db.Model(target).Updates(updates).Error; err != nil {
			a.logger.Error().Err(err).Msg("failed to update webhook")
			writeError(w, http.StatusInternalServerError, "update_failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, target)
}

func (a *API) handleWebhooksDelete(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("target_id = ?", target.ID).Delete(&models.WebhookLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(target).Error
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to delete webhook")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	a.logger.Info().Str("webhook_id", target.ID).Msg("webhook deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWebhooksTest(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	if a.webhookSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks_disabled")
		return
	}

	if err := a.webhookSvc.TestWebhook(target); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "delivery_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (a *API) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	target, ok := a.loadWebhook(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r, 50)

	var total int64
	if err := a.db.Model(&models.WebhookLog{}).Where("target_id = ?", target.ID).Count(&total).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to count webhook logs")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	var logs []models.WebhookLog
	err := a.db.Where("target_id = ?", target.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&logs).Error
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list webhook logs")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) loadWebhook(w http.ResponseWriter, r *http.Request) (*models.WebhookTarget, bool) {
	webhookID := chi.URLParam(r, "webhookID")

	var target models.WebhookTarget
	err := a.db.First(&target, "id = ?", webhookID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "webhook_not_found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load webhook")
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return nil, false
	}
	return &target, true
}
