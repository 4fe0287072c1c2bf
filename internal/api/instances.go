/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/auth"
	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/runs"
)

const defaultMaxInstanceBytes = 10 << 20

func (a *API) handleInstancesList(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50)

	query := a.db.Model(&models.RosterInstance{})
	if source := r.URL.Query().Get("source"); source != "" {
		query = query.Where("source = ?", source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to count instances")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	var instances []models.RosterInstance
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&instances).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list instances")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instances": instances,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (a *API) handleInstancesCreate(w http.ResponseWriter, r *http.Request) {
	maxBytes := a.cfg.MaxInstanceSizeBytes()
	if maxBytes <= 0 {
		maxBytes = defaultMaxInstanceBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	name, body, ok := a.readInstanceUpload(w, r)
	if !ok {
		return
	}

	parsed, err := instance.ParseString(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid_instance",
			"detail": err.Error(),
		})
		return
	}

	fingerprint := parsed.Fingerprint()

	// Uploads are content-addressed: the same body always maps to the
	// same stored instance.
	var existing models.RosterInstance
	err = a.db.First(&existing, "fingerprint = ?", fingerprint).Error
	if err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "duplicate_instance",
			"instance_id": existing.ID,
		})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		a.logger.Error().Err(err).Msg("fingerprint lookup failed")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	if name == "" {
		name = "instance-" + fingerprint[:8]
	}

	inst := models.RosterInstance{
		ID:          uuid.NewString(),
		Name:        name,
		Source:      models.SourceUpload,
		Body:        body,
		Fingerprint: fingerprint,
		Horizon:     parsed.Horizon,
		ShiftCount:  len(parsed.Shifts),
		StaffCount:  len(parsed.Staff),
		CoverCount:  len(parsed.Cover),
		SizeBytes:   int64(len(body)),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		inst.UploadedBy = claims.UserID
	}

	if err := a.db.Create(&inst).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to store instance")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.publishAuditEvent(r, events.EventInstanceCreated, events.Payload{
		"resource_type": "instance",
		"resource_id":   inst.ID,
		"name":          inst.Name,
		"fingerprint":   inst.Fingerprint,
	})

	a.logger.Info().
		Str("instance_id", inst.ID).
		Str("name", inst.Name).
		Int("horizon", inst.Horizon).
		Msg("instance created")

	writeJSON(w, http.StatusCreated, inst)
}

// readInstanceUpload accepts either a JSON envelope {name, body} or the raw
// sectioned text with an optional ?name= parameter.
func (a *API) readInstanceUpload(w http.ResponseWriter, r *http.Request) (name, body string, ok bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "instance_too_large")
			return "", "", false
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return "", "", false
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Name string `json:"name"`
			Body string `json:"body"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return "", "", false
		}
		if req.Body == "" {
			writeError(w, http.StatusBadRequest, "body_required")
			return "", "", false
		}
		return req.Name, req.Body, true
	}

	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "body_required")
		return "", "", false
	}
	return r.URL.Query().Get("name"), string(raw), true
}

func (a *API) handleInstancesGet(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.loadInstance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (a *API) handleInstanceBody(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.loadInstance(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(inst.Body))
}

func (a *API) handleInstanceLint(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.loadInstance(w, r)
	if !ok {
		return
	}

	// Stored bodies parsed at upload time, so a failure here means the
	// stored text was corrupted.
	parsed, err := instance.ParseString(inst.Body)
	if err != nil {
		a.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("stored instance no longer parses")
		writeError(w, http.StatusInternalServerError, "lint_failed")
		return
	}

	writeJSON(w, http.StatusOK, instance.Vet(parsed))
}

func (a *API) handleInstancesDelete(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.loadInstance(w, r)
	if !ok {
		return
	}

	force := r.URL.Query().Get("force") == "true"

	var runCount int64
	if err := a.db.Model(&models.SolveRun{}).Where("instance_id = ?", inst.ID).Count(&runCount).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to count runs")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	if runCount > 0 && !force {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "instance_has_runs",
			"runs":  runCount,
		})
		return
	}

	err := a.db.Transaction(func(tx *gorm.DB) error {
		runIDs := tx.Model(&models.SolveRun{}).Select("id").Where("instance_id = ?", inst.ID)
		if err := tx.Where("run_id IN (?)", runIDs).Delete(&models.RunAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id = ?", inst.ID).Delete(&models.SolveRun{}).Error; err != nil {
			return err
		}
		return tx.Delete(inst).Error
	})
	if err != nil {
		a.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("failed to delete instance")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	if a.cache != nil {
		a.cache.InvalidateResult(r.Context(), inst.Fingerprint)
	}

	a.publishAuditEvent(r, events.EventInstanceDeleted, events.Payload{
		"resource_type": "instance",
		"resource_id":   inst.ID,
		"name":          inst.Name,
		"deleted_runs":  runCount,
	})

	a.logger.Info().Str("instance_id", inst.ID).Int64("runs", runCount).Msg("instance deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInstanceRunsList(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.loadInstance(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r, 50)
	filters := runs.ListFilters{
		InstanceID: inst.ID,
		Status:     models.RunStatus(r.URL.Query().Get("status")),
		Limit:      limit,
		Offset:     offset,
	}

	list, total, err := a.runsSvc.List(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list runs")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) handleRunsCreate(w http.ResponseWriter, r *http.Request) {
	inst, ok := a.loadInstance(w, r)
	if !ok {
		return
	}

	stopEarly := a.cfg.SolveStopEarly
	var req struct {
		StopEarly *bool `json:"stop_early"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StopEarly != nil {
		stopEarly = *req.StopEarly
	}

	requestedBy := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		requestedBy = claims.UserID
	}

	if r.URL.Query().Get("wait") == "true" {
		run, err := a.runsSvc.ExecuteNow(r.Context(), inst.ID, requestedBy, stopEarly)
		if err != nil {
			a.writeRunCreateError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, run)
		return
	}

	run, err := a.runsSvc.Enqueue(r.Context(), inst.ID, requestedBy, stopEarly)
	if err != nil {
		a.writeRunCreateError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (a *API) writeRunCreateError(w http.ResponseWriter, err error) {
	if errors.Is(err, runs.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, "instance_not_found")
		return
	}
	a.logger.Error().Err(err).Msg("failed to create run")
	writeError(w, http.StatusInternalServerError, "run_create_failed")
}

// loadInstance resolves {instanceID} and writes the 404 itself.
func (a *API) loadInstance(w http.ResponseWriter, r *http.Request) (*models.RosterInstance, bool) {
	instanceID := chi.URLParam(r, "instanceID")

	var inst models.RosterInstance
	err := a.db.First(&inst, "id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "instance_not_found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load instance")
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return nil, false
	}
	return &inst, true
}
