/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/report"
	"github.com/friendsincode/vakt/internal/runs"
)

func (a *API) handleRunsList(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50)
	filters := runs.ListFilters{
		InstanceID: r.URL.Query().Get("instance_id"),
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

func (a *API) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	run, ok := a.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleRunAssignments(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	assignments, err := a.runsSvc.Assignments(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("failed to load assignments")
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"assignments": assignments,
		"total":       len(assignments),
	})
}

func (a *API) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = report.FormatJSON
	}

	inst, result, err := a.runsSvc.BuildReport(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run_not_found")
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "run_not_completed",
			"detail": err.Error(),
		})
		return
	}

	// Render into a buffer first so a format error can still become a
	// clean 400 instead of a half-written body.
	var buf bytes.Buffer
	if err := report.Render(&buf, format, inst, result); err != nil {
		if errors.Is(err, report.ErrUnknownFormat) {
			writeError(w, http.StatusBadRequest, "unknown_format")
			return
		}
		a.logger.Error().Err(err).Str("run_id", runID).Msg("report rendering failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}

	switch format {
	case report.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case report.FormatYAML:
		w.Header().Set("Content-Type", "application/x-yaml")
	case report.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+runID+".csv"))
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// loadRun resolves {runID} and writes the 404 itself.
func (a *API) loadRun(w http.ResponseWriter, r *http.Request) (*models.SolveRun, bool) {
	runID := chi.URLParam(r, "runID")

	run, err := a.runsSvc.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run_not_found")
			return nil, false
		}
		a.logger.Error().Err(err).Msg("failed to load run")
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return nil, false
	}
	return run, true
}
