/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/friendsincode/vakt/internal/logbuffer"
)

// handleLogsList serves recent process logs from the in-memory buffer,
// newest first.
func (a *API) handleLogsList(w http.ResponseWriter, r *http.Request) {
	if a.logBuf == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}

	limit, _ := parsePagination(r, 100)

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		RunID:      r.URL.Query().Get("run_id"),
		Search:     r.URL.Query().Get("q"),
		Limit:      limit,
		Descending: true,
	}

	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since_time")
			return
		}
		params.Since = since
	}

	entries := a.logBuf.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

// handleLogComponents lists the component names seen in the buffer so
// clients can build filters.
func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuf == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}

	components := a.logBuf.GetComponents()
	sort.Strings(components)
	writeJSON(w, http.StatusOK, map[string]any{"components": components})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuf == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}

	writeJSON(w, http.StatusOK, a.logBuf.Stats())
}
