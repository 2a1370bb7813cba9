package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

const (
	defaultRunLimit      = 50
	maxRunLimit          = 500
	defaultManifestLimit = 100
	maxManifestLimit     = 1000
)

// listRuns handles GET /v1/mirrors?status=&limit=&offset=. It returns
// {"runs": [...], "total": n}, where total counts matches before paging.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status crawler.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	runs, err := s.runs.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.Status == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  page(runs, limit, offset),
		"total": len(runs),
	})
}

// getManifest handles GET /v1/mirrors/{run_id}/manifest?kind=&limit=&offset=.
func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifest == nil {
		writeError(w, http.StatusServiceUnavailable, "manifest unavailable")
		return
	}
	runID := chi.URLParam(r, "run_id")
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, crawler.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultManifestLimit, maxManifestLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := s.manifest.Entries(runID)
	if kind := crawler.Kind(strings.TrimSpace(r.URL.Query().Get("kind"))); kind != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": page(entries, limit, offset),
		"total":   len(entries),
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.RunStatus, error) {
	switch strings.ToLower(input) {
	case "queued":
		return crawler.RunStatusQueued, nil
	case "running":
		return crawler.RunStatusRunning, nil
	case "succeeded", "success":
		return crawler.RunStatusSucceeded, nil
	case "failed", "error", "failure":
		return crawler.RunStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}
