package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/callintake/pkg/cases"
)

// maxListLimit caps GET /api/cases.
const maxListLimit = 500

// handleListCases serves GET /api/cases?status=&priority=&limit=.
func (a *App) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := cases.ListOptions{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Limit:    100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.Limit = min(n, maxListLimit)
	}

	list, err := a.cases.List(r.Context(), opts)
	if err != nil {
		a.log.Error("list cases", "err", err)
		http.Error(w, "case store unavailable", http.StatusServiceUnavailable)
		return
	}
	if list == nil {
		list = []cases.Case{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "cases": list})
}

// handleGetCase serves GET /api/cases/{id}.
func (a *App) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := a.cases.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, cases.ErrNotFound):
		http.Error(w, "case not found", http.StatusNotFound)
		return
	case err != nil:
		a.log.Error("get case", "err", err)
		http.Error(w, "case store unavailable", http.StatusServiceUnavailable)
		return
	}
	a.writeJSON(w, http.StatusOK, c)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("encode response", "err", err)
	}
}
