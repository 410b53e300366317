package http

import (
	"encoding/json"
	"net/http"
	"time"

	"tidytab/internal/core"
)

type createTabRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Date        string `json:"date"`
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createTabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	in := core.CreateTabInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    core.TabCategory(req.Category),
	}
	if req.Date != "" {
		date, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeErrorMessage(w, http.StatusUnprocessableEntity, "date must be RFC 3339")
			return
		}
		in.Date = date
	}

	tab, err := s.tabs.CreateTab(r.Context(), in, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tab)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	status := core.TabStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeErrorMessage(w, http.StatusUnprocessableEntity, "status must be active or resolved")
		return
	}

	tabs, err := s.tabs.ListTabs(r.Context(), caller, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tabs == nil {
		tabs = []core.Tab{}
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (s *Server) handleGetTab(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	// Membership is re-checked on cache hits; the cache holds the tab,
	// not an authorization decision.
	if tab, found := s.tabCache.Get(id); found {
		if !tab.IsMember(caller.UID) {
			writeErrorMessage(w, http.StatusNotFound, "tab not found")
			return
		}
		writeJSON(w, http.StatusOK, tab)
		return
	}

	tab, err := s.tabs.GetTab(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.tabCache.Set(id, tab)
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleJoinTab(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	tab, err := s.tabs.JoinTab(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateTab(id)
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleResolveTab(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	tab, err := s.tabs.ResolveTab(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateTab(id)
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleReopenTab(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	tab, err := s.tabs.ReopenTab(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateTab(id)
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	settlement, err := s.tabs.Settlement(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) invalidateTab(id string) {
	s.tabCache.Delete(id)
}
