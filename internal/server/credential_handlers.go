package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
	"github.com/weiqr/weiqr/internal/services/credentials"
)

// handleSaveCookies is the `save_cookies` RPC: a manual escape hatch for
// submitting a cookie set outside the normal Login Orchestrator flow
// (spec.md §4.2, §6.1). It still runs the cookie set through the
// Credential Validator (C3) before persisting — spec.md §8 invariant 1
// requires every persisted CredentialRecord to have passed a validation
// call yielding the same uid, and the store itself trusts its caller to
// have done so rather than re-checking (spec.md §4.2, "Invariants").
func (s *Server) handleSaveCookies(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		UID         string            `json:"uid"`
		Cookies     map[string]string `json:"cookies"`
		DisplayName string            `json:"display_name"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	start := time.Now()
	result, err := s.validator.Validate(r.Context(), req.Cookies, req.UID)
	validationDuration := time.Since(start)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	now := time.Now().UTC()
	record := &models.CredentialRecord{
		UID:         result.UID,
		Cookies:     req.Cookies,
		FetchedAt:   now,
		ValidatedAt: now,
		DisplayName: result.DisplayName,
	}
	if record.DisplayName == "" {
		record.DisplayName = req.DisplayName
	}

	outcome, key, err := s.credStore.Save(r.Context(), record)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		Success              bool   `json:"success"`
		Key                  string `json:"key"`
		ValidationDurationMS int64  `json:"validation_duration_ms"`
		IsOverwrite          bool   `json:"is_overwrite"`
	}{
		Success:              true,
		Key:                  key,
		ValidationDurationMS: validationDuration.Milliseconds(),
		IsOverwrite:          outcome == interfaces.SaveOverwritten,
	})
}

// handleQueryCookies is the `query_cookies` RPC.
func (s *Server) handleQueryCookies(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "uid is required")
		return
	}

	record, err := s.credStore.Query(r.Context(), uid)
	if errors.Is(err, credentials.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "CredentialNotFound", "no credential for uid: "+uid)
		return
	}
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// handleDeleteCookies is the `delete_cookies` RPC.
func (s *Server) handleDeleteCookies(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		UID string `json:"uid"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	if err := s.credStore.Delete(r.Context(), req.UID); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListAllUIDs is the `list_all_uids` RPC.
func (s *Server) handleListAllUIDs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	uids, err := s.credStore.List(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		UIDs []string `json:"uids"`
	}{UIDs: uids})
}
