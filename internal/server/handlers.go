// Package server provides the HTTP API and lifecycle management for the
// kith server.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mosswell/kith/internal/engine"
	"github.com/mosswell/kith/internal/identity"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// APIHandlers holds the HTTP handlers for the kith API.
type APIHandlers struct {
	engine       *engine.Engine
	persons      storage.PersonStore
	interactions storage.InteractionStore
	embeddings   storage.EmbeddingProvider
}

// NewAPIHandlers creates the API handler set.
func NewAPIHandlers(eng *engine.Engine, persons storage.PersonStore, interactions storage.InteractionStore, embeddings storage.EmbeddingProvider) *APIHandlers {
	return &APIHandlers{
		engine:       eng,
		persons:      persons,
		interactions: interactions,
		embeddings:   embeddings,
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ResolveRequest is the body for POST /api/resolve.
type ResolveRequest struct {
	Name     string `json:"name"`
	Org      string `json:"org,omitempty"`
	Platform string `json:"platform,omitempty"`
	Handle   string `json:"handle,omitempty"`
	Context  string `json:"context,omitempty"`
}

// Resolve handles POST /api/resolve: parse a mention, match it against
// known persons, and create a person when nothing matches.
func (h *APIHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	resolution, err := h.engine.ResolveMention(r.Context(), identity.Mention{
		RawName:  req.Name,
		OrgName:  req.Org,
		Platform: req.Platform,
		Handle:   req.Handle,
		Context:  req.Context,
	})
	if err != nil {
		respondStorageError(w, "failed to resolve mention", err)
		return
	}

	status := http.StatusOK
	if resolution.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, resolution)
}

// MergeRequest is the body for POST /api/merge.
type MergeRequest struct {
	SurvivorID  string   `json:"survivor_id"`
	AbsorbedIDs []string `json:"absorbed_ids"`
}

// Merge handles POST /api/merge: consolidate duplicate persons.
func (h *APIHandlers) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	report, err := h.engine.MergePersons(r.Context(), req.SurvivorID, req.AbsorbedIDs)
	if err != nil {
		respondStorageError(w, "merge failed", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Search handles GET /api/search?q=...&limit=...: semantic recall over
// interactions.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := parseInt(r.URL.Query().Get("limit"), 0)

	results, err := h.engine.Search(r.Context(), query, limit)
	if err != nil {
		respondStorageError(w, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

// Persons handles /api/persons (collection).
func (h *APIHandlers) Persons(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		persons, err := h.persons.ListPersons(r.Context())
		if err != nil {
			respondStorageError(w, "failed to list persons", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"persons": persons,
			"count":   len(persons),
		})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

// PersonByID handles /api/persons/{id} and its subresources.
func (h *APIHandlers) PersonByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/persons/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "person id is required", nil)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getPerson(w, r, id)
	case sub == "" && r.Method == http.MethodDelete:
		h.deletePerson(w, r, id)
	case sub == "roles" && r.Method == http.MethodGet:
		roles, err := h.persons.RolesForPerson(r.Context(), id)
		if err != nil {
			respondStorageError(w, "failed to list roles", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
	case sub == "handles" && r.Method == http.MethodGet:
		handles, err := h.persons.HandlesForPerson(r.Context(), id)
		if err != nil {
			respondStorageError(w, "failed to list handles", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"handles": handles})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

func (h *APIHandlers) getPerson(w http.ResponseWriter, r *http.Request, id string) {
	person, err := h.persons.GetPerson(r.Context(), id)
	if err != nil {
		respondStorageError(w, "failed to get person", err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

func (h *APIHandlers) deletePerson(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.persons.DeletePerson(r.Context(), id); err != nil {
		respondStorageError(w, "failed to delete person", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// CreateInteractionRequest is the body for POST /api/interactions.
type CreateInteractionRequest struct {
	PersonID   string     `json:"person_id"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Summary    string     `json:"summary"`
	Detail     string     `json:"detail,omitempty"`
	Location   string     `json:"location,omitempty"`
}

// Interactions handles /api/interactions (collection).
func (h *APIHandlers) Interactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listInteractions(w, r)
	case http.MethodPost:
		h.createInteraction(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

func (h *APIHandlers) listInteractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Page:      parseInt(q.Get("page"), 1),
		Limit:     parseInt(q.Get("limit"), 0),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		PersonID:  q.Get("person_id"),
	}
	if v := q.Get("occurred_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid occurred_after", err)
			return
		}
		opts.OccurredAfter = t
	}
	if v := q.Get("occurred_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid occurred_before", err)
			return
		}
		opts.OccurredBefore = t
	}

	result, err := h.interactions.ListInteractions(r.Context(), opts)
	if err != nil {
		respondStorageError(w, "failed to list interactions", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *APIHandlers) createInteraction(w http.ResponseWriter, r *http.Request) {
	var req CreateInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	interaction := &types.Interaction{
		PersonID: req.PersonID,
		Summary:  req.Summary,
		Detail:   req.Detail,
		Location: req.Location,
	}
	if req.OccurredAt != nil {
		interaction.OccurredAt = *req.OccurredAt
	}

	if err := h.engine.CreateInteraction(r.Context(), interaction); err != nil {
		respondStorageError(w, "failed to create interaction", err)
		return
	}
	respondJSON(w, http.StatusCreated, interaction)
}

// UpdateInteractionRequest is the body for PATCH /api/interactions/{id}.
// Absent fields are left unchanged; present-but-empty fields are cleared.
type UpdateInteractionRequest struct {
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Summary    *string    `json:"summary,omitempty"`
	Detail     *string    `json:"detail,omitempty"`
	Location   *string    `json:"location,omitempty"`
}

// InteractionByID handles /api/interactions/{id} and its embedding
// subresource.
func (h *APIHandlers) InteractionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/interactions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "interaction id is required", nil)
		return
	}

	if sub == "embedding" {
		h.interactionEmbedding(w, r, id)
		return
	}
	if sub != "" {
		respondError(w, http.StatusNotFound, "not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		interaction, err := h.interactions.GetInteraction(r.Context(), id)
		if err != nil {
			respondStorageError(w, "failed to get interaction", err)
			return
		}
		respondJSON(w, http.StatusOK, interaction)

	case http.MethodPatch:
		var req UpdateInteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body", err)
			return
		}
		update := types.InteractionUpdate{
			OccurredAt: req.OccurredAt,
			Summary:    req.Summary,
			Detail:     req.Detail,
			Location:   req.Location,
		}
		if err := h.engine.UpdateInteraction(r.Context(), id, update); err != nil {
			respondStorageError(w, "failed to update interaction", err)
			return
		}
		interaction, err := h.interactions.GetInteraction(r.Context(), id)
		if err != nil {
			respondStorageError(w, "failed to reload interaction", err)
			return
		}
		respondJSON(w, http.StatusOK, interaction)

	case http.MethodDelete:
		if err := h.engine.DeleteInteraction(r.Context(), id); err != nil {
			respondStorageError(w, "failed to delete interaction", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

// interactionEmbedding handles /api/interactions/{id}/embedding: POST
// recomputes the embedding synchronously, GET reports whether one exists.
func (h *APIHandlers) interactionEmbedding(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		interaction, err := h.interactions.GetInteraction(r.Context(), id)
		if err != nil {
			respondStorageError(w, "failed to get interaction", err)
			return
		}
		if err := h.engine.RecordInteractionEmbedding(r.Context(), id, interaction.Text()); err != nil {
			respondStorageError(w, "failed to embed interaction", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"embedded": id})

	case http.MethodGet:
		vec, err := h.embeddings.GetEmbedding(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			respondJSON(w, http.StatusOK, map[string]interface{}{"exists": false})
			return
		}
		if err != nil {
			respondStorageError(w, "failed to get embedding", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"exists":    true,
			"dimension": len(vec),
		})

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

// parseInt parses s, returning defaultValue when empty or malformed.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing more to do than note it.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}

// respondStorageError maps storage sentinel errors onto HTTP statuses.
func respondStorageError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, message, err)
}
