package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mitigateops/platform/internal/incident"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/shared/auth"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the incident module
type Handler struct {
	service *incident.Service
}

// NewHandler creates a new incident handler
func NewHandler(service *incident.Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the incident routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListIncidents)
	r.Post("/", h.CreateIncident)

	r.Route("/{incidentID}", func(r chi.Router) {
		r.Get("/", h.GetIncident)

		// Status gate
		r.Get("/transitions", h.GetTransitions)
		r.Post("/transitions", h.Transition)

		r.Get("/escalations", h.GetEscalations)
		r.Get("/activity", h.GetActivity)
	})

	return r
}

// --- Request/Response types ---

type CreateIncidentRequest struct {
	PropertyID              types.ID `json:"property_id"`
	ServicingOrganizationID types.ID `json:"servicing_organization_id"`
	Emergency               bool     `json:"emergency"`
	Description             string   `json:"description"`
}

type TransitionRequest struct {
	Status domain.Status `json:"status"`
}

type TransitionsResponse struct {
	Status  domain.Status   `json:"status"`
	Allowed []domain.Status `json:"allowed"`
}

// --- Handlers ---

func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ListFilter{}

	if v := q.Get("organization_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			writeError(w, errors.BadRequest("invalid organization ID"))
			return
		}
		filter.OrganizationID = &id
	} else if user := auth.GetUser(r.Context()); user != nil && !user.OrganizationID.IsZero() && !user.HasAnyRole(auth.RoleAdmin) {
		filter.OrganizationID = &user.OrganizationID
	}

	if v := q.Get("status"); v != "" {
		status := domain.Status(v)
		if !status.Valid() {
			writeError(w, errors.BadRequest("unknown status"))
			return
		}
		filter.Status = &status
	}
	if v := q.Get("emergency"); v != "" {
		emergency, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, errors.BadRequest("emergency must be true or false"))
			return
		}
		filter.Emergency = &emergency
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	incidents, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	filter = filter.Normalize()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   incidents,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	orgID := req.ServicingOrganizationID
	if orgID.IsZero() {
		if user := auth.GetUser(r.Context()); user != nil {
			orgID = user.OrganizationID
		}
	}

	inc, err := h.service.Create(r.Context(), domain.NewIncidentInput{
		PropertyID:              req.PropertyID,
		ServicingOrganizationID: orgID,
		Emergency:               req.Emergency,
		Description:             req.Description,
		CreatedBy:               auth.ActorID(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, inc)
}

func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIncidentID(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIncidentID(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionsResponse{
		Status:  inc.Status,
		Allowed: domain.AllowedTransitions(inc.Status),
	})
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIncidentID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.Status == "" {
		writeError(w, errors.Validation("invalid transition request", map[string]string{"status": "required"}))
		return
	}

	result, err := h.service.Transition(r.Context(), id, req.Status, auth.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetEscalations(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIncidentID(w, r)
	if !ok {
		return
	}

	history, err := h.service.Escalations(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  history,
		"total": len(history),
	})
}

func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIncidentID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.Activity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": len(entries),
	})
}

// --- Helpers ---

func parseIncidentID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "incidentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid incident ID"))
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
