package oncall

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/shared/auth"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/events"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Handler provides HTTP handlers for on-call administration
type Handler struct {
	repo   Repository
	bus    events.EventBus
	logger *zap.Logger
}

func NewHandler(repo Repository, bus events.EventBus, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, bus: bus, logger: logger}
}

// Routes is mounted under /organizations
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{orgID}/on-call", func(r chi.Router) {
		r.Get("/", h.GetChain)
		r.Put("/", h.SaveConfiguration)
		r.Delete("/", h.DeleteConfiguration)

		r.Route("/contacts", func(r chi.Router) {
			r.Post("/", h.AddContact)
			r.Put("/order", h.ReorderContacts)
			r.Delete("/{contactID}", h.RemoveContact)
		})
	})

	return r
}

type SaveConfigurationRequest struct {
	PrimaryResponderID       types.ID `json:"primary_responder_id"`
	EscalationTimeoutMinutes int      `json:"escalation_timeout_minutes"`
}

type AddContactRequest struct {
	ResponderID types.ID `json:"responder_id"`
	Position    int      `json:"position"`
}

type ReorderRequest struct {
	ContactIDs []types.ID `json:"contact_ids"`
}

func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}

	chain, err := LoadChain(r.Context(), h.repo, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) SaveConfiguration(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}

	var req SaveConfigurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	cfg := &Configuration{
		OrganizationID:           orgID,
		PrimaryResponderID:       req.PrimaryResponderID,
		EscalationTimeoutMinutes: req.EscalationTimeoutMinutes,
	}
	if err := h.repo.SaveConfiguration(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), "oncall.configuration_saved", orgID, cfg)
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteConfiguration(r.Context(), orgID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), "oncall.configuration_deleted", orgID, map[string]any{"organization_id": orgID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddContact(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}

	var req AddContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	cfg, err := h.repo.ConfigurationForOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	contact := &Contact{ConfigurationID: cfg.ID, ResponderID: req.ResponderID, Position: req.Position}
	if err := h.repo.AddContact(r.Context(), contact); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), "oncall.contact_added", orgID, contact)
	writeJSON(w, http.StatusCreated, contact)
}

func (h *Handler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}
	contactID, err := types.ParseID(chi.URLParam(r, "contactID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid contact ID"))
		return
	}

	cfg, err := h.repo.ConfigurationForOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.RemoveContact(r.Context(), cfg.ID, contactID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), "oncall.contact_removed", orgID, map[string]any{"contact_id": contactID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReorderContacts(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseOrgID(w, r)
	if !ok {
		return
	}

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	cfg, err := h.repo.ConfigurationForOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.Reorder(r.Context(), cfg.ID, req.ContactIDs); err != nil {
		writeError(w, err)
		return
	}

	chain, err := LoadChain(r.Context(), h.repo, orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), "oncall.chain_reordered", orgID, map[string]any{"contact_ids": req.ContactIDs})
	writeJSON(w, http.StatusOK, chain)
}

// publish is best effort; admin changes are already committed.
func (h *Handler) publish(ctx context.Context, eventType string, orgID types.ID, data any) {
	if h.bus == nil {
		return
	}
	event := events.NewEvent(eventType, "oncall", orgID, data).
		WithActor(auth.ActorID(ctx), orgID).
		WithCorrelation(middleware.GetReqID(ctx))
	if err := h.bus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish on-call event", zap.String("type", eventType), zap.Error(err))
	}
}

func parseOrgID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid organization ID"))
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
