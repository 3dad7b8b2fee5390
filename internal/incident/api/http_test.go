package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident"
	"github.com/mitigateops/platform/internal/incident/api"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/shared/auth"
	"github.com/mitigateops/platform/internal/shared/events"
	"github.com/mitigateops/platform/internal/shared/types"
	"github.com/mitigateops/platform/internal/store/memory"
)

type noEscalations struct{}

func (noEscalations) History(ctx context.Context, incidentID types.ID) ([]escalation.Event, error) {
	return nil, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	svc := incident.NewService(store.Incidents(), noEscalations{}, store.Activity(), events.NewMemoryBus(), zap.NewNop())
	srv := httptest.NewServer(api.NewHandler(svc).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createIncident(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/", api.CreateIncidentRequest{
		PropertyID:              types.NewID(),
		ServicingOrganizationID: types.NewID(),
		Emergency:               true,
		Description:             "roof leak",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "acknowledged", body["status"])
	return body["id"].(string)
}

func TestCreateAndGetIncident(t *testing.T) {
	srv := newServer(t)
	id := createIncident(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, true, body["emergency"])
}

func TestCreateIncidentValidation(t *testing.T) {
	srv := newServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/", map[string]any{"emergency": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestTransitionEndpoint(t *testing.T) {
	srv := newServer(t)
	id := createIncident(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/"+id+"/transitions", api.TransitionRequest{Status: domain.StatusActive})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "acknowledged", body["from"])
	assert.Equal(t, "active", body["to"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/"+id+"/transitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, []any{"completed", "on_hold"}, body["allowed"])
}

func TestInvalidTransitionIs422(t *testing.T) {
	srv := newServer(t)
	id := createIncident(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/"+id+"/transitions", api.TransitionRequest{Status: domain.StatusPaid})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "acknowledged", details["from"])
	assert.Equal(t, "paid", details["to"])
}

func TestUnknownIncidentIs404(t *testing.T) {
	srv := newServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/"+types.NewID().String()+"/escalations", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListFiltersByStatus(t *testing.T) {
	srv := newServer(t)
	id := createIncident(t, srv)
	createIncident(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/"+id+"/transitions", api.TransitionRequest{Status: domain.StatusOnHold})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/?status=on_hold", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, id, data[0].(map[string]any)["id"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateUsesCallerAsCreator(t *testing.T) {
	store := memory.New()
	svc := incident.NewService(store.Incidents(), noEscalations{}, store.Activity(), events.NewMemoryBus(), zap.NewNop())
	handler := api.NewHandler(svc).Routes()

	user := &auth.User{ID: types.NewID(), OrganizationID: types.NewID(), Roles: []string{auth.RoleDispatcher}}
	payload, err := json.Marshal(api.CreateIncidentRequest{PropertyID: types.NewID()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Incident
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, user.ID, created.CreatedBy)
	assert.Equal(t, user.OrganizationID, created.ServicingOrganizationID)
}
