package oncall_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/events"
	"github.com/mitigateops/platform/internal/shared/types"
	"github.com/mitigateops/platform/internal/store/memory"
)

func seedChain(t *testing.T, store *memory.Store, n int) (*oncall.Configuration, []oncall.Contact) {
	t.Helper()
	ctx := context.Background()

	ids := make([]types.ID, 0, n+1)
	for i := 0; i <= n; i++ {
		r := &directory.Responder{ID: types.NewID(), Name: "responder"}
		require.NoError(t, store.Directory().SaveResponder(ctx, r))
		ids = append(ids, r.ID)
	}

	cfg := &oncall.Configuration{
		OrganizationID:           types.NewID(),
		PrimaryResponderID:       ids[0],
		EscalationTimeoutMinutes: 10,
	}
	require.NoError(t, store.OnCall().SaveConfiguration(ctx, cfg))

	for i := 1; i <= n; i++ {
		require.NoError(t, store.OnCall().AddContact(ctx, &oncall.Contact{
			ConfigurationID: cfg.ID,
			ResponderID:     ids[i],
			Position:        i,
		}))
	}
	chain, err := store.OnCall().ListChain(ctx, cfg.ID)
	require.NoError(t, err)
	return cfg, chain
}

func TestReorderRotatesPositions(t *testing.T) {
	store := memory.New()
	repo := store.OnCall()
	ctx := context.Background()
	cfg, chain := seedChain(t, store, 3)
	a, b, c := chain[0], chain[1], chain[2]

	// [1,2,3] -> [2,3,1]: a moves to 2, b to 3, c to 1
	require.NoError(t, repo.Reorder(ctx, cfg.ID, []types.ID{c.ID, a.ID, b.ID}))

	after, err := repo.ListChain(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, after, 3)

	seen := map[int]int{}
	for _, contact := range after {
		seen[contact.Position]++
	}
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, seen)

	assert.Equal(t, c.ID, after[0].ID)
	assert.Equal(t, a.ID, after[1].ID)
	assert.Equal(t, b.ID, after[2].ID)

	at1, err := repo.ContactAtPosition(ctx, cfg.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ResponderID, at1.ResponderID)
}

func TestReorderRejectsPartialLists(t *testing.T) {
	store := memory.New()
	repo := store.OnCall()
	ctx := context.Background()
	cfg, chain := seedChain(t, store, 3)

	err := repo.Reorder(ctx, cfg.ID, []types.ID{chain[0].ID, chain[1].ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	err = repo.Reorder(ctx, cfg.ID, []types.ID{chain[0].ID, chain[0].ID, chain[1].ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	err = repo.Reorder(ctx, cfg.ID, []types.ID{chain[0].ID, chain[1].ID, types.NewID()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	unchanged, err := repo.ListChain(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, chain, unchanged)
}

func TestAddContactPositionIsUnique(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	cfg, chain := seedChain(t, store, 1)

	err := store.OnCall().AddContact(ctx, &oncall.Contact{
		ConfigurationID: cfg.ID,
		ResponderID:     chain[0].ResponderID,
		Position:        1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestConfigurationValidation(t *testing.T) {
	cfg := &oncall.Configuration{OrganizationID: types.NewID(), PrimaryResponderID: types.NewID()}
	err := cfg.Validate()
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "escalation_timeout_minutes")

	contact := &oncall.Contact{ConfigurationID: types.NewID(), ResponderID: types.NewID()}
	require.Error(t, contact.Validate())
}

func TestSaveConfigurationIsOnePerOrganization(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	cfg, _ := seedChain(t, store, 0)

	again := &oncall.Configuration{
		OrganizationID:           cfg.OrganizationID,
		PrimaryResponderID:       cfg.PrimaryResponderID,
		EscalationTimeoutMinutes: 25,
	}
	require.NoError(t, store.OnCall().SaveConfiguration(ctx, again))
	assert.Equal(t, cfg.ID, again.ID)

	got, err := store.OnCall().ConfigurationForOrganization(ctx, cfg.OrganizationID)
	require.NoError(t, err)
	assert.Equal(t, 25, got.EscalationTimeoutMinutes)
}

const importDoc = `
responders:
  - id: 0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0001
    name: Ana Reyes
    email: ana@example.com
    phone: "+15550100"
  - id: 0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0002
    name: Ben Ortiz
    email: ben@example.com
  - id: 0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0003
    name: Cy Lam
    email: cy@example.com
organizations:
  - id: 7d2f6c10-0000-4000-8000-000000000001
    primary: 0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0001
    timeout_minutes: 10
    chain:
      - 0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0002
      - 0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0003
`

func TestImportLoadsRespondersAndChains(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	importer := oncall.NewImporter(store.OnCall(), store.Directory(), zap.NewNop())

	f, err := oncall.ParseImport(strings.NewReader(importDoc))
	require.NoError(t, err)

	summary, err := importer.Import(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, oncall.ImportSummary{Responders: 3, Configurations: 1, Contacts: 2}, summary)

	orgID := types.MustParseID("7d2f6c10-0000-4000-8000-000000000001")
	chain, err := oncall.LoadChain(ctx, store.OnCall(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 10, chain.EscalationTimeoutMinutes)
	require.Len(t, chain.Contacts, 2)
	assert.Equal(t, types.MustParseID("0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0002"), chain.Contacts[0].ResponderID)
	assert.Equal(t, 2, chain.Contacts[1].Position)

	ana, err := store.Directory().Responder(ctx, types.MustParseID("0b3c3a52-8b1d-4c55-9a43-2f1e0e0a0001"))
	require.NoError(t, err)
	assert.True(t, ana.HasPhone())

	// importing again replaces the chain instead of colliding on positions
	summary, err = importer.Import(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Contacts)
	chain, err = oncall.LoadChain(ctx, store.OnCall(), orgID)
	require.NoError(t, err)
	assert.Len(t, chain.Contacts, 2)
}

func TestParseImportRejectsUnknownKeys(t *testing.T) {
	_, err := oncall.ParseImport(strings.NewReader("responders: []\nteams: []\n"))
	require.Error(t, err)
}

func TestImportReportsBadIDs(t *testing.T) {
	store := memory.New()
	importer := oncall.NewImporter(store.OnCall(), store.Directory(), zap.NewNop())

	_, err := importer.Import(context.Background(), &oncall.ImportFile{
		Responders: []oncall.ResponderEntry{{ID: "nope", Name: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "responders[0]")
}

func TestOnCallAPI(t *testing.T) {
	store := memory.New()
	bus := events.NewMemoryBus()
	srv := httptest.NewServer(oncall.NewHandler(store.OnCall(), bus, zap.NewNop()).Routes())
	t.Cleanup(srv.Close)
	ctx := context.Background()

	primary := &directory.Responder{ID: types.NewID(), Name: "primary"}
	backup := &directory.Responder{ID: types.NewID(), Name: "backup"}
	require.NoError(t, store.Directory().SaveResponder(ctx, primary))
	require.NoError(t, store.Directory().SaveResponder(ctx, backup))

	orgID := types.NewID()
	base := srv.URL + "/" + orgID.String() + "/on-call"

	resp := send(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = send(t, http.MethodPut, base, oncall.SaveConfigurationRequest{
		PrimaryResponderID:       primary.ID,
		EscalationTimeoutMinutes: 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = send(t, http.MethodPut, base, oncall.SaveConfigurationRequest{
		PrimaryResponderID:       primary.ID,
		EscalationTimeoutMinutes: 15,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, http.MethodPost, base+"/contacts", oncall.AddContactRequest{ResponderID: backup.ID, Position: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = send(t, http.MethodPost, base+"/contacts", oncall.AddContactRequest{ResponderID: primary.ID, Position: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = send(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chain oncall.Chain
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chain))
	assert.Equal(t, primary.ID, chain.PrimaryResponderID)
	require.Len(t, chain.Contacts, 1)

	resp = send(t, http.MethodDelete, base+"/contacts/"+chain.Contacts[0].ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = send(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Len(t, bus.OfType("oncall.configuration_saved"), 1)
	assert.Len(t, bus.OfType("oncall.contact_added"), 1)
	assert.Len(t, bus.OfType("oncall.contact_removed"), 1)
	assert.Len(t, bus.OfType("oncall.configuration_deleted"), 1)
}

func send(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
