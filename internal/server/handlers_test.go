package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosswell/kith/internal/engine"
	"github.com/mosswell/kith/internal/storage/sqlite"
	"github.com/mosswell/kith/pkg/types"
)

// stubEmbedder returns canned vectors so handler tests never reach out to
// a real embedding service.
type stubEmbedder struct {
	vectors map[string][]float64
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, 0, 0}, nil
}

func (s *stubEmbedder) Model() string  { return "stub-model" }
func (s *stubEmbedder) Dimension() int { return 3 }

func newTestAPI(t *testing.T) (*APIHandlers, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng, err := engine.New(engine.Deps{
		Persons:      store,
		Interactions: store,
		Embeddings:   store,
		Analytics:    store,
		Embedder:     &stubEmbedder{},
	}, engine.Config{CacheSize: 16})
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	return NewAPIHandlers(eng, store, store, store), store
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestResolveCreatesThenMatches(t *testing.T) {
	api, _ := newTestAPI(t)

	rr := doJSON(t, api.Resolve, http.MethodPost, "/api/resolve",
		ResolveRequest{Name: "Ada Lovelace"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	first := decodeBody(t, rr)
	assert.Equal(t, true, first["created"])
	person, ok := first["person"].(map[string]interface{})
	require.True(t, ok, "expected person in response")
	createdID := person["id"].(string)
	assert.NotEmpty(t, createdID)

	// A second mention of the same name matches instead of creating.
	rr = doJSON(t, api.Resolve, http.MethodPost, "/api/resolve",
		ResolveRequest{Name: "Ada Lovelace"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	second := decodeBody(t, rr)
	assert.Equal(t, false, second["created"])
	matched := second["person"].(map[string]interface{})
	assert.Equal(t, createdID, matched["id"])
}

func TestResolveRejectsEmptyName(t *testing.T) {
	api, _ := newTestAPI(t)

	rr := doJSON(t, api.Resolve, http.MethodPost, "/api/resolve", ResolveRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveRejectsMalformedJSON(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	api.Resolve(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMergeEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)

	survivor := resolvePerson(t, api, "Felicia Day")
	absorbed := resolvePerson(t, api, "Fel Day")

	rr := doJSON(t, api.Merge, http.MethodPost, "/api/merge",
		MergeRequest{SurvivorID: survivor, AbsorbedIDs: []string{absorbed}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	report := decodeBody(t, rr)
	assert.Equal(t, survivor, report["survivor_id"])

	// The absorbed person is gone.
	req := httptest.NewRequest(http.MethodGet, "/api/persons/"+absorbed, nil)
	get := httptest.NewRecorder()
	api.PersonByID(get, req)
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestMergeUnknownSurvivor(t *testing.T) {
	api, _ := newTestAPI(t)
	absorbed := resolvePerson(t, api, "Someone Real")

	rr := doJSON(t, api.Merge, http.MethodPost, "/api/merge",
		MergeRequest{SurvivorID: "per:missing", AbsorbedIDs: []string{absorbed}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMergeRejectsMissingIDs(t *testing.T) {
	api, _ := newTestAPI(t)

	rr := doJSON(t, api.Merge, http.MethodPost, "/api/merge", MergeRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=", nil)
	rr := httptest.NewRecorder()
	api.Search(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchReturnsRankedResults(t *testing.T) {
	api, _ := newTestAPI(t)

	personID := resolvePerson(t, api, "Grace Hopper")
	interactionID := createInteraction(t, api, personID, "talked about compilers")

	// Embed synchronously via the subresource before searching.
	req := httptest.NewRequest(http.MethodPost, "/api/interactions/"+interactionID+"/embedding", nil)
	rr := httptest.NewRecorder()
	api.InteractionByID(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/search?q=compilers&limit=5", nil)
	rr = httptest.NewRecorder()
	api.Search(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, "compilers", body["query"])
	assert.EqualValues(t, 1, body["count"])
}

func TestPersonRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	personID := resolvePerson(t, api, "Alan Kay")

	req := httptest.NewRequest(http.MethodGet, "/api/persons", nil)
	rr := httptest.NewRecorder()
	api.Persons(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decodeBody(t, rr)["count"])

	req = httptest.NewRequest(http.MethodGet, "/api/persons/"+personID, nil)
	rr = httptest.NewRecorder()
	api.PersonByID(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Alan Kay", decodeBody(t, rr)["display_name"])

	req = httptest.NewRequest(http.MethodGet, "/api/persons/"+personID+"/roles", nil)
	rr = httptest.NewRecorder()
	api.PersonByID(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/persons/"+personID, nil)
	rr = httptest.NewRecorder()
	api.PersonByID(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/persons/"+personID, nil)
	rr = httptest.NewRecorder()
	api.PersonByID(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPersonsMethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/persons", nil)
	rr := httptest.NewRecorder()
	api.Persons(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestInteractionLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)
	personID := resolvePerson(t, api, "Barbara Liskov")
	interactionID := createInteraction(t, api, personID, "coffee downtown")

	// Partial update changes only the summary.
	newSummary := "coffee at the harbor"
	rr := doJSON(t, api.InteractionByID, http.MethodPatch, "/api/interactions/"+interactionID,
		UpdateInteractionRequest{Summary: &newSummary})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, newSummary, decodeBody(t, rr)["summary"])

	// An update with no fields is rejected.
	rr = doJSON(t, api.InteractionByID, http.MethodPatch, "/api/interactions/"+interactionID,
		UpdateInteractionRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/interactions/"+interactionID, nil)
	del := httptest.NewRecorder()
	api.InteractionByID(del, req)
	require.Equal(t, http.StatusOK, del.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/interactions/"+interactionID, nil)
	get := httptest.NewRecorder()
	api.InteractionByID(get, req)
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestInteractionListFilters(t *testing.T) {
	api, _ := newTestAPI(t)
	personID := resolvePerson(t, api, "Walk Partner")
	createInteraction(t, api, personID, "morning walk")

	req := httptest.NewRequest(http.MethodGet, "/api/interactions?person_id="+personID+"&limit=5", nil)
	rr := httptest.NewRecorder()
	api.Interactions(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, rr)["total"])

	req = httptest.NewRequest(http.MethodGet, "/api/interactions?occurred_after=not-a-time", nil)
	rr = httptest.NewRecorder()
	api.Interactions(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInteractionCreateRequiresPerson(t *testing.T) {
	api, _ := newTestAPI(t)

	rr := doJSON(t, api.Interactions, http.MethodPost, "/api/interactions",
		CreateInteractionRequest{PersonID: "per:ghost", Summary: "never happened"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEmbeddingStatusRoute(t *testing.T) {
	api, _ := newTestAPI(t)
	personID := resolvePerson(t, api, "Vector Friend")
	interactionID := createInteraction(t, api, personID, "lunch and a long chat")

	path := "/api/interactions/" + interactionID + "/embedding"

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	api.InteractionByID(rr, req)

	// The async worker may or may not have embedded yet; force it.
	req = httptest.NewRequest(http.MethodPost, path, nil)
	rr = httptest.NewRecorder()
	api.InteractionByID(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, path, nil)
	rr = httptest.NewRecorder()
	api.InteractionByID(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, true, body["exists"])
	assert.EqualValues(t, 3, body["dimension"])
}

func resolvePerson(t *testing.T, api *APIHandlers, name string) string {
	t.Helper()

	rr := doJSON(t, api.Resolve, http.MethodPost, "/api/resolve", ResolveRequest{Name: name})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rr.Code, rr.Body.String())

	var resolution struct {
		Person *types.Person `json:"person"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resolution))
	require.NotNil(t, resolution.Person)
	return resolution.Person.ID
}

func createInteraction(t *testing.T, api *APIHandlers, personID, summary string) string {
	t.Helper()

	rr := doJSON(t, api.Interactions, http.MethodPost, "/api/interactions",
		CreateInteractionRequest{PersonID: personID, Summary: summary})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var interaction types.Interaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &interaction))
	require.NotEmpty(t, interaction.ID)
	return interaction.ID
}
