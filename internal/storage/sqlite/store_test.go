package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// newTestStore creates an in-memory store that is cleaned up with the test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testPerson(id, first, last string, nicknames ...string) *types.Person {
	display := first
	if last != "" {
		display = first + " " + last
	}
	return &types.Person{
		ID:          id,
		DisplayName: display,
		Name: types.NameParts{
			FirstName: first,
			LastName:  last,
			Nicknames: nicknames,
		},
	}
}

func mustCreatePerson(t *testing.T, store *Store, p *types.Person) {
	t.Helper()
	if err := store.CreatePerson(context.Background(), p); err != nil {
		t.Fatalf("CreatePerson(%s): %v", p.ID, err)
	}
}

func mustCreateInteraction(t *testing.T, store *Store, i *types.Interaction) {
	t.Helper()
	if i.OccurredAt.IsZero() {
		i.OccurredAt = time.Now()
	}
	if err := store.CreateInteraction(context.Background(), i); err != nil {
		t.Fatalf("CreateInteraction(%s): %v", i.ID, err)
	}
}

func TestPersonRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPerson("per:1", "Felix", "Chen", "Fel")
	p.Name.MiddleNames = []string{"Wei"}
	p.Biography = "met at the climbing gym"
	mustCreatePerson(t, store, p)

	got, err := store.GetPerson(ctx, "per:1")
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if got.DisplayName != "Felix Chen" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
	if got.Name.FirstName != "Felix" || got.Name.LastName != "Chen" {
		t.Errorf("name parts = %+v", got.Name)
	}
	if len(got.Name.MiddleNames) != 1 || got.Name.MiddleNames[0] != "Wei" {
		t.Errorf("MiddleNames = %v", got.Name.MiddleNames)
	}
	if len(got.Name.Nicknames) != 1 || got.Name.Nicknames[0] != "Fel" {
		t.Errorf("Nicknames = %v", got.Name.Nicknames)
	}
	if got.Biography != "met at the climbing gym" {
		t.Errorf("Biography = %q", got.Biography)
	}
}

func TestGetPersonNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPerson(context.Background(), "per:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePersonValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreatePerson(ctx, &types.Person{ID: "per:1"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing display name: expected ErrInvalidInput, got %v", err)
	}
	if err := store.CreatePerson(ctx, &types.Person{DisplayName: "X"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing id: expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdatePerson(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPerson("per:1", "Felix", "Chen")
	mustCreatePerson(t, store, p)

	p.Biography = "moved to Lisbon"
	p.Name.Nicknames = []string{"Fel"}
	if err := store.UpdatePerson(ctx, p); err != nil {
		t.Fatalf("UpdatePerson: %v", err)
	}

	got, err := store.GetPerson(ctx, "per:1")
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if got.Biography != "moved to Lisbon" {
		t.Errorf("Biography = %q", got.Biography)
	}
	if len(got.Name.Nicknames) != 1 {
		t.Errorf("Nicknames = %v", got.Name.Nicknames)
	}
}

func TestListPersons(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreatePerson(t, store, testPerson("per:1", "Ana", "Ortiz"))
	mustCreatePerson(t, store, testPerson("per:2", "Ben", "Osei"))

	persons, err := store.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons: %v", err)
	}
	if len(persons) != 2 {
		t.Errorf("len = %d, want 2", len(persons))
	}
}

func TestOrganizationsAndRoles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreatePerson(t, store, testPerson("per:1", "Felix", "Chen"))

	org := &types.Organization{ID: "org:1", Name: "Initech"}
	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	got, err := store.GetOrganizationByName(ctx, "Initech")
	if err != nil {
		t.Fatalf("GetOrganizationByName: %v", err)
	}
	if got.ID != "org:1" {
		t.Errorf("org ID = %s", got.ID)
	}

	if _, err := store.GetOrganizationByName(ctx, "Hooli"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown org, got %v", err)
	}

	ended := time.Now().Add(-24 * time.Hour)
	roles := []*types.Role{
		{ID: "rol:1", PersonID: "per:1", OrganizationID: "org:1", Title: "Engineer",
			StartedAt: time.Now().Add(-48 * time.Hour), EndedAt: &ended},
		{ID: "rol:2", PersonID: "per:1", OrganizationID: "org:1", Title: "Staff Engineer",
			StartedAt: time.Now().Add(-12 * time.Hour)},
	}
	for _, r := range roles {
		if err := store.AddRole(ctx, r); err != nil {
			t.Fatalf("AddRole(%s): %v", r.ID, err)
		}
	}

	listed, err := store.RolesForPerson(ctx, "per:1")
	if err != nil {
		t.Fatalf("RolesForPerson: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("roles = %d, want 2", len(listed))
	}
	if !listed[0].IsCurrent() {
		t.Errorf("expected current role first, got %+v", listed[0])
	}
}

func TestSocialHandlesAreNotUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreatePerson(t, store, testPerson("per:1", "Felix", "Chen"))
	mustCreatePerson(t, store, testPerson("per:2", "Fei", "Chen"))

	// Two persons may legitimately carry the same (platform, handle) pair.
	for i, personID := range []string{"per:1", "per:2"} {
		h := &types.SocialHandle{
			ID:       []string{"soc:1", "soc:2"}[i],
			PersonID: personID,
			Platform: "twitter",
			Handle:   "fchen",
		}
		if err := store.AddHandle(ctx, h); err != nil {
			t.Fatalf("AddHandle for %s: %v", personID, err)
		}
	}

	handles, err := store.HandlesForPerson(ctx, "per:1")
	if err != nil {
		t.Fatalf("HandlesForPerson: %v", err)
	}
	if len(handles) != 1 {
		t.Errorf("handles = %d, want 1", len(handles))
	}
}

func TestDeletePersonCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreatePerson(t, store, testPerson("per:1", "Felix", "Chen"))
	if err := store.CreateOrganization(ctx, &types.Organization{ID: "org:1", Name: "Initech"}); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if err := store.AddRole(ctx, &types.Role{
		ID: "rol:1", PersonID: "per:1", OrganizationID: "org:1", StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if err := store.AddHandle(ctx, &types.SocialHandle{
		ID: "soc:1", PersonID: "per:1", Platform: "twitter", Handle: "fchen",
	}); err != nil {
		t.Fatalf("AddHandle: %v", err)
	}
	mustCreateInteraction(t, store, &types.Interaction{
		ID: "int:1", PersonID: "per:1", Summary: "coffee",
	})
	if err := store.StoreEmbedding(ctx, "int:1", []float64{1, 0}, 2, "test-model", time.Now()); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	if err := store.DeletePerson(ctx, "per:1"); err != nil {
		t.Fatalf("DeletePerson: %v", err)
	}

	if _, err := store.GetPerson(ctx, "per:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("person still present: %v", err)
	}
	if _, err := store.GetInteraction(ctx, "int:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("interaction still present: %v", err)
	}
	if _, err := store.GetEmbedding(ctx, "int:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("embedding still present: %v", err)
	}
	roles, err := store.RolesForPerson(ctx, "per:1")
	if err != nil || len(roles) != 0 {
		t.Errorf("roles = %v, err = %v", roles, err)
	}
	handles, err := store.HandlesForPerson(ctx, "per:1")
	if err != nil || len(handles) != 0 {
		t.Errorf("handles = %v, err = %v", handles, err)
	}

	// The organization survives the deletion.
	if _, err := store.GetOrganizationByName(ctx, "Initech"); err != nil {
		t.Errorf("organization should survive: %v", err)
	}
}

func TestDeletePersonNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.DeletePerson(context.Background(), "per:ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
