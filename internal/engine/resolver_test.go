package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mosswell/kith/internal/identity"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/internal/storage/sqlite"
	"github.com/mosswell/kith/pkg/types"
)

func TestResolveMentionCreatesPersonOnNoMatch(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	res, err := env.engine.ResolveMention(ctx, identity.Mention{RawName: "Zara Okafor"})
	if err != nil {
		t.Fatalf("ResolveMention: %v", err)
	}
	if res.Decision.Outcome != identity.OutcomeNoMatch {
		t.Errorf("outcome = %s, want no_match", res.Decision.Outcome)
	}
	if !res.Created || res.Person == nil {
		t.Fatalf("expected a created person, got %+v", res)
	}

	stored, err := env.store.GetPerson(ctx, res.Person.ID)
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	if stored.DisplayName != "Zara Okafor" {
		t.Errorf("DisplayName = %q", stored.DisplayName)
	}
	if stored.Name.FirstName != "Zara" || stored.Name.LastName != "Okafor" {
		t.Errorf("name parts = %+v", stored.Name)
	}
}

func TestResolveMentionMatchesExistingPerson(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	first, err := env.engine.ResolveMention(ctx, identity.Mention{RawName: "Zara Okafor"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	second, err := env.engine.ResolveMention(ctx, identity.Mention{RawName: "Zara Okafor"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.Decision.Outcome != identity.OutcomeMatched {
		t.Fatalf("outcome = %s, want matched", second.Decision.Outcome)
	}
	if second.Created {
		t.Error("second resolve must not create")
	}
	if second.Person.ID != first.Person.ID {
		t.Errorf("matched %s, want %s", second.Person.ID, first.Person.ID)
	}
}

func TestResolveMentionAmbiguousPerformsNoWrites(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	if _, err := env.engine.ResolveMention(ctx, identity.Mention{RawName: "Felix Chen"}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}

	// A bare first name against a known full name is ambiguous.
	res, err := env.engine.ResolveMention(ctx, identity.Mention{RawName: "Felix"})
	if err != nil {
		t.Fatalf("ResolveMention: %v", err)
	}
	if res.Decision.Outcome != identity.OutcomeAmbiguous {
		t.Fatalf("outcome = %s, want ambiguous (scores %v)", res.Decision.Outcome, res.Decision.Scores)
	}
	if res.Created || res.Person != nil {
		t.Errorf("ambiguous resolution must not create or pick: %+v", res)
	}

	persons, err := env.store.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons: %v", err)
	}
	if len(persons) != 1 {
		t.Errorf("persons = %d, want 1 (no writes on ambiguous)", len(persons))
	}
}

func TestResolveMentionConcurrentSameNameCreatesOnePerson(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.ResolveMention(ctx, identity.Mention{RawName: "Priya Nair"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("ResolveMention: %v", err)
		}
	}

	persons, err := env.store.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons: %v", err)
	}
	if len(persons) != 1 {
		t.Fatalf("persons = %d, want exactly 1 for %d concurrent identical mentions", len(persons), callers)
	}
}

func TestResolveMentionAttachesOrgHint(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	res, err := env.engine.ResolveMention(ctx, identity.Mention{
		RawName: "Mikey Anderson",
		OrgName: "Initech",
	})
	if err != nil {
		t.Fatalf("ResolveMention: %v", err)
	}
	if !res.Created {
		t.Fatal("expected creation")
	}

	org, err := env.store.GetOrganizationByName(ctx, "Initech")
	if err != nil {
		t.Fatalf("GetOrganizationByName: %v", err)
	}
	roles, err := env.store.RolesForPerson(ctx, res.Person.ID)
	if err != nil {
		t.Fatalf("RolesForPerson: %v", err)
	}
	if len(roles) != 1 || roles[0].OrganizationID != org.ID || !roles[0].IsCurrent() {
		t.Errorf("roles = %+v, want one current role at %s", roles, org.ID)
	}

	// The org hint now corroborates a later partial mention.
	again, err := env.engine.ResolveMention(ctx, identity.Mention{
		RawName: "Mikey",
		OrgName: "Initech",
	})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.Decision.Outcome != identity.OutcomeMatched {
		t.Errorf("outcome = %s, want matched (scores %v)", again.Decision.Outcome, again.Decision.Scores)
	}
}

func TestResolveMentionValidation(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.ResolveMention(context.Background(), identity.Mention{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty mention: got %v", err)
	}
}

// gatedPersons lets a test hold a merge open at a known point inside the
// store call.
type gatedPersons struct {
	storage.PersonStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPersons) MergePersons(ctx context.Context, survivorID string, absorbedIDs []string) (*storage.MergeReport, error) {
	close(g.entered)
	<-g.release
	return g.PersonStore.MergePersons(ctx, survivorID, absorbedIDs)
}

func TestResolveWaitsForInFlightMerge(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gated := &gatedPersons{
		PersonStore: store,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	eng, err := New(Deps{
		Persons:      gated,
		Interactions: store,
		Embeddings:   store,
		Embedder:     newFakeEmbedder(),
	}, Config{CacheSize: 4})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	ctx := context.Background()
	for _, p := range []*types.Person{
		{ID: "per:a", DisplayName: "Victor H", Name: types.NameParts{FirstName: "Victor", LastName: "H"}},
		{ID: "per:b", DisplayName: "Victor Hugo", Name: types.NameParts{FirstName: "Victor", LastName: "Hugo"}},
	} {
		if err := store.CreatePerson(ctx, p); err != nil {
			t.Fatalf("CreatePerson(%s): %v", p.ID, err)
		}
	}

	mergeDone := make(chan error, 1)
	go func() {
		_, err := eng.MergePersons(ctx, "per:a", []string{"per:b"})
		mergeDone <- err
	}()
	<-gated.entered // the merge now holds its lock inside the store call

	resolveDone := make(chan *Resolution, 1)
	go func() {
		res, err := eng.ResolveMention(ctx, identity.Mention{RawName: "Victor H"})
		if err != nil {
			t.Errorf("ResolveMention: %v", err)
		}
		resolveDone <- res
	}()

	// The resolve must not snapshot the person set mid-merge.
	select {
	case <-resolveDone:
		t.Fatal("resolve completed while a merge was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(gated.release)
	if err := <-mergeDone; err != nil {
		t.Fatalf("MergePersons: %v", err)
	}

	select {
	case res := <-resolveDone:
		if res == nil {
			t.Fatal("resolve returned no resolution")
		}
		if res.Decision.Outcome != identity.OutcomeMatched || res.Person.ID != "per:a" {
			t.Errorf("post-merge resolve = %+v, want matched per:a", res.Decision)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resolve never completed after the merge released")
	}
}
