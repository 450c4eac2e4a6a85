package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mosswell/kith/internal/identity"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// Resolution is the outcome of resolving one mention: the matcher's
// decision plus the resolved person when one exists. Created reports
// whether this call minted a new person.
type Resolution struct {
	Decision identity.Decision `json:"decision"`
	Person   *types.Person     `json:"person,omitempty"`
	Created  bool              `json:"created"`
}

// ResolveMention parses the raw name, scores it against every known
// person, and acts on the verdict: a clear match returns the existing
// person, no match creates a new one, and anything ambiguous returns the
// candidate list untouched for a human to confirm.
//
// Calls that share a normalized name key are serialized, so two
// concurrent resolutions of the same unknown name produce exactly one
// person.
func (e *Engine) ResolveMention(ctx context.Context, mention identity.Mention) (*Resolution, error) {
	if mention.RawName == "" {
		return nil, fmt.Errorf("%w: mention name is required", storage.ErrInvalidInput)
	}

	parsed, err := identity.ParseName(mention.RawName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	mention.Name = parsed

	key := identity.NormalizeNameKey(mention.RawName)
	v, err, _ := e.resolveGroup.Do(key, func() (interface{}, error) {
		return e.resolveLocked(ctx, mention)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolution), nil
}

// resolveLocked runs with exclusive ownership of the mention's name key.
// It holds the merge lock's read side for its whole span: the candidate
// snapshot, the match, and the follow-up read or create all see a person
// set no merge can mutate underneath them.
func (e *Engine) resolveLocked(ctx context.Context, mention identity.Mention) (*Resolution, error) {
	e.mergeMu.RLock()
	defer e.mergeMu.RUnlock()

	candidates, err := e.loadCandidates(ctx, mention)
	if err != nil {
		return nil, err
	}

	decision := e.matcher.Match(mention, candidates)

	switch decision.Outcome {
	case identity.OutcomeMatched:
		person, err := e.persons.GetPerson(ctx, decision.PersonID)
		if err != nil {
			return nil, fmt.Errorf("failed to load matched person: %w", err)
		}
		return &Resolution{Decision: decision, Person: person}, nil

	case identity.OutcomeNoMatch:
		person, err := e.createFromMention(ctx, mention)
		if err != nil {
			return nil, err
		}
		if e.OnPersonCreated != nil {
			e.OnPersonCreated(person)
		}
		return &Resolution{Decision: decision, Person: person, Created: true}, nil

	default:
		return &Resolution{Decision: decision}, nil
	}
}

// loadCandidates snapshots every person together with the signals the
// matcher scores: current-org membership and social handles. The org hint
// is resolved to an id once, so candidate roles compare by id rather than
// repeated name lookups.
func (e *Engine) loadCandidates(ctx context.Context, mention identity.Mention) ([]identity.Candidate, error) {
	persons, err := e.persons.ListPersons(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}

	hintOrgID := ""
	if mention.OrgName != "" {
		org, err := e.persons.GetOrganizationByName(ctx, mention.OrgName)
		switch {
		case err == nil:
			hintOrgID = org.ID
		case errors.Is(err, storage.ErrNotFound):
			// Unknown org: the hint corroborates nobody.
		default:
			return nil, fmt.Errorf("failed to look up organization %q: %w", mention.OrgName, err)
		}
	}

	candidates := make([]identity.Candidate, 0, len(persons))
	for _, p := range persons {
		cand := identity.Candidate{Person: p}

		if hintOrgID != "" {
			roles, err := e.persons.RolesForPerson(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load roles for %s: %w", p.ID, err)
			}
			for _, r := range roles {
				if r.IsCurrent() && r.OrganizationID == hintOrgID {
					cand.CurrentOrgs = append(cand.CurrentOrgs, mention.OrgName)
					break
				}
			}
		}

		if mention.Handle != "" {
			handles, err := e.persons.HandlesForPerson(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load handles for %s: %w", p.ID, err)
			}
			for _, h := range handles {
				cand.Handles = append(cand.Handles, *h)
			}
		}

		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// createFromMention mints a new person from the mention, attaching the org
// role and social handle hints when present. The org is created on first
// reference.
func (e *Engine) createFromMention(ctx context.Context, mention identity.Mention) (*types.Person, error) {
	now := time.Now().UTC()
	person := &types.Person{
		ID:          NewPersonID(),
		DisplayName: mention.RawName,
		Name:        mention.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.persons.CreatePerson(ctx, person); err != nil {
		return nil, fmt.Errorf("failed to create person: %w", err)
	}

	if mention.OrgName != "" {
		if err := e.attachOrgRole(ctx, person.ID, mention.OrgName); err != nil {
			// The person exists; a failed hint attachment is logged, not fatal.
			log.Printf("WARNING: failed to attach org %q to new person %s: %v", mention.OrgName, person.ID, err)
		}
	}

	if mention.Platform != "" && mention.Handle != "" {
		handle := &types.SocialHandle{
			ID:       NewHandleID(),
			PersonID: person.ID,
			Platform: mention.Platform,
			Handle:   mention.Handle,
		}
		if err := e.persons.AddHandle(ctx, handle); err != nil {
			log.Printf("WARNING: failed to attach handle %s/%s to new person %s: %v",
				mention.Platform, mention.Handle, person.ID, err)
		}
	}

	return person, nil
}

// attachOrgRole finds or creates the named organization and records a
// current role for the person there.
func (e *Engine) attachOrgRole(ctx context.Context, personID, orgName string) error {
	org, err := e.persons.GetOrganizationByName(ctx, orgName)
	if errors.Is(err, storage.ErrNotFound) {
		now := time.Now().UTC()
		org = &types.Organization{
			ID:        NewOrganizationID(),
			Name:      orgName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.persons.CreateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up organization: %w", err)
	}

	role := &types.Role{
		ID:             NewRoleID(),
		PersonID:       personID,
		OrganizationID: org.ID,
		StartedAt:      time.Now().UTC(),
	}
	if err := e.persons.AddRole(ctx, role); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}
