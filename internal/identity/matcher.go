package identity

import (
	"fmt"
	"strings"

	"github.com/mosswell/kith/pkg/types"
)

// Outcome is the kind of decision the matcher reached.
type Outcome string

const (
	// OutcomeMatched means exactly one existing person crossed the match
	// threshold decisively.
	OutcomeMatched Outcome = "matched"

	// OutcomeNoMatch means no existing person scored above the no-match
	// floor; the mention refers to a new person.
	OutcomeNoMatch Outcome = "no_match"

	// OutcomeAmbiguous means one or more persons scored in between the
	// thresholds, or several scored too close to call. Requires human
	// confirmation before any mutation.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// Decision is the matcher's verdict for one mention.
type Decision struct {
	Outcome      Outcome            `json:"outcome"`
	PersonID     string             `json:"person_id,omitempty"`     // set when Outcome is OutcomeMatched
	CandidateIDs []string           `json:"candidate_ids,omitempty"` // set when Outcome is OutcomeAmbiguous, best first
	Scores       map[string]float64 `json:"scores,omitempty"`        // per-person scores above the no-match floor
}

// Mention is an unresolved reference to a person, parsed from free text
// plus whatever auxiliary signals the surrounding text provided.
type Mention struct {
	Name     types.NameParts
	RawName  string // the display name as written
	OrgName  string // optional organization hint
	Platform string // optional social handle hint
	Handle   string
	Context  string // optional raw mention context, unused by scoring today
}

// Candidate is one existing person plus the signals the matcher scores
// against: the names of organizations where the person currently holds a
// role, and their social handles.
type Candidate struct {
	Person      *types.Person
	CurrentOrgs []string
	Handles     []types.SocialHandle
}

// Config holds the matcher's signal weights and decision thresholds.
// Thresholds are explicit configuration, never constants inside the
// scoring code.
type Config struct {
	// Name-signal weights. These are tiers, not additive: a candidate
	// receives the strongest applicable name signal, because an exact
	// canonical match necessarily also satisfies the weaker tiers.
	ExactNameWeight   float64 // exact canonical display-name equality
	FullNameWeight    float64 // first + last equality (case-insensitive)
	PartialNameWeight float64 // first equality with one side's last name empty
	NicknameWeight    float64 // nickname-set intersection

	// Corroborating signals, added on top of the name tier.
	OrgWeight    float64 // shared current-organization membership
	HandleWeight float64 // shared (platform, handle) pair

	// MatchThreshold is the score at or above which a single clear winner
	// is a match. NoMatchThreshold is the floor below which a candidate is
	// ignored entirely. Scores in between are ambiguous.
	MatchThreshold   float64
	NoMatchThreshold float64

	// CloseScoreMargin: when the runner-up is within this margin of the
	// winner, the decision is ambiguous even if the winner crossed the
	// match threshold.
	CloseScoreMargin float64
}

// DefaultConfig returns the tuned default weights and thresholds.
func DefaultConfig() Config {
	return Config{
		ExactNameWeight:   0.9,
		FullNameWeight:    0.8,
		PartialNameWeight: 0.6,
		NicknameWeight:    0.4,
		OrgWeight:         0.2,
		HandleWeight:      0.8,
		MatchThreshold:    0.75,
		NoMatchThreshold:  0.35,
		CloseScoreMargin:  0.1,
	}
}

// Validate checks threshold ordering.
func (c *Config) Validate() error {
	if c.NoMatchThreshold < 0 {
		return fmt.Errorf("NoMatchThreshold must be >= 0, got %v", c.NoMatchThreshold)
	}
	if c.MatchThreshold <= c.NoMatchThreshold {
		return fmt.Errorf("MatchThreshold (%v) must be above NoMatchThreshold (%v)",
			c.MatchThreshold, c.NoMatchThreshold)
	}
	if c.CloseScoreMargin < 0 {
		return fmt.Errorf("CloseScoreMargin must be >= 0, got %v", c.CloseScoreMargin)
	}
	return nil
}

// Matcher scores mentions against a snapshot of existing persons. It is a
// pure decision function: it performs no reads or writes of its own.
type Matcher struct {
	config Config
}

// NewMatcher creates a matcher with the given configuration.
func NewMatcher(config Config) (*Matcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher config: %w", err)
	}
	return &Matcher{config: config}, nil
}

// Match scores the mention against every candidate and decides.
//
// Decision rules: the highest score at or above MatchThreshold wins,
// unless a runner-up is within CloseScoreMargin; any score between the
// thresholds, or a close race, is ambiguous; everything below
// NoMatchThreshold is discarded. No candidates above the floor means a
// new person.
func (m *Matcher) Match(mention Mention, candidates []Candidate) Decision {
	type scored struct {
		id    string
		score float64
	}

	scores := make(map[string]float64)
	var ranked []scored

	for _, cand := range candidates {
		if cand.Person == nil {
			continue
		}
		score := m.score(mention, cand)
		if score < m.config.NoMatchThreshold {
			continue
		}
		scores[cand.Person.ID] = score
		ranked = append(ranked, scored{cand.Person.ID, score})
	}

	if len(ranked) == 0 {
		return Decision{Outcome: OutcomeNoMatch, Scores: scores}
	}

	// Highest score first. Person order in the snapshot (creation time)
	// breaks exact ties deterministically via stable insertion order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	best := ranked[0]
	closeRace := len(ranked) > 1 && best.score-ranked[1].score <= m.config.CloseScoreMargin

	if best.score >= m.config.MatchThreshold && !closeRace {
		return Decision{Outcome: OutcomeMatched, PersonID: best.id, Scores: scores}
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	return Decision{Outcome: OutcomeAmbiguous, CandidateIDs: ids, Scores: scores}
}

// score computes the weighted similarity between one mention and one
// candidate: the strongest applicable name tier plus corroborating
// signals.
func (m *Matcher) score(mention Mention, cand Candidate) float64 {
	score := m.nameScore(mention, cand.Person)

	if mention.OrgName != "" {
		for _, org := range cand.CurrentOrgs {
			if strings.EqualFold(org, mention.OrgName) {
				score += m.config.OrgWeight
				break
			}
		}
	}

	if mention.Platform != "" && mention.Handle != "" {
		for _, h := range cand.Handles {
			if strings.EqualFold(h.Platform, mention.Platform) && strings.EqualFold(h.Handle, mention.Handle) {
				score += m.config.HandleWeight
				break
			}
		}
	}

	return score
}

// nameScore returns the strongest applicable name-signal weight.
func (m *Matcher) nameScore(mention Mention, person *types.Person) float64 {
	if mention.RawName != "" && strings.EqualFold(mention.RawName, person.DisplayName) {
		return m.config.ExactNameWeight
	}

	firstEq := mention.Name.FirstName != "" &&
		strings.EqualFold(mention.Name.FirstName, person.Name.FirstName)

	if firstEq && mention.Name.LastName != "" &&
		strings.EqualFold(mention.Name.LastName, person.Name.LastName) {
		return m.config.FullNameWeight
	}

	// "Felix" vs "Felix Chen": same first name, one side has no last name
	// yet. Same person pending confirmation or corroboration.
	if firstEq && (mention.Name.LastName == "" || person.Name.LastName == "") {
		return m.config.PartialNameWeight
	}

	if nicknamesIntersect(mention.Name.Nicknames, person.Name.Nicknames) ||
		nicknameMatchesFirst(mention.Name, person.Name) {
		return m.config.NicknameWeight
	}

	return 0
}

// nicknamesIntersect reports whether the two nickname sets share an entry,
// case-insensitively.
func nicknamesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// nicknameMatchesFirst covers mentions written by nickname alone:
// a mention's first name matching a known nickname, or vice versa.
func nicknameMatchesFirst(mention, person types.NameParts) bool {
	for _, nick := range person.Nicknames {
		if strings.EqualFold(mention.FirstName, nick) {
			return true
		}
	}
	for _, nick := range mention.Nicknames {
		if strings.EqualFold(person.FirstName, nick) {
			return true
		}
	}
	return false
}

// NormalizeNameKey produces the serialization key used to single-flight
// concurrent resolutions of the same name: lowercase, whitespace-collapsed
// first+last (falling back to the full normalized string for single-token
// names).
func NormalizeNameKey(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
