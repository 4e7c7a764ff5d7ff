package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/schema"
)

// ResolvePeople normalizes person/org mentions to canonical forms. Pure
// string work; first-seen surface wins, longer surfaces refine shorter ones
// of the same canonical key.
func ResolvePeople(episodeID uuid.UUID, mentions []PersonMention) []*domain.Person {
	byCanon := map[string]*domain.Person{}
	var order []string
	for _, m := range mentions {
		canon := normalizeText(m.Surface)
		if canon == "" {
			continue
		}
		et := m.EntityType
		if et != "person" && et != "organization" {
			et = "person"
		}
		if p, ok := byCanon[canon]; ok {
			if len(m.Surface) > len(p.Surface) {
				p.Surface = m.Surface
			}
			continue
		}
		byCanon[canon] = &domain.Person{
			ID:         uuid.New(),
			EpisodeID:  episodeID,
			Canonical:  canon,
			Surface:    strings.TrimSpace(m.Surface),
			EntityType: et,
		}
		order = append(order, canon)
	}
	sort.Strings(order)
	out := make([]*domain.Person, 0, len(order))
	for _, c := range order {
		out = append(out, byCanon[c])
	}
	return out
}

// resolvedTerm is a concept or jargon mention after alias dedupe.
type resolvedTerm struct {
	Canonical string
	Surface   string
	Aliases   []string
	Evidence  []Span
}

// ResolveTerms dedupes concept/jargon mentions by alias matching: a mention
// whose canonical form matches another mention's alias folds into it.
func ResolveTerms(mentions []TermMention) []resolvedTerm {
	byCanon := map[string]*resolvedTerm{}
	aliasOwner := map[string]string{} // normalized alias -> canonical
	var order []string

	for _, m := range mentions {
		canon := normalizeText(m.Surface)
		if canon == "" {
			continue
		}
		if owner, ok := aliasOwner[canon]; ok {
			canon = owner
		}
		t, ok := byCanon[canon]
		if !ok {
			t = &resolvedTerm{Canonical: canon, Surface: strings.TrimSpace(m.Surface)}
			byCanon[canon] = t
			order = append(order, canon)
		}
		t.Evidence = append(t.Evidence, m.Evidence...)
		for _, a := range m.Aliases {
			na := normalizeText(a)
			if na == "" || na == canon {
				continue
			}
			if _, taken := aliasOwner[na]; !taken {
				aliasOwner[na] = canon
			}
			if !containsString(t.Aliases, a) {
				t.Aliases = append(t.Aliases, a)
			}
		}
	}

	sort.Strings(order)
	out := make([]resolvedTerm, 0, len(order))
	for _, c := range order {
		t := byCanon[c]
		t.Evidence = mergeSpans(t.Evidence)
		out = append(out, *t)
	}
	return out
}

func ConceptRows(episodeID uuid.UUID, terms []resolvedTerm) []*domain.Concept {
	out := make([]*domain.Concept, 0, len(terms))
	for _, t := range terms {
		out = append(out, &domain.Concept{
			ID:        uuid.New(),
			EpisodeID: episodeID,
			Canonical: t.Canonical,
			Surface:   t.Surface,
			Aliases:   encodeJSON(t.Aliases),
			Evidence:  encodeJSON(t.Evidence),
		})
	}
	return out
}

func JargonRows(episodeID uuid.UUID, terms []resolvedTerm) []*domain.Jargon {
	out := make([]*domain.Jargon, 0, len(terms))
	for _, t := range terms {
		out = append(out, &domain.Jargon{
			ID:        uuid.New(),
			EpisodeID: episodeID,
			Canonical: t.Canonical,
			Surface:   t.Surface,
			Aliases:   encodeJSON(t.Aliases),
			Evidence:  encodeJSON(t.Evidence),
		})
	}
	return out
}

// CategoryAssignment ties a category to the kept clusters that support it.
type CategoryAssignment struct {
	Slug       string
	OntologyID string
	Relevance  float64
	ClusterIDs []string
}

// AssignCategories makes one eval call over the kept claims and derives
// coverage confidence from supporting-claim counts.
func AssignCategories(ctx context.Context, env *Env, kept []*Cluster) ([]CategoryAssignment, error) {
	if len(kept) == 0 {
		return nil, nil
	}
	resp, err := env.Invoker.Invoke(ctx, llm.Request{
		Pool:      llm.PoolEval,
		Stage:     "entities",
		Model:     env.Cfg.EntityModel,
		System:    entitySystem,
		Prompt:    entityPrompt(kept),
		Schema:    &llm.SchemaSpec{Name: schema.EntityOutput, Example: entityOut{}},
		JobID:     env.JobID,
		EpisodeID: env.EpisodeID,
		Validate:  validateHook(schema.EntityOutput, env),
	})
	if err != nil {
		return nil, err
	}
	payload, _, err := schema.Process(schema.EntityOutput, resp.Text, env.Log)
	if err != nil {
		return nil, err
	}
	typed, err := decodeInto[entityOut](payload)
	if err != nil {
		return nil, err
	}
	var out []CategoryAssignment
	for _, c := range typed.Categories {
		slug := slugify(c.Slug)
		if slug == "" {
			continue
		}
		a := CategoryAssignment{Slug: slug, OntologyID: c.OntologyID, Relevance: clamp01(c.Relevance)}
		for _, idx := range c.ClaimIdxs {
			if idx >= 0 && idx < len(kept) {
				a.ClusterIDs = append(a.ClusterIDs, kept[idx].ClusterID)
			}
		}
		if len(a.ClusterIDs) == 0 {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// CategoryRows computes the coverage confidence and frequency scores from
// supporting-claim counts: confidence saturates with more support,
// frequency is the covered fraction of the episode's claims.
func CategoryRows(episodeID uuid.UUID, assigns []CategoryAssignment, totalClaims int) []*domain.Category {
	out := make([]*domain.Category, 0, len(assigns))
	for _, a := range assigns {
		n := float64(len(a.ClusterIDs))
		freq := 0.0
		if totalClaims > 0 {
			freq = n / float64(totalClaims)
		}
		out = append(out, &domain.Category{
			ID:                 uuid.New(),
			EpisodeID:          episodeID,
			Slug:               a.Slug,
			OntologyID:         a.OntologyID,
			CoverageConfidence: n / (n + 2),
			Frequency:          freq,
			ClaimIDs:           encodeJSON(a.ClusterIDs),
		})
	}
	return out
}

func slugify(s string) string {
	return strings.Join(strings.Fields(normalizeText(s)), "-")
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func encodeJSON(v any) datatypes.JSON {
	b, _ := json.Marshal(v)
	return datatypes.JSON(b)
}
