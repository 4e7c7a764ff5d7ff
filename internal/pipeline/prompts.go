package pipeline

import (
	"fmt"
	"strings"

	"github.com/podsight/backend/internal/domain"
)

// Structured-output example types. The provider generates its JSON schema
// from these, and internal/schema validates the raw text against the same
// shapes, so the two layers stay in lockstep.

type spanOut struct {
	Quote       string  `json:"quote"`
	QuoteT0     float64 `json:"quote_t0"`
	QuoteT1     float64 `json:"quote_t1"`
	Context     string  `json:"context"`
	ContextT0   float64 `json:"context_t0"`
	ContextT1   float64 `json:"context_t1"`
	ContextKind string  `json:"context_kind"`
}

type skimOut struct {
	Milestones []struct {
		Title string  `json:"title"`
		T0    float64 `json:"t0"`
		T1    float64 `json:"t1"`
	} `json:"milestones"`
}

type minerOut struct {
	Claims []struct {
		Text      string    `json:"text"`
		ClaimType string    `json:"claim_type"`
		Evidence  []spanOut `json:"evidence"`
	} `json:"claims"`
	People []struct {
		Surface    string `json:"surface"`
		EntityType string `json:"entity_type"`
	} `json:"people"`
	Concepts []struct {
		Surface  string    `json:"surface"`
		Aliases  []string  `json:"aliases"`
		Evidence []spanOut `json:"evidence"`
	} `json:"concepts"`
	Jargon []struct {
		Surface  string    `json:"surface"`
		Aliases  []string  `json:"aliases"`
		Evidence []spanOut `json:"evidence"`
	} `json:"jargon"`
}

type rerankOut struct {
	Scores []struct {
		Idx   int     `json:"idx"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

type judgeOut struct {
	Keep                  bool    `json:"keep"`
	Tier                  string  `json:"tier"`
	Importance            float64 `json:"importance"`
	Novelty               float64 `json:"novelty"`
	Controversy           float64 `json:"controversy"`
	Temporality           int     `json:"temporality"`
	TemporalityConfidence float64 `json:"temporality_confidence"`
	TemporalityRationale  string  `json:"temporality_rationale"`
}

type relationOut struct {
	Relations []struct {
		SourceIdx int     `json:"source_idx"`
		TargetIdx int     `json:"target_idx"`
		RelType   string  `json:"rel_type"`
		Strength  float64 `json:"strength"`
		Rationale string  `json:"rationale"`
	} `json:"relations"`
}

type entityOut struct {
	Categories []struct {
		Slug       string  `json:"slug"`
		OntologyID string  `json:"ontology_id"`
		ClaimIdxs  []int   `json:"claim_idxs"`
		Relevance  float64 `json:"relevance"`
	} `json:"categories"`
}

const skimSystem = `You segment podcast transcripts into coarse chapters.
Given speaker-tagged segments with timestamps, return milestones: short
descriptive titles with start and end times covering the major topic shifts.
Return JSON only.`

const minerSystem = `You extract claims and entities from podcast transcript
segments. A claim is a single self-contained assertion. For every claim give
evidence: the exact verbatim quote with its tight timestamps plus the wider
context window with its own timestamps. Also list people or organizations
mentioned, key concepts, and domain jargon. Return JSON only.`

const rerankSystem = `You score claims for salience within one podcast
episode. For each numbered claim return its index and a relevance score in
[0,1]: how much a listener skimming this episode would want this claim
surfaced. Return JSON only.`

const judgeSystem = `You are the final evaluator for one extracted claim.
First decide keep: true to surface the claim, false to reject it as not
worth surfacing. For kept claims assign a confidence tier (A strongest, B,
C), importance/novelty/controversy scores in [0,1], and a temporality rating
from 1 (immediate, true only now) to 5 (timeless) with a confidence and a
one-sentence rationale. Return JSON only.`

const relationSystem = `You identify relations between claims from the same
episode. For each candidate pair decide whether the first claim supports,
contradicts, depends_on, or refines the second, with a strength in [0,1] and
a short rationale. Omit pairs with no meaningful relation. Return JSON only.`

const entitySystem = `You assign topic categories to episode claims. Return
categories as short kebab-case slugs with the indexes of the claims that
support each category and a relevance score in [0,1]. Use an ontology id
only when a well-known external vocabulary term applies. Return JSON only.`

func renderSegments(segments []*domain.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "[%d] %.1f-%.1f %s: %s\n", s.Idx, s.T0, s.T1, s.Speaker, s.Text)
	}
	return b.String()
}

func skimPrompt(segments []*domain.Segment) string {
	return "Transcript segments:\n\n" + renderSegments(segments) +
		"\nReturn the chapter milestones for this span."
}

func minePrompt(segments []*domain.Segment) string {
	return "Transcript segments:\n\n" + renderSegments(segments) +
		"\nExtract claims, people, concepts and jargon from these segments."
}

func rerankPrompt(clusters []*Cluster) string {
	var b strings.Builder
	b.WriteString("Claims from one episode:\n\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "[%d] (%s, t=%.1f) %s\n", i, c.ClaimType, c.FirstMentionT0, c.Text)
	}
	b.WriteString("\nScore each claim's salience.")
	return b.String()
}

func judgePrompt(c *Cluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim (%s): %s\n\nEvidence:\n", c.ClaimType, c.Text)
	for _, ev := range c.Evidence {
		fmt.Fprintf(&b, "- %.1f-%.1f %q\n", ev.QuoteT0, ev.QuoteT1, ev.Quote)
		if ev.Context != "" {
			fmt.Fprintf(&b, "  context: %s\n", ev.Context)
		}
	}
	b.WriteString("\nEvaluate this claim.")
	return b.String()
}

func relationPrompt(clusters []*Cluster, pairs [][2]int) string {
	var b strings.Builder
	b.WriteString("Claims:\n\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "[%d] %s\n", i, c.Text)
	}
	b.WriteString("\nCandidate pairs (source_idx, target_idx):\n")
	for _, p := range pairs {
		fmt.Fprintf(&b, "- (%d, %d)\n", p[0], p[1])
	}
	b.WriteString("\nReturn the relations that hold.")
	return b.String()
}

func entityPrompt(clusters []*Cluster) string {
	var b strings.Builder
	b.WriteString("Episode claims:\n\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "[%d] %s\n", i, c.Text)
	}
	b.WriteString("\nAssign topic categories.")
	return b.String()
}
