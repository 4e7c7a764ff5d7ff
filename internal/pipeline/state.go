// Package pipeline holds the extraction stages. Each stage is a transform
// over State: it reads what earlier stages left, calls the invocation layer,
// and returns typed records plus per-unit skip counts. Stages never write to
// the database; the job layer commits outputs and checkpoints State.
package pipeline

// Span is one evidence link at two granularities: the exact quote with tight
// timestamps and a wider context window with its own.
type Span struct {
	Quote       string  `json:"quote"`
	QuoteT0     float64 `json:"quote_t0"`
	QuoteT1     float64 `json:"quote_t1"`
	Context     string  `json:"context,omitempty"`
	ContextT0   float64 `json:"context_t0,omitempty"`
	ContextT1   float64 `json:"context_t1,omitempty"`
	ContextKind string  `json:"context_kind,omitempty"`
}

// MilestoneCand is a skimmer chapter boundary before persistence.
type MilestoneCand struct {
	Idx         int     `json:"idx"`
	Title       string  `json:"title"`
	T0          float64 `json:"t0"`
	T1          float64 `json:"t1"`
	SegmentFrom int     `json:"segment_from"`
	SegmentTo   int     `json:"segment_to"`
}

// Candidate is a raw mined claim, pre-deduplication.
type Candidate struct {
	Text       string `json:"text"`
	ClaimType  string `json:"claim_type"`
	SegmentIdx int    `json:"segment_idx"`
	Evidence   []Span `json:"evidence"`
}

type PersonMention struct {
	Surface    string `json:"surface"`
	EntityType string `json:"entity_type"`
}

// TermMention covers concept and jargon candidates.
type TermMention struct {
	Surface  string   `json:"surface"`
	Aliases  []string `json:"aliases,omitempty"`
	Evidence []Span   `json:"evidence,omitempty"`
}

// Cluster is a consolidated claim: all near-duplicate candidates merged
// under a deterministic id. Rerank and judge annotate it in place.
type Cluster struct {
	ClusterID      string  `json:"cluster_id"`
	Text           string  `json:"text"`
	ClaimType      string  `json:"claim_type"`
	FirstMentionT0 float64 `json:"first_mention_t0"`
	Members        int     `json:"members"`
	Evidence       []Span  `json:"evidence"`

	RerankScore float64 `json:"rerank_score"`
	Kept        bool    `json:"kept"`
	Borderline  bool    `json:"borderline"`

	Judgement *Judgement `json:"judgement,omitempty"`
}

// Judgement is the flagship verdict for one claim. Routed, not universal:
// claims with unambiguous rerank scores carry a heuristic judgement instead.
type Judgement struct {
	Tier                  string  `json:"tier"`
	Importance            float64 `json:"importance"`
	Novelty               float64 `json:"novelty"`
	Controversy           float64 `json:"controversy"`
	Temporality           int     `json:"temporality"`
	TemporalityConfidence float64 `json:"temporality_confidence"`
	TemporalityRationale  string  `json:"temporality_rationale"`
	Heuristic             bool    `json:"heuristic,omitempty"`
}

type RelationCand struct {
	SourceCluster string  `json:"source_cluster"`
	TargetCluster string  `json:"target_cluster"`
	RelType       string  `json:"rel_type"`
	Strength      float64 `json:"strength"`
	Rationale     string  `json:"rationale"`
}

// State is the checkpointable pipeline state for one episode run. It
// round-trips through JSON in the job run's result column, so a restarted
// worker picks up exactly where the last commit left off.
type State struct {
	Milestones []MilestoneCand `json:"milestones,omitempty"`

	// DoneWindows records completed miner windows by starting segment idx,
	// the mid-stage checkpoint that makes the miner resumable.
	DoneWindows map[int]bool    `json:"done_windows,omitempty"`
	Candidates  []Candidate     `json:"candidates,omitempty"`
	People      []PersonMention `json:"people,omitempty"`
	Concepts    []TermMention   `json:"concepts,omitempty"`
	Jargon      []TermMention   `json:"jargon,omitempty"`

	Clusters []Cluster `json:"clusters,omitempty"`
	Cutoff   float64   `json:"cutoff,omitempty"`

	Relations []RelationCand `json:"relations,omitempty"`

	// Skipped counts unit-scoped failures per stage.
	Skipped map[string]int `json:"skipped,omitempty"`
}

func NewState() *State {
	return &State{
		DoneWindows: map[int]bool{},
		Skipped:     map[string]int{},
	}
}

func (s *State) Skip(stage string) {
	if s.Skipped == nil {
		s.Skipped = map[string]int{}
	}
	s.Skipped[stage]++
}

func (s *State) SkippedTotal() int {
	n := 0
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// Kept returns the clusters that survived the rerank cutoff, in first
// mention order.
func (s *State) KeptClusters() []*Cluster {
	var out []*Cluster
	for i := range s.Clusters {
		if s.Clusters[i].Kept {
			out = append(out, &s.Clusters[i])
		}
	}
	return out
}
