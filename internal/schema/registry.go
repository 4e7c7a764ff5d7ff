package schema

// Schema names used across the pipeline.
const (
	SkimOutput     = "skim_output"
	MinerOutput    = "miner_output"
	RerankOutput   = "rerank_output"
	JudgeOutput    = "judge_output"
	RelationOutput = "relation_output"
	EntityOutput   = "entity_output"
)

var claimTypeEnum = []string{"factual", "causal", "normative", "forecast", "definition"}

var claimTypeSynonyms = map[string]string{
	"fact":         "factual",
	"factoid":      "factual",
	"observation":  "factual",
	"cause":        "causal",
	"causation":    "causal",
	"opinion":      "normative",
	"value":        "normative",
	"prediction":   "forecast",
	"projection":   "forecast",
	"define":       "definition",
	"definitional": "definition",
}

// evidenceObject is the dual-granularity span: exact quote with tight
// timestamps plus an extended window with its own.
func evidenceObject() *Object {
	return &Object{Fields: []Field{
		{Name: "quote", Kind: KindString, Required: true},
		{Name: "quote_t0", Kind: KindNumber, Required: true, Default: 0.0},
		{Name: "quote_t1", Kind: KindNumber, Required: true, Default: 0.0},
		{Name: "context", Kind: KindString},
		{Name: "context_t0", Kind: KindNumber},
		{Name: "context_t1", Kind: KindNumber},
		{
			Name: "context_kind", Kind: KindString,
			Enum:    []string{"extended", "segment"},
			Default: "extended",
			Synonyms: map[string]string{
				"sentence":  "extended",
				"paragraph": "segment",
				"window":    "extended",
				"full":      "segment",
			},
		},
	}}
}

func init() {
	register(SkimOutput, 1, &Object{Fields: []Field{
		{Name: "milestones", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "title", Kind: KindString, Required: true},
			{Name: "t0", Kind: KindNumber, Required: true, Default: 0.0},
			{Name: "t1", Kind: KindNumber, Required: true, Default: 0.0},
		}}},
	}})

	register(MinerOutput, 1, &Object{Fields: []Field{
		{Name: "claims", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "text", Kind: KindString, Required: true},
			{
				Name: "claim_type", Kind: KindString, Required: true,
				Enum: claimTypeEnum, Synonyms: claimTypeSynonyms, Default: "factual",
			},
			{Name: "evidence", Kind: KindArray, Required: true, Items: evidenceObject()},
		}}},
		{Name: "people", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "surface", Kind: KindString, Required: true},
			{
				Name: "entity_type", Kind: KindString, Required: true,
				Enum:    []string{"person", "organization"},
				Default: "person",
				Synonyms: map[string]string{
					"org":         "organization",
					"company":     "organization",
					"institution": "organization",
					"human":       "person",
					"individual":  "person",
				},
			},
		}}},
		{Name: "concepts", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "surface", Kind: KindString, Required: true},
			{Name: "aliases", Kind: KindArray},
			{Name: "evidence", Kind: KindArray, Items: evidenceObject()},
		}}},
		{Name: "jargon", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "surface", Kind: KindString, Required: true},
			{Name: "aliases", Kind: KindArray},
			{Name: "evidence", Kind: KindArray, Items: evidenceObject()},
		}}},
	}})

	register(RerankOutput, 1, &Object{Fields: []Field{
		{Name: "scores", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "idx", Kind: KindInt, Required: true},
			{Name: "score", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
		}}},
	}})

	register(JudgeOutput, 1, &Object{Fields: []Field{
		// An absent verdict defaults to keep; only an explicit reject drops
		// the claim.
		{Name: "keep", Kind: KindBool, Required: true, Default: true},
		{
			Name: "tier", Kind: KindString, Required: true,
			Enum:    []string{"A", "B", "C"},
			Default: "C",
			Synonyms: map[string]string{
				"a": "A", "b": "B", "c": "C",
				"high": "A", "medium": "B", "low": "C",
			},
		},
		{Name: "importance", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
		{Name: "novelty", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
		{Name: "controversy", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
		{Name: "temporality", Kind: KindInt, Required: true, MinInt: 1, MaxInt: 5, Default: 3},
		{Name: "temporality_confidence", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
		{Name: "temporality_rationale", Kind: KindString, Required: true, Default: ""},
	}})

	register(RelationOutput, 1, &Object{Fields: []Field{
		{Name: "relations", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "source_idx", Kind: KindInt, Required: true},
			{Name: "target_idx", Kind: KindInt, Required: true},
			{
				Name: "rel_type", Kind: KindString, Required: true,
				Enum: []string{"supports", "contradicts", "depends_on", "refines"},
				Synonyms: map[string]string{
					"support":    "supports",
					"supporting": "supports",
					"contradict": "contradicts",
					"conflicts":  "contradicts",
					"depends":    "depends_on",
					"requires":   "depends_on",
					"refine":     "refines",
					"elaborates": "refines",
				},
			},
			{Name: "strength", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
			{Name: "rationale", Kind: KindString, Required: true, Default: ""},
		}}},
	}})

	register(EntityOutput, 1, &Object{Fields: []Field{
		{Name: "categories", Kind: KindArray, Required: true, Items: &Object{Fields: []Field{
			{Name: "slug", Kind: KindString, Required: true},
			{Name: "ontology_id", Kind: KindString},
			{Name: "claim_idxs", Kind: KindArray, Required: true},
			{Name: "relevance", Kind: KindNumber, Required: true, Clamp01: true, Default: 0.0},
		}}},
	}})
}
