package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/pkg/logger"
)

// fakeCaller serves canned responses per stage, in order. Safe under stage
// fan-out.
type fakeCaller struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: map[string][]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeCaller) Invoke(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Stage]++
	if err := f.errs[req.Stage]; err != nil {
		return llm.Response{}, err
	}
	q := f.responses[req.Stage]
	if len(q) == 0 {
		return llm.Response{}, fmt.Errorf("no canned response for stage %s", req.Stage)
	}
	f.responses[req.Stage] = q[1:]
	return llm.Response{Text: q[0]}, nil
}

// gaugeCaller tracks in-flight invocation concurrency.
type gaugeCaller struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	delay       time.Duration
	resp        string
}

func (g *gaugeCaller) Invoke(_ context.Context, _ llm.Request) (llm.Response, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()
	time.Sleep(g.delay)
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return llm.Response{Text: g.resp}, nil
}

// fakeEmbedder maps each input text to a fixed vector.
type fakeEmbedder struct {
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, ok := f.vecs[in]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", in)
		}
		out[i] = v
	}
	return out, nil
}

func testEnv(caller *fakeCaller, emb *fakeEmbedder) *Env {
	return &Env{
		Log:      logger.NewNop(),
		Invoker:  caller,
		Embedder: emb,
		Cfg:      DefaultConfig(),
	}
}

func seg(idx int, t0, t1 float64, text string) *domain.Segment {
	return &domain.Segment{Idx: idx, Speaker: "Host", T0: t0, T1: t1, Text: text}
}

func TestWindows(t *testing.T) {
	var segs []*domain.Segment
	for i := 0; i < 10; i++ {
		segs = append(segs, seg(i, float64(i*10), float64(i*10+9), "text"))
	}
	wins := Windows(segs, 4)
	if len(wins) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(wins))
	}
	if len(wins[0]) != 4 || len(wins[2]) != 2 {
		t.Fatalf("unexpected window sizes %d/%d", len(wins[0]), len(wins[2]))
	}
	if wins[1][0].Idx != 4 {
		t.Fatalf("expected second window to start at idx 4, got %d", wins[1][0].Idx)
	}
}

func TestMineWindowDropsUngroundedClaims(t *testing.T) {
	caller := newFakeCaller()
	caller.responses["mine"] = []string{`{
		"claims": [
			{"text": "Interest rates drive startup funding cycles",
			 "claim_type": "causal",
			 "evidence": [{"quote": "rates drive funding", "quote_t0": 12.0, "quote_t1": 15.0}]},
			{"text": "Claim with no grounding", "claim_type": "factual", "evidence": []},
			{"text": "Claim with broken timestamps", "claim_type": "factual",
			 "evidence": [{"quote": "backwards", "quote_t0": 20.0, "quote_t1": 5.0}]}
		],
		"people": [{"surface": "Paul Graham", "entity_type": "person"}],
		"concepts": [{"surface": "venture capital", "aliases": ["VC"]}],
		"jargon": []
	}`}
	env := testEnv(caller, nil)

	win := []*domain.Segment{seg(0, 10, 20, "rates drive funding in every cycle")}
	res, err := MineWindow(context.Background(), env, win)
	if err != nil {
		t.Fatalf("MineWindow failed: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 grounded candidate, got %d", len(res.Candidates))
	}
	cand := res.Candidates[0]
	if cand.ClaimType != "causal" {
		t.Fatalf("expected causal claim, got %s", cand.ClaimType)
	}
	// Model gave no context, so the segment backfills it.
	if cand.Evidence[0].Context == "" || cand.Evidence[0].ContextKind != string(domain.ContextSegment) {
		t.Fatalf("expected segment context backfill, got %+v", cand.Evidence[0])
	}
	if len(res.People) != 1 || res.People[0].Surface != "Paul Graham" {
		t.Fatalf("unexpected people %+v", res.People)
	}
	if len(res.Concepts) != 1 || res.Concepts[0].Aliases[0] != "VC" {
		t.Fatalf("unexpected concepts %+v", res.Concepts)
	}
}

func TestMineWindowMalformedResponse(t *testing.T) {
	caller := newFakeCaller()
	caller.responses["mine"] = []string{`the model rambled instead of emitting JSON`}
	env := testEnv(caller, nil)

	_, err := MineWindow(context.Background(), env, []*domain.Segment{seg(0, 0, 10, "text")})
	if err == nil {
		t.Fatal("expected error for malformed response")
	}
}

func TestDedupMergesNearDuplicates(t *testing.T) {
	episodeID := uuid.New()
	emb := &fakeEmbedder{vecs: map[string][]float32{
		"Rates drive funding cycles":     {1, 0, 0},
		"Funding cycles follow rates":    {0.999, 0.045, 0},
		"Transformers replaced RNN nets": {0, 1, 0},
	}}
	env := testEnv(nil, emb)

	cands := []Candidate{
		{Text: "Funding cycles follow rates", ClaimType: "causal",
			Evidence: []Span{{Quote: "cycles follow rates", QuoteT0: 300, QuoteT1: 305}}},
		{Text: "Rates drive funding cycles", ClaimType: "causal",
			Evidence: []Span{{Quote: "rates drive funding", QuoteT0: 12, QuoteT1: 15}}},
		{Text: "Transformers replaced RNN nets", ClaimType: "factual",
			Evidence: []Span{{Quote: "transformers replaced RNNs", QuoteT0: 500, QuoteT1: 504}}},
	}
	clusters, err := Dedup(context.Background(), env, episodeID, cands)
	if err != nil {
		t.Fatalf("Dedup failed: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	merged := clusters[0]
	if merged.Members != 2 {
		t.Fatalf("expected 2 members in merged cluster, got %d", merged.Members)
	}
	// Chronological sort makes the t=12 candidate the first member.
	if merged.Text != "Rates drive funding cycles" {
		t.Fatalf("expected earliest candidate as head, got %q", merged.Text)
	}
	if merged.FirstMentionT0 != 12 {
		t.Fatalf("expected first mention at 12, got %f", merged.FirstMentionT0)
	}
	if len(merged.Evidence) != 2 || merged.Evidence[0].QuoteT0 > merged.Evidence[1].QuoteT0 {
		t.Fatalf("expected 2 evidence spans in t0 order, got %+v", merged.Evidence)
	}
	if merged.ClusterID != ClusterID(episodeID, "Rates drive funding cycles") {
		t.Fatalf("cluster id not derived from first member text")
	}
}

func TestClusterIDStable(t *testing.T) {
	episodeID := uuid.New()
	a := ClusterID(episodeID, "Rates Drive Funding!")
	b := ClusterID(episodeID, "rates   drive funding")
	if a != b {
		t.Fatalf("normalization should make ids equal: %s vs %s", a, b)
	}
	if a == ClusterID(uuid.New(), "rates drive funding") {
		t.Fatal("different episodes must not collide")
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
}

func TestAdaptiveCutoff(t *testing.T) {
	cases := []struct {
		name       string
		scores     []float64
		percentile float64
		want       float64
	}{
		{"empty", nil, 0.35, 0},
		{"single", []float64{0.7}, 0.35, 0.7},
		// Percentile of a flat distribution wins; no gap to elbow on.
		{"flat", []float64{0.5, 0.5, 0.5, 0.5}, 0.5, 0.5},
		// Clear bimodal split: elbow midpoint beats the percentile.
		{"bimodal", []float64{0.1, 0.15, 0.8, 0.9}, 0.25, 0.475},
		// High percentile already above the elbow.
		{"percentile_wins", []float64{0.1, 0.2, 0.3, 0.85, 0.9}, 0.8, 0.9},
	}
	for _, tc := range cases {
		got := AdaptiveCutoff(tc.scores, tc.percentile)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: expected %f, got %f", tc.name, tc.want, got)
		}
	}
}

func TestRerankAdaptiveKeepAndBorderline(t *testing.T) {
	caller := newFakeCaller()
	caller.responses["rerank"] = []string{
		`{"scores": [{"idx": 0, "score": 0.2}, {"idx": 1, "score": 0.4},
		             {"idx": 2, "score": 0.45}, {"idx": 3, "score": 0.5},
		             {"idx": 4, "score": 0.55}, {"idx": 5, "score": 0.6}]}`,
	}
	env := testEnv(caller, nil)
	env.Cfg.RerankBatch = 10
	env.Cfg.KeepPercentile = 0.5
	env.Cfg.BorderlineBand = 0.08

	clusters := make([]Cluster, 6)
	for i := range clusters {
		clusters[i] = Cluster{ClusterID: fmt.Sprintf("%016x", i), Text: fmt.Sprintf("claim %d", i)}
	}
	cutoff, skipped, err := Rerank(context.Background(), env, clusters)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
	// Median 0.5 beats the elbow midpoint 0.3 of the 0.2..0.4 gap.
	if math.Abs(cutoff-0.5) > 1e-9 {
		t.Fatalf("expected cutoff 0.5, got %f", cutoff)
	}
	if clusters[0].Kept || clusters[1].Kept {
		t.Fatal("low scorers should be dropped")
	}
	if clusters[1].Borderline {
		t.Fatal("0.4 is outside the band at cutoff 0.5")
	}
	// 0.45 misses the cutoff but sits in the band, so the judge decides.
	if !clusters[2].Kept || !clusters[2].Borderline {
		t.Fatalf("borderline miss should stay in play: %+v", clusters[2])
	}
	if !clusters[5].Kept || clusters[5].Borderline {
		t.Fatalf("0.6 should be an unambiguous keep: %+v", clusters[5])
	}
}

func TestRerankAllBatchesFailIsFatal(t *testing.T) {
	caller := newFakeCaller()
	caller.errs["rerank"] = errors.New("provider down")
	env := testEnv(caller, nil)

	clusters := []Cluster{{ClusterID: "c1", Text: "claim"}}
	_, _, err := Rerank(context.Background(), env, clusters)
	if err == nil {
		t.Fatal("expected fatal error when nothing scored")
	}
}

func TestRerankFansOutBatches(t *testing.T) {
	caller := &gaugeCaller{delay: 20 * time.Millisecond, resp: `{"scores":[{"idx":0,"score":0.5}]}`}
	env := &Env{Log: logger.NewNop(), Invoker: caller, Cfg: DefaultConfig()}
	env.Cfg.RerankBatch = 1
	env.EvalWorkers = 4
	var beats atomic.Int64
	env.Heartbeat = func() { beats.Add(1) }

	clusters := make([]Cluster, 12)
	for i := range clusters {
		clusters[i] = Cluster{ClusterID: fmt.Sprintf("%016x", i), Text: fmt.Sprintf("claim %d", i)}
	}
	_, skipped, err := Rerank(context.Background(), env, clusters)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
	if caller.maxInFlight < 2 {
		t.Fatalf("batches never overlapped, max in-flight %d", caller.maxInFlight)
	}
	if caller.maxInFlight > 4 {
		t.Fatalf("fan-out exceeded the eval bound: %d", caller.maxInFlight)
	}
	if beats.Load() != 12 {
		t.Fatalf("expected a heartbeat per batch, got %d", beats.Load())
	}
}

func TestJudgeRoutesOnlyBorderline(t *testing.T) {
	caller := newFakeCaller()
	caller.responses["judge"] = []string{`{
		"tier": "A", "importance": 0.9, "novelty": 0.7, "controversy": 0.2,
		"temporality": 4, "temporality_confidence": 0.8,
		"temporality_rationale": "tied to current rate environment"
	}`}
	env := testEnv(caller, nil)
	env.Cfg.HighBar = 0.85

	clusters := []Cluster{
		{ClusterID: "a", RerankScore: 0.9, Kept: true},                   // unambiguous keep
		{ClusterID: "b", RerankScore: 0.4, Kept: true, Borderline: true}, // judge call
		{ClusterID: "c", RerankScore: 0.1},                               // dropped
	}
	skipped, err := JudgeClusters(context.Background(), env, clusters)
	if err != nil {
		t.Fatalf("JudgeClusters failed: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
	if caller.calls["judge"] != 1 {
		t.Fatalf("expected exactly 1 flagship call, got %d", caller.calls["judge"])
	}
	if j := clusters[0].Judgement; j == nil || !j.Heuristic || j.Tier != "A" {
		t.Fatalf("unambiguous keep should get heuristic tier A: %+v", clusters[0].Judgement)
	}
	if j := clusters[1].Judgement; j == nil || j.Heuristic || j.Tier != "A" || j.Temporality != 4 {
		t.Fatalf("borderline should carry the flagship verdict: %+v", clusters[1].Judgement)
	}
	if clusters[2].Judgement != nil {
		t.Fatal("dropped cluster must not be judged")
	}
}

func TestJudgeFailureDegradesToHeuristic(t *testing.T) {
	caller := newFakeCaller()
	caller.errs["judge"] = errors.New("rate limited past budget")
	env := testEnv(caller, nil)

	clusters := []Cluster{{ClusterID: "b", RerankScore: 0.4, Kept: true, Borderline: true}}
	skipped, err := JudgeClusters(context.Background(), env, clusters)
	if err != nil {
		t.Fatalf("JudgeClusters failed: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped unit, got %d", skipped)
	}
	if j := clusters[0].Judgement; j == nil || !j.Heuristic || j.Tier != "B" {
		t.Fatalf("expected heuristic fallback: %+v", clusters[0].Judgement)
	}
}

func TestJudgeRejectVerdictDropsCluster(t *testing.T) {
	caller := newFakeCaller()
	caller.responses["judge"] = []string{`{
		"keep": false, "tier": "C", "importance": 0.1, "novelty": 0.1,
		"controversy": 0.0, "temporality": 3, "temporality_confidence": 0.5,
		"temporality_rationale": "restates the premise"
	}`}
	env := testEnv(caller, nil)
	var beats atomic.Int64
	env.Heartbeat = func() { beats.Add(1) }

	clusters := []Cluster{
		{ClusterID: "a", RerankScore: 0.9, Kept: true},
		{ClusterID: "b", RerankScore: 0.45, Kept: true, Borderline: true},
	}
	skipped, err := JudgeClusters(context.Background(), env, clusters)
	if err != nil {
		t.Fatalf("JudgeClusters failed: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
	if caller.calls["judge"] != 1 {
		t.Fatalf("expected 1 flagship call, got %d", caller.calls["judge"])
	}
	if clusters[1].Kept || clusters[1].Judgement != nil {
		t.Fatalf("rejected borderline cluster must leave the kept set: %+v", clusters[1])
	}
	if !clusters[0].Kept || clusters[0].Judgement == nil {
		t.Fatalf("unambiguous keep must survive the judge: %+v", clusters[0])
	}
	if beats.Load() != 1 {
		t.Fatalf("expected a heartbeat per flagship unit, got %d", beats.Load())
	}
}

func TestExtractRelationsPrunesAndDedupes(t *testing.T) {
	caller := newFakeCaller()
	caller.responses["relations"] = []string{`{
		"relations": [
			{"source_idx": 0, "target_idx": 1, "rel_type": "supports", "strength": 0.8, "rationale": "same mechanism"},
			{"source_idx": 0, "target_idx": 1, "rel_type": "supports", "strength": 0.7, "rationale": "duplicate"},
			{"source_idx": 1, "target_idx": 0, "rel_type": "contradicts", "strength": 0.2, "rationale": "below floor"},
			{"source_idx": 0, "target_idx": 0, "rel_type": "refines", "strength": 0.9, "rationale": "self loop"},
			{"source_idx": 0, "target_idx": 1, "rel_type": "blocks", "strength": 0.9, "rationale": "bad type"}
		]
	}`}
	env := testEnv(caller, nil)
	env.Cfg.RelationBatch = 50
	env.Cfg.RelationMinStrength = 0.4
	env.Cfg.RelationMaxGap = 600

	kept := []*Cluster{
		{ClusterID: "aaaa", Text: "rates drive funding", FirstMentionT0: 100},
		{ClusterID: "bbbb", Text: "funding shapes hiring", FirstMentionT0: 400},
		{ClusterID: "cccc", Text: "distant claim", FirstMentionT0: 5000},
	}
	rels, skipped, err := ExtractRelations(context.Background(), env, kept, nil)
	if err != nil {
		t.Fatalf("ExtractRelations failed: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips, got %d", skipped)
	}
	if len(rels) != 1 {
		t.Fatalf("expected 1 surviving relation, got %d: %+v", len(rels), rels)
	}
	r := rels[0]
	if r.SourceCluster != "aaaa" || r.TargetCluster != "bbbb" || r.RelType != "supports" {
		t.Fatalf("unexpected relation %+v", r)
	}
}

func TestCandidatePairsTemporalAndMilestone(t *testing.T) {
	kept := []*Cluster{
		{ClusterID: "a", FirstMentionT0: 100},
		{ClusterID: "b", FirstMentionT0: 400},
		{ClusterID: "c", FirstMentionT0: 5000},
	}
	// No milestones: only the temporally close pair survives.
	pairs := candidatePairs(kept, nil, 600)
	if len(pairs) != 1 || pairs[0] != [2]int{0, 1} {
		t.Fatalf("expected only (0,1), got %v", pairs)
	}
	// A milestone spanning everything admits all pairs.
	all := candidatePairs(kept, []MilestoneCand{{T0: 0, T1: 6000}}, 600)
	if len(all) != 3 {
		t.Fatalf("expected 3 pairs under shared milestone, got %v", all)
	}
}

func TestResolvePeopleCanonicalization(t *testing.T) {
	episodeID := uuid.New()
	people := ResolvePeople(episodeID, []PersonMention{
		{Surface: "Paul Graham", EntityType: "person"},
		{Surface: "paul graham", EntityType: "person"},
		{Surface: "Y Combinator", EntityType: "org"},
	})
	if len(people) != 2 {
		t.Fatalf("expected 2 resolved people, got %d", len(people))
	}
	byCanon := map[string]*domain.Person{}
	for _, p := range people {
		byCanon[p.Canonical] = p
	}
	pg := byCanon["paul graham"]
	if pg == nil || pg.Surface != "Paul Graham" {
		t.Fatalf("longest surface should win: %+v", pg)
	}
	yc := byCanon["y combinator"]
	if yc == nil || yc.EntityType != "person" {
		// "org" is not a valid entity type upstream of schema repair.
		t.Fatalf("unknown entity type should default to person: %+v", yc)
	}
}

func TestResolveTermsAliasFolding(t *testing.T) {
	terms := ResolveTerms([]TermMention{
		{Surface: "Venture Capital", Aliases: []string{"VC"},
			Evidence: []Span{{Quote: "venture capital funds", QuoteT0: 10, QuoteT1: 12}}},
		{Surface: "VC",
			Evidence: []Span{{Quote: "the VC model", QuoteT0: 200, QuoteT1: 202}}},
		{Surface: "Transformers"},
	})
	if len(terms) != 2 {
		t.Fatalf("expected alias folding to 2 terms, got %d: %+v", len(terms), terms)
	}
	var vc *resolvedTerm
	for i := range terms {
		if terms[i].Canonical == "venture capital" {
			vc = &terms[i]
		}
	}
	if vc == nil {
		t.Fatal("expected canonical venture capital term")
	}
	if len(vc.Evidence) != 2 {
		t.Fatalf("folded term should carry both evidence spans, got %d", len(vc.Evidence))
	}
}

func TestCategoryRowsScoring(t *testing.T) {
	episodeID := uuid.New()
	rows := CategoryRows(episodeID, []CategoryAssignment{
		{Slug: "monetary-policy", ClusterIDs: []string{"a", "b"}},
	}, 4)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	// confidence = n/(n+2), frequency = n/total
	if math.Abs(r.CoverageConfidence-0.5) > 1e-9 {
		t.Fatalf("expected confidence 0.5, got %f", r.CoverageConfidence)
	}
	if math.Abs(r.Frequency-0.5) > 1e-9 {
		t.Fatalf("expected frequency 0.5, got %f", r.Frequency)
	}
}

func TestNormalizeAndOverlap(t *testing.T) {
	if got := normalizeText("  Rates, DRIVE-funding!  "); got != "rates drive funding" {
		t.Fatalf("unexpected normalization %q", got)
	}
	if ov := tokenOverlap("rates drive funding", "rates drive funding cycles"); math.Abs(ov-0.75) > 1e-9 {
		t.Fatalf("expected jaccard 0.75, got %f", ov)
	}
	if ov := tokenOverlap("", "anything"); ov != 0 {
		t.Fatalf("empty input should overlap 0, got %f", ov)
	}
}
