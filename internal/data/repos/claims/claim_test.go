package claims

import (
	"testing"

	"github.com/google/uuid"

	"github.com/podsight/backend/internal/data/db"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

func testRepos(t *testing.T) (ClaimRepo, RelationRepo) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/claims.db")
	svc, err := db.New(logger.NewNop())
	if err != nil {
		t.Fatalf("db init: %v", err)
	}
	if err := svc.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewClaimRepo(svc.DB(), logger.NewNop()), NewRelationRepo(svc.DB(), logger.NewNop())
}

func TestUpsertConvergesOnClusterID(t *testing.T) {
	repo, _ := testRepos(t)
	dbc := dbctx.Background()
	episodeID := uuid.New()

	first := &domain.Claim{
		ID:             uuid.New(),
		EpisodeID:      episodeID,
		ClusterID:      "00000000000000aa",
		Text:           "rates drive funding",
		ClaimType:      "causal",
		FirstMentionT0: 12,
	}
	if err := repo.Upsert(dbc, []*domain.Claim{first}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Re-run with the same cluster id must converge, not duplicate.
	again := &domain.Claim{
		ID:             uuid.New(),
		EpisodeID:      episodeID,
		ClusterID:      "00000000000000aa",
		Text:           "rates drive startup funding",
		ClaimType:      "causal",
		FirstMentionT0: 12,
		RerankScore:    0.7,
	}
	if err := repo.Upsert(dbc, []*domain.Claim{again}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := repo.ListByEpisode(dbc, episodeID, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after converging upsert, got %d", len(rows))
	}
	if rows[0].ID != first.ID {
		t.Fatal("existing row id must survive the upsert")
	}
	if rows[0].Text != "rates drive startup funding" || rows[0].RerankScore != 0.7 {
		t.Fatalf("conflict update not applied: %+v", rows[0])
	}
}

func TestReplaceEvidenceResequences(t *testing.T) {
	repo, _ := testRepos(t)
	dbc := dbctx.Background()
	claimID := uuid.New()

	spans := []*domain.EvidenceSpan{
		{Quote: "later quote", QuoteT0: 300, QuoteT1: 305},
		{Quote: "earliest quote", QuoteT0: 10, QuoteT1: 14},
		{Quote: "middle quote", QuoteT0: 120, QuoteT1: 125},
	}
	if err := repo.ReplaceEvidence(dbc, claimID, spans); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := repo.ListEvidence(dbc, claimID)
	if err != nil {
		t.Fatalf("list evidence: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(got))
	}
	for i, sp := range got {
		if sp.Seq != i {
			t.Fatalf("seq must be dense 0..n-1, got %d at position %d", sp.Seq, i)
		}
	}
	if got[0].Quote != "earliest quote" || got[2].Quote != "later quote" {
		t.Fatalf("spans not in chronological order: %v %v", got[0].Quote, got[2].Quote)
	}

	// Replacement is atomic: the old set is gone, not appended to.
	if err := repo.ReplaceEvidence(dbc, claimID, []*domain.EvidenceSpan{
		{Quote: "only survivor", QuoteT0: 50, QuoteT1: 52},
	}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	got, _ = repo.ListEvidence(dbc, claimID)
	if len(got) != 1 || got[0].Quote != "only survivor" || got[0].Seq != 0 {
		t.Fatalf("expected single reset span, got %+v", got)
	}
}

func TestRelationUpsertTripleUnique(t *testing.T) {
	_, rels := testRepos(t)
	dbc := dbctx.Background()
	episodeID := uuid.New()
	src, dst := uuid.New(), uuid.New()

	edge := &domain.Relation{
		ID: uuid.New(), EpisodeID: episodeID,
		SourceClaimID: src, TargetClaimID: dst,
		RelType: domain.RelSupports, Strength: 0.6, Rationale: "first pass",
	}
	if err := rels.Upsert(dbc, []*domain.Relation{edge}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	refresh := &domain.Relation{
		ID: uuid.New(), EpisodeID: episodeID,
		SourceClaimID: src, TargetClaimID: dst,
		RelType: domain.RelSupports, Strength: 0.8, Rationale: "re-extracted",
	}
	if err := rels.Upsert(dbc, []*domain.Relation{refresh}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	// A different type between the same claims is a distinct edge.
	other := &domain.Relation{
		ID: uuid.New(), EpisodeID: episodeID,
		SourceClaimID: src, TargetClaimID: dst,
		RelType: domain.RelRefines, Strength: 0.5,
	}
	if err := rels.Upsert(dbc, []*domain.Relation{other}); err != nil {
		t.Fatalf("third upsert: %v", err)
	}

	got, err := rels.ListByEpisode(dbc, episodeID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(got))
	}
	for _, r := range got {
		if r.RelType == domain.RelSupports && r.Strength != 0.8 {
			t.Fatalf("duplicate triple should refresh strength, got %f", r.Strength)
		}
	}
}

func TestDeleteByEpisodeExcept(t *testing.T) {
	repo, _ := testRepos(t)
	dbc := dbctx.Background()
	episodeID := uuid.New()

	rows := []*domain.Claim{
		{ID: uuid.New(), EpisodeID: episodeID, ClusterID: "keepme0000000001", Text: "a", ClaimType: "factual"},
		{ID: uuid.New(), EpisodeID: episodeID, ClusterID: "dropme0000000002", Text: "b", ClaimType: "factual"},
	}
	if err := repo.Upsert(dbc, rows); err != nil {
		t.Fatalf("seed: %v", err)
	}
	n, err := repo.DeleteByEpisodeExcept(dbc, episodeID, []string{"keepme0000000001"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	left, _ := repo.ListByEpisode(dbc, episodeID, ListFilter{})
	if len(left) != 1 || left[0].ClusterID != "keepme0000000001" {
		t.Fatalf("wrong survivor set: %+v", left)
	}
}

func TestListByEpisodeFilters(t *testing.T) {
	repo, _ := testRepos(t)
	dbc := dbctx.Background()
	episodeID := uuid.New()

	rows := []*domain.Claim{
		{ID: uuid.New(), EpisodeID: episodeID, ClusterID: "c1", Text: "a",
			ClaimType: "causal", Tier: "A",
			Categories: EncodeCategoryRefs([]domain.CategoryRef{{Slug: "monetary-policy", Relevance: 0.9}})},
		{ID: uuid.New(), EpisodeID: episodeID, ClusterID: "c2", Text: "b",
			ClaimType: "factual", Tier: "B"},
	}
	if err := repo.Upsert(dbc, rows); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tierA, err := repo.ListByEpisode(dbc, episodeID, ListFilter{Tier: "A"})
	if err != nil || len(tierA) != 1 || tierA[0].ClusterID != "c1" {
		t.Fatalf("tier filter failed: %v %+v", err, tierA)
	}
	byType, err := repo.ListByEpisode(dbc, episodeID, ListFilter{Type: "factual"})
	if err != nil || len(byType) != 1 || byType[0].ClusterID != "c2" {
		t.Fatalf("type filter failed: %v %+v", err, byType)
	}
	byCat, err := repo.ListByEpisode(dbc, episodeID, ListFilter{Category: "monetary-policy"})
	if err != nil || len(byCat) != 1 || byCat[0].ClusterID != "c1" {
		t.Fatalf("category filter failed: %v %+v", err, byCat)
	}
}
