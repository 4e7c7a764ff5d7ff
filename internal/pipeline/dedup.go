package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/podsight/backend/internal/pkg/apperr"
)

// Dedup clusters raw candidates into canonical claims. Similarity is cosine
// distance over embeddings above the configured threshold; candidates in the
// margin just below it fall back to token overlap. The cluster id is a
// stable hash of the episode id and the first member's normalized text, so
// re-runs over the same input never renumber existing claims.
func Dedup(ctx context.Context, env *Env, episodeID uuid.UUID, candidates []Candidate) ([]Cluster, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	// Chronological order makes "first member" deterministic.
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return firstT0(sorted[i]) < firstT0(sorted[j])
	})

	texts := make([]string, len(sorted))
	for i, c := range sorted {
		texts[i] = c.Text
	}
	vecs, err := env.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed candidates: %v", apperr.ErrFatal, err)
	}
	if len(vecs) != len(sorted) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d inputs", apperr.ErrFatal, len(vecs), len(sorted))
	}

	type member struct {
		cluster int
		vec     []float32
	}
	var clusters []Cluster
	var heads []member // first member of each cluster
	for i, cand := range sorted {
		target := -1
		for _, h := range heads {
			sim := cosine(vecs[i], h.vec)
			if sim >= env.Cfg.SimThreshold {
				target = h.cluster
				break
			}
			if sim >= env.Cfg.SimThreshold-env.Cfg.SimMargin &&
				tokenOverlap(cand.Text, clusters[h.cluster].Text) >= env.Cfg.OverlapTieBreak {
				target = h.cluster
				break
			}
		}
		if target == -1 {
			clusters = append(clusters, Cluster{
				ClusterID:      ClusterID(episodeID, cand.Text),
				Text:           cand.Text,
				ClaimType:      cand.ClaimType,
				FirstMentionT0: firstT0(cand),
				Members:        1,
				Evidence:       append([]Span(nil), cand.Evidence...),
			})
			heads = append(heads, member{cluster: len(clusters) - 1, vec: vecs[i]})
			continue
		}
		cl := &clusters[target]
		cl.Members++
		cl.Evidence = append(cl.Evidence, cand.Evidence...)
		if t := firstT0(cand); t < cl.FirstMentionT0 {
			cl.FirstMentionT0 = t
		}
	}

	for i := range clusters {
		clusters[i].Evidence = mergeSpans(clusters[i].Evidence)
	}
	return clusters, nil
}

// ClusterID hashes the episode id with the first member's normalized text.
func ClusterID(episodeID uuid.UUID, firstMemberText string) string {
	h := xxhash.New()
	h.WriteString(episodeID.String())
	h.WriteString("\x00")
	h.WriteString(normalizeText(firstMemberText))
	return fmt.Sprintf("%016x", h.Sum64())
}

func firstT0(c Candidate) float64 {
	if len(c.Evidence) == 0 {
		return 0
	}
	min := c.Evidence[0].QuoteT0
	for _, e := range c.Evidence[1:] {
		if e.QuoteT0 < min {
			min = e.QuoteT0
		}
	}
	return min
}

// mergeSpans drops duplicate quotes and orders by quote t0. The repo assigns
// the dense seq numbers at write time from this order.
func mergeSpans(spans []Span) []Span {
	seen := map[string]bool{}
	out := spans[:0]
	for _, sp := range spans {
		key := normalizeText(sp.Quote)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QuoteT0 < out[j].QuoteT0 })
	return out
}
