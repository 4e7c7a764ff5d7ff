package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/pkg/logger"
)

// Caller is the invocation surface stages depend on. Tests substitute a
// deterministic fake.
type Caller interface {
	Invoke(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Env bundles what every stage needs. Built once per job run.
type Env struct {
	Log       *logger.Logger
	Invoker   Caller
	Embedder  llm.Embedder
	Cfg       Config
	JobID     *uuid.UUID
	EpisodeID *uuid.UUID

	// MineWorkers/EvalWorkers bound stage fan-out to the hardware tier's
	// pool sizes. Zero means sequential; the invoker's pools enforce the
	// same ceilings underneath.
	MineWorkers int
	EvalWorkers int

	// Heartbeat, when set, is called after each unit of work so long
	// stages keep their job run's heartbeat fresh.
	Heartbeat func()
}

// MineLimit is the mining fan-out bound, never below 1.
func (e *Env) MineLimit() int {
	if e.MineWorkers < 1 {
		return 1
	}
	return e.MineWorkers
}

// EvalLimit is the evaluation fan-out bound, never below 1.
func (e *Env) EvalLimit() int {
	if e.EvalWorkers < 1 {
		return 1
	}
	return e.EvalWorkers
}

func (e *Env) heartbeat() {
	if e.Heartbeat != nil {
		e.Heartbeat()
	}
}

// decodeInto round-trips a validated payload into its typed shape.
func decodeInto[T any](payload map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// normalizeText lowercases, strips punctuation and collapses whitespace.
// Used for cluster hashing and entity canonical forms, so it must stay
// stable across runs.
func normalizeText(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r >= 0x80:
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func tokens(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(normalizeText(s)) {
		out[t] = struct{}{}
	}
	return out
}

// tokenOverlap is Jaccard similarity over normalized tokens.
func tokenOverlap(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
