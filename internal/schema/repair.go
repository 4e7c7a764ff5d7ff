package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/logger"
)

// Outcome labels a processed payload for the invocation audit trail.
type Outcome string

const (
	OutcomeValid    Outcome = "valid"
	OutcomeRepaired Outcome = "repaired"
	OutcomeRejected Outcome = "rejected"
)

// Repair applies the fixed, conservative rule set to payload in place and
// reports what it changed. Rules are schema-driven, not ad hoc: each field
// spec declares its own defaults, synonym maps and clamps, versioned
// alongside the schema itself.
func Repair(name string, payload map[string]any, log *logger.Logger) []string {
	obj, err := lookup(name, VersionOf(payload))
	if err != nil {
		return nil
	}
	fixes := repairObject(obj, payload, name)
	if log != nil {
		for _, f := range fixes {
			log.Debug("schema repair", "schema", name, "fix", f)
		}
	}
	return fixes
}

// Process parses raw model output, validates, repairs if needed, and
// re-validates. The returned outcome feeds the audit row; a rejected payload
// surfaces ErrSchemaRepairFailed scoped to the caller's unit of work.
func Process(name string, raw string, log *logger.Logger) (map[string]any, Outcome, error) {
	payload, err := decodeLoose(raw)
	if err != nil {
		return nil, OutcomeRejected, fmt.Errorf("%w: parse: %v", apperr.ErrSchemaRepairFailed, err)
	}
	if len(Validate(name, payload)) == 0 {
		return payload, OutcomeValid, nil
	}
	Repair(name, payload, log)
	if errs := Validate(name, payload); len(errs) > 0 {
		return nil, OutcomeRejected, fmt.Errorf("%w: %s: %v", apperr.ErrSchemaRepairFailed, name, errs[0])
	}
	return payload, OutcomeRepaired, nil
}

// decodeLoose tolerates models that wrap JSON in code fences.
func decodeLoose(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func repairObject(obj *Object, payload map[string]any, path string) []string {
	var fixes []string
	for i := range obj.Fields {
		f := &obj.Fields[i]
		fp := path + "." + f.Name
		v, present := payload[f.Name]

		switch f.Kind {
		case KindArray:
			arr, ok := v.([]any)
			if !present || v == nil || !ok {
				// Absent or wrong-typed array fields coerce to empty arrays
				// rather than failing the whole unit.
				payload[f.Name] = []any{}
				if present && v != nil {
					fixes = append(fixes, fp+": coerced non-array to []")
				} else if f.Required {
					fixes = append(fixes, fp+": missing array defaulted to []")
				}
				continue
			}
			if f.Items != nil {
				kept := arr[:0]
				for j, el := range arr {
					m, ok := el.(map[string]any)
					if !ok {
						fixes = append(fixes, fmt.Sprintf("%s[%d]: dropped non-object element", fp, j))
						continue
					}
					ep := fmt.Sprintf("%s[%d]", fp, j)
					fixes = append(fixes, repairObject(f.Items, m, ep)...)
					// An element that stays invalid after repair is one bad
					// unit, not a bad batch: drop it, keep its siblings.
					if errs := validateObject(f.Items, m, ep); len(errs) > 0 {
						fixes = append(fixes, fmt.Sprintf("%s: dropped element, invalid after repair: %v", ep, errs[0]))
						continue
					}
					kept = append(kept, m)
				}
				payload[f.Name] = append([]any{}, kept...)
			}

		case KindString:
			if (!present || v == nil) && f.Required {
				def := ""
				if d, ok := f.Default.(string); ok {
					def = d
				}
				payload[f.Name] = def
				fixes = append(fixes, fp+": null required string defaulted")
				continue
			}
			s, ok := v.(string)
			if !ok {
				continue
			}
			if len(f.Enum) > 0 && !contains(f.Enum, s) {
				if mapped, ok := f.Synonyms[strings.ToLower(strings.TrimSpace(s))]; ok {
					payload[f.Name] = mapped
					fixes = append(fixes, fmt.Sprintf("%s: enum synonym %q -> %q", fp, s, mapped))
				} else if d, ok := f.Default.(string); ok {
					payload[f.Name] = d
					fixes = append(fixes, fmt.Sprintf("%s: unknown enum %q defaulted to %q", fp, s, d))
				}
			}

		case KindNumber:
			if (!present || v == nil) && f.Required {
				def := 0.0
				if d, ok := toFloat(f.Default); ok {
					def = d
				}
				payload[f.Name] = def
				fixes = append(fixes, fp+": null required number defaulted")
				continue
			}
			if n, ok := toFloat(v); ok && f.Clamp01 {
				if n < 0 {
					payload[f.Name] = 0.0
					fixes = append(fixes, fp+": clamped below 0")
				} else if n > 1 {
					payload[f.Name] = 1.0
					fixes = append(fixes, fp+": clamped above 1")
				}
			}

		case KindInt:
			if (!present || v == nil) && f.Required {
				def := 0.0
				if d, ok := toFloat(f.Default); ok {
					def = d
				}
				payload[f.Name] = def
				fixes = append(fixes, fp+": null required int defaulted")
				continue
			}
			if n, ok := toFloat(v); ok {
				r := float64(int64(n + 0.5))
				if f.MaxInt > f.MinInt {
					if r < float64(f.MinInt) {
						r = float64(f.MinInt)
					}
					if r > float64(f.MaxInt) {
						r = float64(f.MaxInt)
					}
				}
				if r != n {
					payload[f.Name] = r
					fixes = append(fixes, fp+": integer clamped/rounded")
				}
			}

		case KindBool:
			if (!present || v == nil) && f.Required {
				def := false
				if d, ok := f.Default.(bool); ok {
					def = d
				}
				payload[f.Name] = def
				fixes = append(fixes, fp+": null required bool defaulted")
			}

		case KindObject:
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if f.Object != nil {
				fixes = append(fixes, repairObject(f.Object, m, fp)...)
			}
		}
	}
	return fixes
}
