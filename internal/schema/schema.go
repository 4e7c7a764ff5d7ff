// Package schema validates and repairs structured model output against
// versioned schemas. Model payloads are loosely typed until they pass this
// boundary; nothing unvalidated flows past it.
package schema

import (
	"fmt"
)

type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// Field describes one key of an object payload.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// Enum restricts string values; Synonyms maps known off-vocabulary
	// values onto enum members during repair.
	Enum     []string
	Synonyms map[string]string
	// Clamp01 clamps numbers into [0,1]; MinInt/MaxInt clamp ints.
	Clamp01 bool
	MinInt  int
	MaxInt  int
	// Items/Object describe element shape for arrays and nested objects.
	Items  *Object
	Object *Object
	// Default replaces a null/missing required scalar during repair.
	Default any
}

type Object struct {
	Fields []Field
}

func (o *Object) field(name string) (*Field, bool) {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			return &o.Fields[i], true
		}
	}
	return nil, false
}

// registry maps schema name -> version -> shape. The version tag travels in
// the payload itself (schema_version) so old and new shapes coexist.
var registry = map[string]map[int]*Object{}

func register(name string, version int, obj *Object) {
	if registry[name] == nil {
		registry[name] = map[int]*Object{}
	}
	registry[name][version] = obj
}

// VersionOf reads the schema_version tag, defaulting to 1.
func VersionOf(payload map[string]any) int {
	if payload == nil {
		return 1
	}
	if v, ok := payload["schema_version"]; ok {
		if f, ok := toFloat(v); ok && f >= 1 {
			return int(f)
		}
	}
	return 1
}

func lookup(name string, version int) (*Object, error) {
	versions, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	obj, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("schema %q has no version %d", name, version)
	}
	return obj, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
