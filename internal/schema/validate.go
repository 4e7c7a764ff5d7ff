package schema

import (
	"fmt"
)

// Validate checks payload against the named schema at the version carried in
// the payload. Returns all violations, not just the first.
func Validate(name string, payload map[string]any) []error {
	obj, err := lookup(name, VersionOf(payload))
	if err != nil {
		return []error{err}
	}
	return validateObject(obj, payload, name)
}

func validateObject(obj *Object, payload map[string]any, path string) []error {
	var errs []error
	for _, f := range obj.Fields {
		fp := path + "." + f.Name
		v, present := payload[f.Name]
		if !present || v == nil {
			if f.Required {
				errs = append(errs, fmt.Errorf("%s: required field missing", fp))
			}
			continue
		}
		errs = append(errs, validateValue(&f, v, fp)...)
	}
	return errs
}

func validateValue(f *Field, v any, path string) []error {
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return []error{fmt.Errorf("%s: expected string, got %T", path, v)}
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return []error{fmt.Errorf("%s: %q not in enum %v", path, s, f.Enum)}
		}
	case KindNumber:
		n, ok := toFloat(v)
		if !ok {
			return []error{fmt.Errorf("%s: expected number, got %T", path, v)}
		}
		if f.Clamp01 && (n < 0 || n > 1) {
			return []error{fmt.Errorf("%s: %v out of [0,1]", path, n)}
		}
	case KindInt:
		n, ok := toFloat(v)
		if !ok || n != float64(int64(n)) {
			return []error{fmt.Errorf("%s: expected integer, got %v", path, v)}
		}
		if f.MaxInt > f.MinInt && (int(n) < f.MinInt || int(n) > f.MaxInt) {
			return []error{fmt.Errorf("%s: %d out of [%d,%d]", path, int(n), f.MinInt, f.MaxInt)}
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return []error{fmt.Errorf("%s: expected bool, got %T", path, v)}
		}
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return []error{fmt.Errorf("%s: expected array, got %T", path, v)}
		}
		if f.Items == nil {
			return nil
		}
		var errs []error
		for i, el := range arr {
			m, ok := el.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Errorf("%s[%d]: expected object, got %T", path, i, el))
				continue
			}
			errs = append(errs, validateObject(f.Items, m, fmt.Sprintf("%s[%d]", path, i))...)
		}
		return errs
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return []error{fmt.Errorf("%s: expected object, got %T", path, v)}
		}
		if f.Object == nil {
			return nil
		}
		return validateObject(f.Object, m, path)
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
