package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Matrix declares the axes a job is fanned out across, plus optional include
// and exclude filters. Axis order follows the document so expansion is
// deterministic.
type Matrix struct {
	axes    []Axis
	include []map[string]string
	exclude []map[string]string
}

// Axis is one matrix dimension: a key and its declared values.
type Axis struct {
	Key    string
	Values []string
}

// Axes returns the declared axes in document order.
func (m Matrix) Axes() []Axis { return m.axes }

// Include returns the declared include entries.
func (m Matrix) Include() []map[string]string { return m.include }

// Exclude returns the declared exclude entries.
func (m Matrix) Exclude() []map[string]string { return m.exclude }

// IsZero reports whether no axes and no include entries are declared.
func (m Matrix) IsZero() bool { return len(m.axes) == 0 && len(m.include) == 0 }

// UnmarshalYAML decodes the matrix mapping. The include and exclude keys are
// filter lists; every other key declares an axis.
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix: expected mapping")
	}
	for i := 0; i < len(value.Content)-1; i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		switch key.Value {
		case "include", "exclude":
			if val.Kind != yaml.SequenceNode {
				return fmt.Errorf("matrix.%s: expected sequence", key.Value)
			}
			for _, item := range val.Content {
				entry, err := stringMap(item)
				if err != nil {
					return fmt.Errorf("matrix.%s: %w", key.Value, err)
				}
				if key.Value == "include" {
					m.include = append(m.include, entry)
				} else {
					m.exclude = append(m.exclude, entry)
				}
			}
		default:
			values, err := stringList(val)
			if err != nil {
				return fmt.Errorf("matrix.%s: %w", key.Value, err)
			}
			m.axes = append(m.axes, Axis{Key: key.Value, Values: values})
		}
	}
	return nil
}

// Combination is one concrete assignment of matrix keys to values. Keys keep
// axis declaration order; include entries may append extra keys.
type Combination struct {
	keys   []string
	values map[string]string
}

// Get returns the value for a matrix key.
func (c Combination) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the combination's keys in declaration order.
func (c Combination) Keys() []string { return c.keys }

// Len returns the number of assigned keys.
func (c Combination) Len() int { return len(c.keys) }

// String renders the combination as "os=ubuntu-latest, python-version=3.8".
// Empty combinations render as "default".
func (c Combination) String() string {
	if len(c.keys) == 0 {
		return "default"
	}
	parts := make([]string, 0, len(c.keys))
	for _, k := range c.keys {
		parts = append(parts, k+"="+c.values[k])
	}
	return strings.Join(parts, ", ")
}

var matrixRef = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_.-]+)\s*\}\}`)

// MatrixRefs returns the matrix keys referenced by ${{ matrix.KEY }}
// placeholders in s.
func MatrixRefs(s string) []string {
	var keys []string
	for _, match := range matrixRef.FindAllStringSubmatch(s, -1) {
		keys = append(keys, match[1])
	}
	return keys
}

// Interpolate replaces ${{ matrix.KEY }} placeholders with the combination's
// values. Unknown keys are left untouched.
func (c Combination) Interpolate(s string) string {
	return matrixRef.ReplaceAllStringFunc(s, func(ref string) string {
		key := matrixRef.FindStringSubmatch(ref)[1]
		if v, ok := c.values[key]; ok {
			return v
		}
		return ref
	})
}

// EnvVars exports the combination as MATRIX_* variables, e.g.
// python-version=3.8 becomes MATRIX_PYTHON_VERSION=3.8.
func (c Combination) EnvVars() []string {
	vars := make([]string, 0, len(c.keys))
	for _, k := range c.keys {
		vars = append(vars, "MATRIX_"+envKey(k)+"="+c.values[k])
	}
	return vars
}

func envKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (c Combination) with(key, value string) Combination {
	next := Combination{
		keys:   make([]string, 0, len(c.keys)+1),
		values: make(map[string]string, len(c.values)+1),
	}
	next.keys = append(next.keys, c.keys...)
	for k, v := range c.values {
		next.values[k] = v
	}
	if _, ok := next.values[key]; !ok {
		next.keys = append(next.keys, key)
	}
	next.values[key] = value
	return next
}

// matches reports whether every key of filter is assigned to the same value
// in the combination.
func (c Combination) matches(filter map[string]string) bool {
	if len(filter) == 0 {
		return false
	}
	for k, v := range filter {
		if c.values[k] != v {
			return false
		}
	}
	return true
}

// newCombination builds a combination from explicit key/value pairs with keys
// sorted, used for include entries that match no axis combination.
func newCombination(entry map[string]string) Combination {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make(map[string]string, len(entry))
	for k, v := range entry {
		values[k] = v
	}
	return Combination{keys: keys, values: values}
}

// Combinations expands the strategy into its concrete job instances:
// the cartesian product of the axes in declared order, minus exclusions,
// plus inclusions. A job without a matrix yields a single empty combination.
func (s Strategy) Combinations() []Combination {
	return s.Matrix.Combinations()
}

// Combinations expands the matrix deterministically.
//
// Exclude entries remove every product combination whose values match all of
// the entry's keys. Include entries whose axis-overlapping keys match an
// existing combination extend the matching combinations with any extra keys;
// entries matching nothing are appended as standalone combinations.
func (m Matrix) Combinations() []Combination {
	combos := []Combination{{values: map[string]string{}}}
	if len(m.axes) == 0 && len(m.include) > 0 {
		combos = nil
	}
	for _, axis := range m.axes {
		next := make([]Combination, 0, len(combos)*len(axis.Values))
		for _, c := range combos {
			for _, v := range axis.Values {
				next = append(next, c.with(axis.Key, v))
			}
		}
		combos = next
	}

	if len(m.exclude) > 0 {
		kept := combos[:0]
		for _, c := range combos {
			excluded := false
			for _, entry := range m.exclude {
				if c.matches(entry) {
					excluded = true
					break
				}
			}
			if !excluded {
				kept = append(kept, c)
			}
		}
		combos = kept
	}

	axisKeys := make(map[string]bool, len(m.axes))
	for _, axis := range m.axes {
		axisKeys[axis.Key] = true
	}
	for _, entry := range m.include {
		overlap := make(map[string]string)
		for k, v := range entry {
			if axisKeys[k] {
				overlap[k] = v
			}
		}
		matched := false
		for i, c := range combos {
			if c.Len() > 0 && (len(overlap) == 0 || c.matches(overlap)) {
				for _, k := range sortedKeys(entry) {
					if !axisKeys[k] {
						combos[i] = combos[i].with(k, entry[k])
					}
				}
				matched = true
			}
		}
		if !matched {
			combos = append(combos, newCombination(entry))
		}
	}

	return combos
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
