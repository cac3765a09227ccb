package node

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the namespace most fact gatherers put in front of fact names.
// Lookups try the bare key first and then the prefixed key.
const Prefix = "ansible_"

// DiscriminatorKey is the fact that selects a node's family.
const DiscriminatorKey = "os_family"

// Facts is an immutable snapshot of discovered node attributes.
type Facts map[string]any

// Get returns the value stored under key or under Prefix+key.
func (f Facts) Get(key string) (any, bool) {
	if v, ok := f[key]; ok {
		return v, true
	}
	if strings.HasPrefix(key, Prefix) {
		return nil, false
	}
	v, ok := f[Prefix+key]
	return v, ok
}

// String returns the fact as a string. Scalars are formatted, anything else is "".
func (f Facts) String(key string) string {
	v, ok := f.Get(key)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case bool, int, int64, float64:
		return fmt.Sprint(x)
	}
	return ""
}

// Int returns the fact as an int. Numeric strings such as "7" are accepted.
func (f Facts) Int(key string) (int, bool) {
	v, ok := f.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Sub returns a nested fact map, or nil when key is absent or not a map.
func (f Facts) Sub(key string) Facts {
	v, ok := f.Get(key)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case Facts:
		return x
	case map[string]any:
		return Facts(x)
	}
	return nil
}

// Clone returns a shallow copy.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns a copy of f overlaid with other.
func (f Facts) Merge(other Facts) Facts {
	out := f.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}
