package por

import (
	"strings"

	"v.io/x/lib/set"

	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// matcher matches qualified names against exact names and prefix patterns.
// Names use internal form: app/Counter for types, app/Counter.count for
// members.
type matcher struct {
	exact    map[string]struct{}
	prefixes []string
}

// newMatcher compiles patterns. A trailing '*' makes a prefix pattern. When
// member is set the part after the last '.' is the member name and the rest
// is a class name; dots in class names are converted to '/'.
func newMatcher(key string, patterns []string, member bool) (*matcher, error) {
	var exact []string
	m := &matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.Count(p, "*") > 1 || (strings.Contains(p, "*") && !strings.HasSuffix(p, "*")) {
			return nil, &vmerr.ConfigurationError{Key: key, Value: p, Reason: "want a name or a prefix ending in a single '*'"}
		}
		p = internalName(p, member)
		if strings.HasSuffix(p, "*") {
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
			continue
		}
		exact = append(exact, p)
	}
	m.exact = set.String.FromSlice(exact)
	return m, nil
}

func internalName(p string, member bool) string {
	if !member {
		return strings.ReplaceAll(p, ".", "/")
	}
	i := strings.LastIndex(p, ".")
	if i < 0 {
		return p
	}
	return strings.ReplaceAll(p[:i], ".", "/") + p[i:]
}

func (m *matcher) empty() bool {
	return m == nil || (len(m.exact) == 0 && len(m.prefixes) == 0)
}

func (m *matcher) match(name string) bool {
	if m.empty() {
		return false
	}
	if _, ok := m.exact[name]; ok {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
