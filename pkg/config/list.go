package config

import "strings"

// StringList is a comma separated list flag. Setting it replaces the whole
// list; empty elements are dropped.
type StringList []string

// Get implements flag.Getter.
func (l StringList) Get() interface{} { return []string(l) }

// Set implements flag.Value.
func (l *StringList) Set(s string) error {
	*l = nil
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			*l = append(*l, e)
		}
	}
	return nil
}

// String implements flag.Value.
func (l StringList) String() string { return strings.Join(l, ",") }
