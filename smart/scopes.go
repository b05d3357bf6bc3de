package smart

import "strings"

// NormaliseScope collapses whitespace in a scope string.
func NormaliseScope(scope string) string {
	return strings.Join(strings.Fields(scope), " ")
}
