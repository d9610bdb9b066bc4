// Package identity canonicalizes the heterogeneous identity representations
// the backend emits (bare strings, numbers, objects with an id-bearing field)
// into a single string form.
package identity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// idFields are the alias field names an embedded identity object may use,
// probed in order.
var idFields = []string{"id", "_id", "userId", "user_id"}

// Normalize converts any identity-bearing value into its canonical string
// form. Unresolvable input yields "", which fails downstream validation.
// Never panics; pure.
func Normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		// JSON numbers decode as float64; ids are integral in practice.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]any:
		for _, f := range idFields {
			if inner, ok := t[f]; ok {
				if s := Normalize(inner); s != "" {
					return s
				}
			}
		}
		return ""
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return ""
	}
}

// RoomKey derives the logical room name for a two-party conversation: both
// identities sorted lexicographically and joined. Commutative, so both
// participants compute the identical key.
func RoomKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}
