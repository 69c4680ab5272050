package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// StringArray maps MemoryUnit.Keywords onto a native postgres text[] column
// (driver.Valuer/sql.Scanner), so the structured store can express a
// server-side containment predicate (`keywords && ARRAY[...]`, I3) instead
// of falling back to substring matching over a serialized blob.
type StringArray []string

// Value implements driver.Valuer, producing the postgres array literal form.
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	escaped := make([]string, len(a))
	for i, s := range a {
		escaped[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}", nil
}

// Scan implements sql.Scanner, parsing the postgres array wire text form.
func (a *StringArray) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("model: cannot scan %T into StringArray", src)
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		*a = StringArray{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(StringArray, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, `"`)
		p = strings.TrimSuffix(p, `"`)
		p = strings.ReplaceAll(p, `\"`, `"`)
		p = strings.ReplaceAll(p, `\\`, `\`)
		out = append(out, p)
	}
	*a = out
	return nil
}

// Contains reports whether any element of want is present in a.
func (a StringArray) Contains(want []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
