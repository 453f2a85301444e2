package capabilities

import "strings"

// Scope fields are stored comma-joined in one text column. Field names come
// from the static registry and never contain commas.

func encodeScopeFields(fields []string) string {
	return strings.Join(fields, ",")
}

func decodeScopeFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
