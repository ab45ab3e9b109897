package graph

import "reflect"

// typeName derives a stable display name for a TypeToken from a zero value of T.
func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		// v was an interface zero value (e.g. TypeOf[any]()); fall back to a stable marker.
		return "any"
	}
	return t.String()
}
