// Package util holds the reflection and identifier helpers shared by
// the repository layer.
package util

import (
	"errors"
	"reflect"
	"strings"
)

// parseDBTag extracts the column name from a db tag, ignoring any
// options after the first comma.
func parseDBTag(tag string) string {
	if i := strings.Index(tag, ","); i >= 0 {
		tag = tag[:i]
	}
	return strings.TrimSpace(tag)
}

// StructToMap converts a struct payload to a column→value map using db
// tags. Untagged exported fields map to their lowercased name, db:"-"
// and unexported fields are skipped, and pointer fields are flattened
// (nil becomes a NULL value).
func StructToMap(data any) (map[string]any, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, errors.New("StructToMap: nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, errors.New("StructToMap: expected struct, got " + v.Kind().String())
	}

	t := v.Type()
	result := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		column := strings.ToLower(field.Name)
		if tag, ok := field.Tag.Lookup("db"); ok {
			column = parseDBTag(tag)
			if column == "-" {
				continue
			}
		}

		fieldValue := v.Field(i)
		if fieldValue.Kind() == reflect.Pointer {
			if fieldValue.IsNil() {
				result[column] = nil
				continue
			}
			fieldValue = fieldValue.Elem()
		}
		result[column] = fieldValue.Interface()
	}
	return result, nil
}

// IsZero reports whether a payload value counts as unset: nil, a nil
// pointer, or the type's zero value.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	return rv.IsZero()
}
