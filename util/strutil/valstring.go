// Package strutil converts between free-form command-line strings and the
// typed values stage controls and CLI flags expect.
package strutil

import (
	"fmt"
	"reflect"
	"strconv"
)

// Vtos renders a decoded stage-control value back into its string form, for
// echoing what was just applied.
func Vtos(value any) (string, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return "", fmt.Errorf("strutil: nil value")
	}
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	default:
		return "", fmt.Errorf("strutil: unsupported kind %s", v.Kind())
	}
}

// Stov parses raw into a value of typ's kind. Used by the CLI's
// apply-control command, which has no static schema for arbitrary
// stage keys and so only knows the target type at the reflect.Type level.
func Stov(raw string, typ reflect.Type) (any, error) {
	switch typ.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(raw, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(raw, 64)
	case reflect.Bool:
		return strconv.ParseBool(raw)
	default:
		return nil, fmt.Errorf("strutil: unsupported type %s", typ.Kind())
	}
}
