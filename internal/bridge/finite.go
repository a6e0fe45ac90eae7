package bridge

import (
	"math"
	"reflect"
)

// withNulls returns v as plain JSON values (maps, slices and scalars) with
// every NaN or infinite float replaced by nil. Struct fields keep their Go
// names, matching what encoding/json emits for the untagged protocol types.
// Byte slices are left intact so they still encode as base64.
func withNulls(v any) any {
	return nullFloats(reflect.ValueOf(v))
}

func nullFloats(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return nullFloats(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return v.Interface()
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if f := t.Field(i); f.IsExported() {
				out[f.Name] = nullFloats(v.Field(i))
			}
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = nullFloats(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = nullFloats(iter.Value())
		}
		return out
	default:
		return v.Interface()
	}
}
