package jlap

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// MetadataRecord is the final line of every JLAP (spec §3 "Metadata
// record"): `{url, latest, headers?}`. Latest equals the `to` hash of the
// newest patch, or the hash of the current full snapshot if no patches
// exist yet. Headers carries opaque origin-server metadata (e.g.
// Last-Modified) forwarded to consumers (spec §6 "Metadata-record headers
// passthrough").
type MetadataRecord struct {
	URL     string          `json:"url"`
	Latest  string          `json:"latest"`
	Headers json.RawMessage `json:"headers,omitempty"`
}

// canonicalJSON produces deterministic JSON with sorted object keys and a
// fixed timestamp format, so that two callers encoding logically-equal Go
// values always produce byte-identical output. EncodeCanonical (codec.go)
// is the public entry point every hash-affecting path must share (spec §9
// open question 4); this is its implementation.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalizeValue(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalizeValue recursively rewrites v into a tree of plain maps, slices,
// and scalars with map keys pre-sorted, so that json.Marshal's own
// map-key-sorting (which only applies to map[string]any, not structs) is
// consistently applied everywhere.
func normalizeValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			nv, err := normalizeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("jlap: only string-keyed maps supported in canonical encoding")
		}
		keys := v.MapKeys()
		sorted := make([]string, 0, len(keys))
		for _, k := range keys {
			sorted = append(sorted, k.String())
		}
		sort.Strings(sorted)

		out := make(map[string]any, len(sorted))
		for _, k := range sorted {
			kv := v.MapIndex(reflect.ValueOf(k))
			nv, err := normalizeValue(kv)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case reflect.Struct:
		if v.Type() == reflect.TypeOf(time.Time{}) {
			t := v.Interface().(time.Time).UTC().Truncate(time.Microsecond)
			return t.Format(time.RFC3339Nano), nil
		}

		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			tag := f.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name := strings.Split(tag, ",")[0]
			if name == "" {
				name = f.Name
			}

			fv := v.Field(i)
			if f.Anonymous && tag == "" {
				nv, err := normalizeValue(fv)
				if err != nil {
					return nil, err
				}
				// Promote an untagged embedded struct's fields to this level,
				// as encoding/json does; the outer struct's own fields win.
				if m, ok := nv.(map[string]any); ok {
					for k, ev := range m {
						if _, exists := out[k]; !exists {
							out[k] = ev
						}
					}
					continue
				}
			}
			if strings.Contains(tag, "omitempty") && isZero(fv) {
				continue
			}

			if fv.Type() == reflect.TypeOf(json.RawMessage{}) && fv.Len() > 0 {
				var parsed any
				if err := json.Unmarshal(fv.Bytes(), &parsed); err != nil {
					return nil, err
				}
				nv, err := normalizeValue(reflect.ValueOf(parsed))
				if err != nil {
					return nil, err
				}
				out[name] = nv
			} else {
				nv, err := normalizeValue(fv)
				if err != nil {
					return nil, err
				}
				out[name] = nv
			}
		}
		return out, nil
	default:
		if v.CanInterface() {
			if rm, ok := v.Interface().(json.RawMessage); ok {
				if len(rm) == 0 {
					return nil, nil
				}
				var result any
				if err := json.Unmarshal(rm, &result); err != nil {
					return nil, err
				}
				return normalizeValue(reflect.ValueOf(result))
			}

			if m, ok := v.Interface().(json.Marshaler); ok {
				b, err := m.MarshalJSON()
				if err != nil {
					return nil, err
				}
				var result any
				if err := json.Unmarshal(b, &result); err != nil {
					return nil, err
				}
				return result, nil
			}
		}
		return fmt.Sprintf("%v", v.Interface()), nil
	}
}

func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Struct:
		zero := reflect.Zero(v.Type()).Interface()
		return reflect.DeepEqual(v.Interface(), zero)
	}
	return false
}
