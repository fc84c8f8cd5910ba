package checksum

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/robertkrimen/otto/parser"
	"gopkg.in/yaml.v3"
)

// normalizeJS parses raw as JavaScript and canonicalizes its AST so that
// whitespace, semicolons and comment placement never change the checksum.
// A file that fails to parse (minified-beyond-recognition, a template
// fragment, a syntax the parser doesn't support) still gets a checksum: we
// fall back to its trimmed decoded text, so a ".js" file is never rejected
// outright.
func normalizeJS(raw []byte) ([]byte, bool) {
	program, err := parser.ParseFile(nil, "", raw, 0)
	if err != nil {
		return canonicalEncode(strings.TrimSpace(string(raw))), true
	}
	return canonicalEncode(astToValue(reflect.ValueOf(program))), true
}

// normalizeJSON decodes raw as JSON and canonicalizes the resulting value.
// A file that fails to decode is rejected rather than indexed under a
// misleading checksum of raw bytes.
func normalizeJSON(raw []byte) ([]byte, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return canonicalEncode(v), true
}

// normalizeYAML decodes raw as YAML and canonicalizes the resulting value,
// sharing the canonical encoder with JSON. The two formats do not always
// hash identically for the same structure: YAML integers decode as int and
// JSON numbers as float64, and the encoder tags those differently. Kinds
// are dispatched by extension, so the two are never compared.
func normalizeYAML(raw []byte) ([]byte, bool) {
	var v interface{}
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return canonicalEncode(v), true
}

// astToValue walks an otto/ast node tree with reflection and reduces it to
// the same generic shape canonicalEncode already knows how to render for
// JSON/YAML: maps, slices and scalars. Source-position fields (file.Idx,
// embedded *ast.idx) are skipped deliberately - they encode where a token
// sat in the original text, not what the program means, and keeping them
// would defeat the point of parsing at all. The same goes for a function
// literal's Source field, which holds the function's raw text.
func astToValue(v reflect.Value) interface{} {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		m := make(map[string]interface{}, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			if isPositionField(field) {
				continue
			}
			if field.Name == "Source" && field.Type.Kind() == reflect.String {
				continue
			}
			m[field.Name] = astToValue(v.Field(i))
		}
		m["__type"] = t.Name()
		return m
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = astToValue(v.Index(i))
		}
		return out
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// isPositionField reports whether field holds source-location data that
// should not affect a JS file's normalized identity.
func isPositionField(field reflect.StructField) bool {
	name := strings.ToLower(field.Name)
	if strings.Contains(name, "idx") || strings.Contains(name, "position") {
		return true
	}
	return strings.Contains(field.Type.String(), "file.Idx")
}

func sprint(v interface{}) string {
	return fmt.Sprint(v)
}
