package model

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/yalp/jsonpath"
)

// LookupPath resolves a deep path against an agent output. Paths may be given
// in JSONPath form ("$.user.name") or dotted form ("user.name"). The second
// return value reports whether the path resolved at all; a resolved path may
// still hold a nil (JSON null) value.
func LookupPath(output any, path string) (any, bool) {
	if output == nil || path == "" {
		return nil, false
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	v, err := jsonpath.Read(output, path)
	if err != nil {
		return nil, false
	}
	return v, true
}

// DeepEqual compares two values after normalization, so that YAML-decoded
// expectations (ints, strings) compare equal to JSON-decoded outputs
// (float64, strings).
func DeepEqual(a, b any) bool {
	return normalize(a) == normalize(b)
}

func normalize(v any) string {
	if v == nil {
		return "null"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var parts []string
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, normalize(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Sprint(v)
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
		sortStrings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, k+": "+normalize(rv.MapIndex(reflect.ValueOf(k)).Interface()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", rv.Int())
	case reflect.Bool:
		return fmt.Sprintf("%t", rv.Bool())
	case reflect.String:
		return rv.String()
	default:
		return fmt.Sprint(v)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// GetAllEnv returns the process environment as a template context map.
func GetAllEnv() map[string]string {
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	return envMap
}

// RenderTemplate safely parses and executes a Raymond template.
// If parsing or execution fails, it returns the input string unchanged.
func RenderTemplate(input string, context map[string]string) string {
	tmpl, err := raymond.Parse(input)
	if err != nil {
		log.Printf("Failed to parse template: %v", err)
		return input
	}

	output, err := tmpl.Exec(context)
	if err != nil {
		log.Printf("Failed to execute template: %v", err)
		return input
	}

	return output
}
