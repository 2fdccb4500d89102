package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RootPath marks non-JSON content treated as one opaque string
const RootPath = "$root"

// StringField is one translatable string leaf of an analysis document
type StringField struct {
	Path  string
	Value string
}

// ExtractStrings walks the JSON document and returns every string leaf
// with its path, like `items[2].title`. Content that does not parse as a
// JSON object or array is returned whole under the RootPath.
func ExtractStrings(content string) []StringField {
	doc, ok := parse(content)
	if !ok {
		return []StringField{{Path: RootPath, Value: content}}
	}
	var res []StringField
	walk(doc, "", func(path, value string) {
		res = append(res, StringField{Path: path, Value: value})
	})
	return res
}

// ReplaceStrings rebuilds the document with string leaves substituted by
// path. Paths missing from repl keep their original value, so a partial
// translation still yields a valid document. Numbers survive the round
// trip unchanged.
func ReplaceStrings(content string, repl map[string]string) (string, error) {
	doc, ok := parse(content)
	if !ok {
		if v, okR := repl[RootPath]; okR {
			return v, nil
		}
		return content, nil
	}
	replaced := rebuild(doc, "", repl)
	b := &bytes.Buffer{}
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(replaced); err != nil {
		return "", fmt.Errorf("can't marshal document: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func parse(content string) (any, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	return doc, true
}

func walk(node any, path string, visit func(path, value string)) {
	switch v := node.(type) {
	case map[string]any:
		for _, k := range sortedKeys(v) {
			walk(v[k], childPath(path, k), visit)
		}
	case []any:
		for i, item := range v {
			walk(item, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	case string:
		visit(path, v)
	}
}

func rebuild(node any, path string, repl map[string]string) any {
	switch v := node.(type) {
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, item := range v {
			res[k] = rebuild(item, childPath(path, k), repl)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, item := range v {
			res[i] = rebuild(item, fmt.Sprintf("%s[%d]", path, i), repl)
		}
		return res
	case string:
		if r, ok := repl[path]; ok {
			return r
		}
		return v
	default:
		return v
	}
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys(m map[string]any) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
