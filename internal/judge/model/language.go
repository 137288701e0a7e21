package model

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultLanguages maps language keys to Judge0 CE language ids.
var DefaultLanguages = map[string]int{
	"c":          50,
	"cpp":        54,
	"go":         60,
	"java":       62,
	"javascript": 63,
	"python":     71,
}

// LanguageTable resolves a submitted language key to a judge language id.
type LanguageTable struct {
	byKey map[string]int
	byID  map[int]string
}

// NewLanguageTable builds a table from key->id pairs. An empty map falls back to DefaultLanguages.
func NewLanguageTable(langs map[string]int) *LanguageTable {
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	t := &LanguageTable{
		byKey: make(map[string]int, len(langs)),
		byID:  make(map[int]string, len(langs)),
	}
	for key, id := range langs {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || id <= 0 {
			continue
		}
		t.byKey[key] = id
		t.byID[id] = key
	}
	return t
}

// Resolve accepts either a language key ("cpp") or a configured numeric id ("54").
// It returns the canonical key and the judge id.
func (t *LanguageTable) Resolve(lang string) (string, int, bool) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if id, ok := t.byKey[lang]; ok {
		return lang, id, true
	}
	if id, err := strconv.Atoi(lang); err == nil {
		if key, ok := t.byID[id]; ok {
			return key, id, true
		}
	}
	return "", 0, false
}

// Keys lists the supported language keys in sorted order.
func (t *LanguageTable) Keys() []string {
	keys := make([]string, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
