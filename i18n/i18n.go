// Package i18n resolves user- and model-facing strings by key.
//
// Core packages depend only on the Catalog interface; the catalog instance
// travels with each turn so that tests and embedders can substitute their
// own strings.
package i18n

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Language is a supported catalog language.
type Language string

const (
	En   Language = "en"
	ZhCn Language = "zh-cn"
)

var matcher = language.NewMatcher([]language.Tag{
	language.English,
	language.SimplifiedChinese,
})

// ParseLanguage maps a loose language name onto a supported language.
// Anything that is not recognisably Chinese falls back to English.
func ParseLanguage(s string) Language {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return En
	case "zh", "zh-cn", "zh_cn", "zh-hans", "zh_hans":
		return ZhCn
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return En
	}
	_, idx, conf := matcher.Match(tag)
	if idx == 1 && conf != language.No {
		return ZhCn
	}
	return En
}

// Catalog looks up localized strings.
type Catalog interface {
	// Tr returns the string for key, or key itself when no catalog has it.
	Tr(lang Language, key string) string

	// TrArgs is Tr followed by ${name} interpolation.
	TrArgs(lang Language, key string, args map[string]string) string
}

// Bundle is a Catalog backed by flattened YAML documents.
type Bundle struct {
	catalogs map[Language]map[string]string
}

//go:embed catalogs/*.yaml
var embedded embed.FS

// Default returns the bundle built from the embedded catalogs. It panics if
// the embedded files are malformed, which is a build defect.
func Default() *Bundle {
	b := NewBundle()
	for lang, file := range map[Language]string{En: "catalogs/en.yaml", ZhCn: "catalogs/zh-cn.yaml"} {
		data, err := embedded.ReadFile(file)
		if err != nil {
			panic(fmt.Sprintf("i18n: read %s: %v", file, err))
		}
		if err := b.Load(lang, data); err != nil {
			panic(fmt.Sprintf("i18n: %v", err))
		}
	}
	return b
}

// NewBundle returns an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{catalogs: make(map[Language]map[string]string)}
}

// Load parses a YAML document and merges its keys into lang's catalog.
// Nested mappings are flattened with dots. Duplicate keys are an error.
func (b *Bundle) Load(lang Language, data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s catalog: %w", lang, err)
	}
	strs := b.catalogs[lang]
	if strs == nil {
		strs = make(map[string]string)
		b.catalogs[lang] = strs
	}
	return flatten("", doc, strs)
}

// Set adds or replaces one entry.
func (b *Bundle) Set(lang Language, key, value string) {
	if b.catalogs[lang] == nil {
		b.catalogs[lang] = make(map[string]string)
	}
	b.catalogs[lang][key] = value
}

// Keys returns the sorted keys present for lang.
func (b *Bundle) Keys(lang Language) []string {
	keys := make([]string, 0, len(b.catalogs[lang]))
	for k := range b.catalogs[lang] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Bundle) Tr(lang Language, key string) string {
	if s, ok := b.catalogs[lang][key]; ok {
		return s
	}
	if s, ok := b.catalogs[En][key]; ok {
		return s
	}
	return key
}

func (b *Bundle) TrArgs(lang Language, key string, args map[string]string) string {
	return Interpolate(b.Tr(lang, key), args)
}

// Interpolate replaces ${name} placeholders with args[name]. Placeholders
// without a matching argument are left as written.
func Interpolate(template string, args map[string]string) string {
	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:start])
		after := rest[start+2:]
		end := strings.IndexByte(after, '}')
		if end < 0 {
			out.WriteString("${")
			out.WriteString(after)
			return out.String()
		}
		name := after[:end]
		if v, ok := args[name]; ok {
			out.WriteString(v)
		} else {
			out.WriteString("${" + name + "}")
		}
		rest = after[end+1:]
	}
}

func flatten(prefix string, node map[string]any, out map[string]string) error {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			if err := flatten(key, val, out); err != nil {
				return err
			}
		case string:
			if _, dup := out[key]; dup {
				return fmt.Errorf("duplicate i18n key: %s", key)
			}
			out[key] = val
		default:
			return fmt.Errorf("i18n key %s: unsupported value type %T", key, v)
		}
	}
	return nil
}
