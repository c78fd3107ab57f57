package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

const DefaultLanguage = "en"

// Translator holds one flat key -> format table per language.
type Translator struct {
	langs map[string]map[string]string
}

// NewTranslator loads every locales/<lang>.yaml in fsys. The default
// language must be present.
func NewTranslator(fsys fs.FS) (*Translator, error) {
	files, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, err
	}
	t := &Translator{langs: make(map[string]map[string]string, len(files))}
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("failed to read translation file %s: %w", f, err)
		}
		table, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		t.langs[strings.TrimSuffix(path.Base(f), ".yaml")] = table
	}
	if _, ok := t.langs[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("missing %s locale", DefaultLanguage)
	}
	return t, nil
}

// MustDefault loads the embedded locales.
func MustDefault() *Translator {
	t, err := NewTranslator(LocalesFS)
	if err != nil {
		panic(err)
	}
	return t
}

func parse(data []byte) (map[string]string, error) {
	var table map[string]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return table, nil
}

// Languages lists the loaded language codes.
func (t *Translator) Languages() []string {
	out := make([]string, 0, len(t.langs))
	for l := range t.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// T translates key into lang, falling back to the default language and
// finally to the key itself.
func (t *Translator) T(lang, key string, args ...interface{}) string {
	format, ok := t.langs[lang][key]
	if !ok {
		format, ok = t.langs[DefaultLanguage][key]
	}
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Negotiate picks the first supported language from an Accept-Language header.
// Quality values are ignored; browsers already send them in preference order.
func (t *Translator) Negotiate(acceptLanguage string) string {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" {
			continue
		}
		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if _, ok := t.langs[base]; ok {
			return base
		}
	}
	return DefaultLanguage
}
