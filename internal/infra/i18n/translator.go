package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator resolves message keys to localized format strings.
type Translator struct {
	lang     string
	messages map[string]string
}

// New loads a bundled locale.
func New(lang string) (*Translator, error) {
	return NewTranslator(LocalesFS, lang)
}

// NewTranslator reads locales/<lang>.yaml from fsys.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	p := path.Join("locales", lang+".yaml")
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, fmt.Errorf("read locale %s: %w", p, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = lang
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var messages map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse locale: %w", err)
	}
	return &Translator{messages: messages}, nil
}

func (t *Translator) Lang() string { return t.lang }

// T formats the message for key, or returns key itself when it is unknown.
func (t *Translator) T(key string, args ...any) string {
	format, ok := t.messages[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
