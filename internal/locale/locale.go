// Package locale resolves user-facing strings. Built-in tables cover the
// supported languages; a TOML file can override any key.
package locale

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// DefaultLanguage is used when a language has no table.
const DefaultLanguage = "en"

var tables = map[string]map[string]string{
	"en": {
		KeyIntroduceInChat:   "Please introduce yourself so we can get back to you.",
		KeyMustFill:          "Leave your contact info and we will reply as soon as an agent is available.",
		KeyContactFormSent:   "Thank you! Your contact info has been sent.",
		KeyContactInfoReason: "Fill in the contact form to continue",
	},
	"ru": {
		KeyIntroduceInChat:   "Представьтесь, пожалуйста, чтобы мы могли с вами связаться.",
		KeyMustFill:          "Оставьте контакты, и мы ответим, как только освободится оператор.",
		KeyContactFormSent:   "Спасибо! Ваши контакты отправлены.",
		KeyContactInfoReason: "Заполните контактную форму, чтобы продолжить",
	},
	"es": {
		KeyIntroduceInChat:   "Preséntese para que podamos responderle.",
		KeyMustFill:          "Deje sus datos de contacto y le responderemos en cuanto haya un agente disponible.",
		KeyContactFormSent:   "¡Gracias! Sus datos de contacto han sido enviados.",
		KeyContactInfoReason: "Complete el formulario de contacto para continuar",
	},
}

// Localizer resolves keys for one language. It is safe for concurrent use;
// overrides may be reloaded while the engine is localizing.
type Localizer struct {
	lang string

	mu        sync.RWMutex
	overrides map[string]string
}

// New returns a Localizer for lang ("pt-BR" falls back to "pt", then to
// DefaultLanguage).
func New(lang string) *Localizer {
	return &Localizer{lang: resolve(lang)}
}

// LoadOverrides merges a TOML file of key = "text" pairs, optionally
// grouped in per-language tables:
//
//	"chat_input.status.contact_info" = "..."
//	[ru]
//	"chat_input.status.contact_info" = "..."
func (l *Localizer) LoadOverrides(path string) error {
	parsed, err := l.parse(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.overrides == nil {
		l.overrides = make(map[string]string, len(parsed))
	}
	for k, v := range parsed {
		l.overrides[k] = v
	}
	return nil
}

// Reload replaces every override with the contents of path. On error the
// current overrides stay in place.
func (l *Localizer) Reload(path string) error {
	parsed, err := l.parse(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.overrides = parsed
	l.mu.Unlock()
	return nil
}

func (l *Localizer) parse(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load locale overrides: %w", err)
	}
	out := make(map[string]string)
	var own map[string]any
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			out[k] = v
		case map[string]any:
			if strings.ToLower(k) == l.lang {
				own = v
			}
		}
	}
	// The language's own table wins over top-level keys.
	for key, text := range own {
		if s, ok := text.(string); ok {
			out[key] = s
		}
	}
	return out, nil
}

// Language is the resolved language.
func (l *Localizer) Language() string {
	return l.lang
}

// Localize returns the text for key, or key itself when unknown.
func (l *Localizer) Localize(key string) string {
	l.mu.RLock()
	s, ok := l.overrides[key]
	l.mu.RUnlock()
	if ok {
		return s
	}
	if s, ok := tables[l.lang][key]; ok {
		return s
	}
	if s, ok := tables[DefaultLanguage][key]; ok {
		return s
	}
	return key
}

func resolve(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := tables[lang]; ok {
		return lang
	}
	base, _, _ := strings.Cut(strings.ReplaceAll(lang, "_", "-"), "-")
	if _, ok := tables[base]; ok {
		return base
	}
	return DefaultLanguage
}
