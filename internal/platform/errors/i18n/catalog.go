// Package i18n renders localized user messages for settlement error codes.
package i18n

import (
	"strings"
	"sync"
	"text/template"

	i18ncatalog "github.com/louisbranch/settlement/internal/platform/i18n/catalog"
)

// Code mirrors errors.Code; importing it would cycle.
type Code = string

// namespace is the bundle namespace holding error message templates.
const namespace = "errors"

// Catalog holds the compiled error messages of one locale.
type Catalog struct {
	locale  string
	entries map[Code]message
}

type message struct {
	raw  string
	tmpl *template.Template
}

var (
	mu    sync.RWMutex
	byTag = map[string]*Catalog{}
)

// NewCatalog compiles messages for locale. A template that does not parse
// is kept and rendered as raw text.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	entries := make(map[Code]message, len(messages))
	for code, raw := range messages {
		tmpl, err := template.New(code).Option("missingkey=zero").Parse(raw)
		if err != nil {
			tmpl = nil
		}
		entries[code] = message{raw: raw, tmpl: tmpl}
	}
	return &Catalog{locale: locale, entries: entries}
}

// ForLocale returns the catalog for locale, building it from the embedded
// bundle on first use. Unknown locales resolve to the bundle's fallback.
func ForLocale(locale string) *Catalog {
	tag := strings.TrimSpace(locale)
	if tag == "" {
		tag = i18ncatalog.BaseLocale
	}
	if cat := lookup(tag); cat != nil {
		return cat
	}
	resolved, messages := i18ncatalog.Default().NamespaceMessagesWithFallback(tag, namespace)
	if cat := lookup(resolved); cat != nil {
		return cat
	}
	return storeOnce(resolved, NewCatalog(resolved, messages))
}

// Register installs cat for locale, replacing any cached catalog.
func Register(locale string, cat *Catalog) {
	mu.Lock()
	defer mu.Unlock()
	byTag[locale] = cat
}

// Locale reports the locale cat was built for.
func (c *Catalog) Locale() string {
	return c.locale
}

// Has reports whether code has a message in cat.
func (c *Catalog) Has(code Code) bool {
	_, ok := c.entries[code]
	return ok
}

// Format renders the message for code with metadata. Unknown codes render
// as the code itself; missing metadata keys render empty.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	msg, ok := c.entries[code]
	if !ok {
		return code
	}
	if msg.tmpl == nil {
		return msg.raw
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var b strings.Builder
	if err := msg.tmpl.Execute(&b, metadata); err != nil {
		return msg.raw
	}
	return b.String()
}

func lookup(locale string) *Catalog {
	mu.RLock()
	defer mu.RUnlock()
	return byTag[locale]
}

func storeOnce(locale string, cat *Catalog) *Catalog {
	mu.Lock()
	defer mu.Unlock()
	if existing, ok := byTag[locale]; ok {
		return existing
	}
	byTag[locale] = cat
	return cat
}
