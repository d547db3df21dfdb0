package chatgpt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultContext is used when a request names no context or an unknown one.
const DefaultContext = "text"

//go:embed contexts.yaml
var defaultCatalogue []byte

// Context is one system prompt preset.
type Context struct {
	Prompt string `yaml:"prompt"`
	// Cacheable is false for contexts whose answers must never be reused.
	Cacheable     bool `yaml:"cacheable"`
	RequiresImage bool `yaml:"requires_image"`
}

// Catalogue maps context names to presets.
type Catalogue map[string]Context

// LoadCatalogue reads the catalogue from path, or the embedded default when
// path is empty.
func LoadCatalogue(path string) (Catalogue, error) {
	data := defaultCatalogue
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read context catalogue: %w", err)
		}
		data = b
	}
	return ParseCatalogue(data)
}

func ParseCatalogue(data []byte) (Catalogue, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse context catalogue: %w", err)
	}
	if _, ok := cat[DefaultContext]; !ok {
		return nil, errors.New("context catalogue must define \"" + DefaultContext + "\"")
	}
	return cat, nil
}

// Resolve returns the preset for name, falling back to DefaultContext.
func (c Catalogue) Resolve(name string) (string, Context) {
	if ctx, ok := c[name]; ok {
		return name, ctx
	}
	return DefaultContext, c[DefaultContext]
}

// SystemPrompt fills the language placeholders.
func (c Context) SystemPrompt(fromLang, toLang string) string {
	return strings.NewReplacer("{from_lang}", fromLang, "{to_lang}", toLang).Replace(c.Prompt)
}
