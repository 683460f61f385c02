// Package lang provides a language registry mapping file extensions to
// tree-sitter languages and their embedded default rule sets.
package lang

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed rules/*.yaml
var rulesFS embed.FS

// ErrNoDefaultRules is returned by DefaultRules for languages that do not
// ship a built-in rule set.
var ErrNoDefaultRules = errors.New("no built-in rule set")

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	rulesOnce sync.Once
	rules     []byte
	rulesErr  error
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// DefaultRules returns the raw YAML of the built-in rule set for this
// language, or an error wrapping ErrNoDefaultRules.
func (l *Language) DefaultRules() ([]byte, error) {
	l.rulesOnce.Do(func() {
		data, err := rulesFS.ReadFile(fmt.Sprintf("rules/%s.yaml", l.Name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.rulesErr = fmt.Errorf("%s: %w", l.Name, ErrNoDefaultRules)
				return
			}
			l.rulesErr = fmt.Errorf("reading rule set: %w", err)
			return
		}
		l.rules = data
	})
	return l.rules, l.rulesErr
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Lookup returns the registered language with the given name.
func Lookup(name string) (*Language, error) {
	l, ok := Languages[name]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q", name)
	}
	return l, nil
}
