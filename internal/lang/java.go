package lang

import "github.com/smacker/go-tree-sitter/java"

func init() {
	Languages["java"] = &Language{
		Name:       "java",
		Extensions: []string{".java"},
		lang:       java.GetLanguage(),
	}
}
