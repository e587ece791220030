package asset

import (
	"context"
	"path"
	"strings"
)

// Language tags returned by DetectLanguage.
const (
	LanguageWasm = "wasm"
	LanguageLua  = "lua"
	LanguageRhai = "rhai"
)

// Asset is the raw source of one script.
type Asset struct {
	ID       string
	Language string
	Bytes    []byte
}

// Source yields script sources by identifier.
type Source interface {
	Load(ctx context.Context, id string) (Asset, error)
}

// Watcher reports the identifiers of scripts whose source changed.
type Watcher interface {
	Changes() <-chan string
}

// DetectLanguage returns the language tag for a script identifier based
// on its extension, or "" when unknown.
func DetectLanguage(id string) string {
	switch strings.ToLower(path.Ext(id)) {
	case ".wasm":
		return LanguageWasm
	case ".lua":
		return LanguageLua
	case ".rhai":
		return LanguageRhai
	default:
		return ""
	}
}
