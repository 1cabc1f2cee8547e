// Package lang holds the closed catalog of caption languages. The set of
// valid codes is data, not a type: adding a language is a table edit.
package lang

import (
	"encoding/json"
	"fmt"
)

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// DefaultCode is the language spoken captions are published in before any
// translation happens. No translator is ever created for it.
const DefaultCode = "en"

var catalog = []Language{
	{Code: "en", Name: "English", Flag: "🇺🇸"},
	{Code: "es", Name: "Spanish", Flag: "🇪🇸"},
	{Code: "fr", Name: "French", Flag: "🇫🇷"},
	{Code: "de", Name: "German", Flag: "🇩🇪"},
	{Code: "ja", Name: "Japanese", Flag: "🇯🇵"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(catalog))
	for _, l := range catalog {
		m[l.Code] = l
	}
	return m
}()

func Lookup(code string) (Language, error) {
	l, ok := byCode[code]
	if !ok {
		return Language{}, fmt.Errorf("unsupported language code: %q", code)
	}
	return l, nil
}

// All returns the catalog in its declared order.
func All() []Language {
	out := make([]Language, len(catalog))
	copy(out, catalog)
	return out
}

// MarshalCatalog serializes the catalog as an ordered JSON array, the shape
// clients use to populate their language pickers.
func MarshalCatalog() ([]byte, error) {
	return json.Marshal(All())
}
