// Package translate owns the per-language translation workers. Each worker
// serializes its translation calls so captions for one language come out in
// the order their source utterances were spoken.
package translate

import (
	"context"
	"fmt"

	"babble.town/lang"
)

// Translator converts one piece of text, guided by a per-language system
// prompt. One call per job, synchronous semantics.
type Translator interface {
	Translate(ctx context.Context, systemPrompt, text string) (string, error)
}

// SystemPrompt builds the standing instruction for a translation worker from
// the language's display name.
func SystemPrompt(language lang.Language) string {
	return fmt.Sprintf(
		"You are a translator for language: %s. "+
			"Your only response should be the exact translation of input text in the %s language.",
		language.Name, language.Name,
	)
}
