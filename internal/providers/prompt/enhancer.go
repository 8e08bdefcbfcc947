package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// VariationModifiers is the fixed ordered list of prompt prefixes used to
// derive the extra candidate images from the primary prompt.
var VariationModifiers = []string{
	"alternative perspective of",
	"different style of",
	"creative variation of",
}

// Enhancer rewrites a raw user prompt into one better suited to the image
// provider.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// StaticEnhancer enriches prompts deterministically without an upstream
// language model. It is the fallback when no enhancement provider is
// configured.
type StaticEnhancer struct{}

func NewStaticEnhancer() *StaticEnhancer {
	return &StaticEnhancer{}
}

func (s *StaticEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("prompt required")
	}
	c := cases.Title(language.Und)
	subject := c.String(trimmed)
	return fmt.Sprintf("%s, studio lighting, clean background, high detail, suitable for 3D printing", subject), nil
}

// VariationPrompt applies the ith modifier to an enhanced prompt.
func VariationPrompt(enhanced string, i int) string {
	if i < 0 || i >= len(VariationModifiers) {
		return enhanced
	}
	return VariationModifiers[i] + " " + enhanced
}

var _ Enhancer = (*StaticEnhancer)(nil)
