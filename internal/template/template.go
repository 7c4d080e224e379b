// Package template renders the outgoing message from the user's template
// and a verdict. Slots: {name}, {why_match}, {draft}, {cta}. A missing
// slot value becomes a neutral filler, never a visible placeholder.
package template

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBanned marks a rendered message that hit the banned-phrase list with
// no usable draft to fall back to.
var ErrBanned = errors.New("banned phrase in rendered message")

// Neutral fillers for empty slot values.
const (
	fillerName     = "there"
	fillerWhyMatch = "your profile stood out to me"
	fillerDraft    = "I'd love to connect."
	fillerCTA      = "Would you be open to a quick chat?"
)

// Slots carries the substitution values for one candidate.
type Slots struct {
	Name     string // candidate display name, empty when extraction failed
	WhyMatch string // verdict rationale
	Draft    string // verdict draft; also the fallback message
	CTA      string // call to action override, usually empty
}

// Renderer applies slot substitution, the length cap and the banned-phrase
// rule. Safe for concurrent use.
type Renderer struct {
	maxChars int
	banned   []string // lowercased
}

// New builds a Renderer. maxChars <= 0 disables the length cap.
func New(maxChars int, banned []string) *Renderer {
	low := make([]string, 0, len(banned))
	for _, p := range banned {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			low = append(low, p)
		}
	}
	return &Renderer{maxChars: maxChars, banned: low}
}

// Render produces the message for one candidate. On a banned-phrase hit
// the verdict's original draft is returned unchanged when non-empty;
// otherwise ErrBanned propagates. An effectively empty template falls
// back the same way.
func (r *Renderer) Render(tpl string, slots Slots) (string, error) {
	if strings.TrimSpace(tpl) == "" {
		if slots.Draft != "" {
			return slots.Draft, nil
		}
		return "", fmt.Errorf("empty template and empty draft: %w", ErrBanned)
	}

	out := strings.NewReplacer(
		"{name}", orFiller(slots.Name, fillerName),
		"{why_match}", orFiller(slots.WhyMatch, fillerWhyMatch),
		"{draft}", orFiller(slots.Draft, fillerDraft),
		"{cta}", orFiller(slots.CTA, fillerCTA),
	).Replace(tpl)

	out = capRunes(out, r.maxChars)

	if phrase := r.findBanned(out); phrase != "" {
		if slots.Draft != "" {
			return slots.Draft, nil
		}
		return "", fmt.Errorf("phrase %q: %w", phrase, ErrBanned)
	}
	return out, nil
}

func orFiller(v, filler string) string {
	if strings.TrimSpace(v) == "" {
		return filler
	}
	return v
}

func (r *Renderer) findBanned(msg string) string {
	low := strings.ToLower(msg)
	for _, p := range r.banned {
		if strings.Contains(low, p) {
			return p
		}
	}
	return ""
}

func capRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " \t\n")
}
