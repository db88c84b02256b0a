// Package assistant backs the floating chat widget: it asks the API for
// card metadata and writes the answer up as short prose.
package assistant

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"cardauction/internal/apiclient"
)

const (
	RoleUser = "user"
	RoleBot  = "bot"

	notFoundText    = "No information found for this Pokemon."
	rateLimitedText = "I'm getting too many requests right now. Please wait a moment and try again."
	genericErrText  = "Sorry, I encountered an error. Please try again."
)

// Message is one line of the chat transcript. When IsHTML is set Content
// is already escaped markup produced by RenderMarkdown.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	IsHTML  bool   `json:"is_html"`
}

var (
	boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)
	emRe   = regexp.MustCompile(`\*(.*?)\*`)
	h4Re   = regexp.MustCompile(`#### (.*?)\n`)
	h3Re   = regexp.MustCompile(`### (.*?)\n`)
)

// RenderMarkdown converts the small markdown subset used in answers to
// HTML. The text is escaped first so only the generated tags survive.
func RenderMarkdown(text string) string {
	out := html.EscapeString(text)
	out = boldRe.ReplaceAllString(out, "<strong>$1</strong>")
	out = emRe.ReplaceAllString(out, "<em>$1</em>")
	out = h4Re.ReplaceAllString(out, "<h4>$1</h4>")
	out = h3Re.ReplaceAllString(out, "<h3>$1</h3>")
	return strings.ReplaceAll(out, "\n", "<br/>")
}

// Format writes card metadata up as a bot message.
func Format(info *apiclient.CardInfo) Message {
	if info == nil {
		return Message{Role: RoleBot, Content: notFoundText}
	}
	if info.Error != "" {
		return Message{Role: RoleBot, Content: info.Error}
	}
	if info.Description != "" {
		return Message{Role: RoleBot, Content: RenderMarkdown(info.Description), IsHTML: true}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎴 **%s** Card Details:\n\n", info.Name)
	fmt.Fprintf(&b, "Type: %s\n", info.Supertype)
	fmt.Fprintf(&b, "HP: %s\n", info.HP)
	fmt.Fprintf(&b, "Set: %s\n\n", info.Set)

	if len(info.Attacks) > 0 {
		b.WriteString("⚔️ Attacks:\n")
		for _, a := range info.Attacks {
			damage := a.Damage
			if damage == "" {
				damage = "None"
			}
			fmt.Fprintf(&b, "\n%s\n", a.Name)
			fmt.Fprintf(&b, "- Cost: %s\n", strings.Join(a.Cost, ", "))
			fmt.Fprintf(&b, "- Damage: %s\n", damage)
			if a.Text != "" {
				fmt.Fprintf(&b, "- Effect: %s\n", a.Text)
			}
		}
		b.WriteString("\n")
	}

	if len(info.Weaknesses) > 0 {
		b.WriteString("⚠️ Weaknesses:\n")
		for _, w := range info.Weaknesses {
			fmt.Fprintf(&b, "- %s: %s\n", w.Type, w.Value)
		}
		b.WriteString("\n")
	}

	if info.FlavorText != "" {
		fmt.Fprintf(&b, "📝 %s\n", info.FlavorText)
	}

	return Message{Role: RoleBot, Content: RenderMarkdown(b.String()), IsHTML: true}
}

// ErrorReply is the plain-text answer shown when the lookup fails.
func ErrorReply(err error) Message {
	switch {
	case errors.Is(err, apiclient.ErrRateLimited):
		return Message{Role: RoleBot, Content: rateLimitedText}
	case errors.Is(err, apiclient.ErrNotFound):
		return Message{Role: RoleBot, Content: notFoundText}
	}
	return Message{Role: RoleBot, Content: genericErrText}
}
