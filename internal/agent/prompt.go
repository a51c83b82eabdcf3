package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/models"
)

// aliasPattern matches the "call me X" family of requests that can be
// answered without a model round-trip.
var aliasPattern = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:call me|my name is|refer to me as)\s+([\p{L}\p{N} _'-]{1,64}?)\s*[.!]?\s*$`)

// DetectAlias reports whether the message is purely an alias request and, if
// so, the requested name.
func DetectAlias(text string) (string, bool) {
	m := aliasPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	alias := strings.TrimSpace(m[1])
	if alias == "" {
		return "", false
	}
	return alias, true
}

// BuildSystemPrompt renders the persona, the speaker's profile, recalled
// facts and the current queue situation into one system message.
func BuildSystemPrompt(persona config.PersonaConfig, pkg *models.ContextPackage, queueDepth int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s.", persona.Name)
	if persona.Personality != "" {
		fmt.Fprintf(&b, " %s", persona.Personality)
	}
	b.WriteString("\n")
	if persona.Language != "" {
		fmt.Fprintf(&b, "Reply in %s unless the user speaks another language.\n", persona.Language)
	}

	user := pkg.Profile.User
	if user.UserID != "" {
		fmt.Fprintf(&b, "\nYou are talking to %s (user id %s).\n", user.DisplayName(), user.UserID)
	}
	if len(pkg.Profile.Facts) > 0 {
		b.WriteString("What you know about them:\n")
		for _, fact := range pkg.Profile.Facts {
			fmt.Fprintf(&b, "- %s\n", fact.Content)
		}
	}

	if len(pkg.Facts) > 0 {
		b.WriteString("\nRelevant memories:\n")
		for _, fact := range pkg.Facts {
			fmt.Fprintf(&b, "- %s\n", fact.Content)
		}
	}

	if queueDepth > 0 {
		fmt.Fprintf(&b, "\n%d more message(s) are waiting in this conversation; keep the reply focused.\n", queueDepth)
	}

	if pkg.Degraded.Any() {
		b.WriteString("\nSome of your memory was unavailable just now; avoid claiming you remember things you cannot see.\n")
	}

	b.WriteString("\nUse your tools when they genuinely help. Store a fact with store_knowledge when the user tells you something worth remembering.")
	return b.String()
}

// HistoryToContents converts stored messages into model request contents.
// Tool messages are folded into plain text; only the current turn carries
// live function-call parts.
func HistoryToContents(history []*models.Message) []models.Content {
	contents := make([]models.Content, 0, len(history))
	for _, msg := range history {
		role := msg.Role
		if role != models.SpeakerUser && role != models.SpeakerAssistant {
			role = models.SpeakerUser
		}
		text := msg.Content
		if msg.Role == models.SpeakerUser && msg.AuthorUserID != "" {
			text = fmt.Sprintf("[%s] %s", msg.AuthorUserID, text)
		}
		contents = append(contents, models.Content{
			Role:  role,
			Parts: []*models.Part{{Text: text}},
		})
	}
	return contents
}

// EstimateTokens is the budget heuristic: roughly four bytes per token for
// the mixed prose these prompts carry.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
