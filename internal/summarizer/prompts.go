package summarizer

import (
	"fmt"
	"strings"

	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/store"
)

// Placeholders substituted into prompts when the corresponding state is
// empty. The model handles an explicit placeholder better than a blank
// section.
const (
	placeholderFirstSession = "(first session)"
	placeholderSessionStart = "(session start)"
	placeholderNone         = "(none)"
	placeholderNoNPCs       = "(none known)"
)

// Markers of the question-extraction loop and the finalize split. These are
// part of the protocol with the model and with stored data; do not reword.
const (
	sessionSummaryMarker  = "---SESSION_SUMMARY---"
	campaignSummaryMarker = "---CAMPAIGN_SUMMARY---"
)

// buildSystemPrompt renders the campaign context into the system prompt that
// accompanies every summarizer call.
func buildSystemPrompt(c *config.CampaignConfig, campaignSummary string, npcs []store.NPC) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the chronicler of %q, a tabletop role-playing campaign", c.Name)
	if c.GameSystem != "" {
		fmt.Fprintf(&b, " played in the %s system", c.GameSystem)
	}
	b.WriteString(". You maintain a running third-person narrative summary of each play session from raw voice transcripts.\n\n")

	if c.Description != "" {
		fmt.Fprintf(&b, "Campaign description: %s\n\n", c.Description)
	}

	if campaignSummary == "" {
		campaignSummary = placeholderFirstSession
	}
	fmt.Fprintf(&b, "The campaign so far:\n%s\n\n", campaignSummary)

	b.WriteString("Players:\n")
	for _, p := range c.Players {
		fmt.Fprintf(&b, "- %s", p.CharacterName)
		if p.DiscordName != "" {
			fmt.Fprintf(&b, " (played by %s)", p.DiscordName)
		}
		if p.CharacterDescription != "" {
			fmt.Fprintf(&b, ": %s", p.CharacterDescription)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("Known NPCs:\n")
	if len(npcs) == 0 {
		b.WriteString(placeholderNoNPCs + "\n")
	}
	for _, npc := range npcs {
		fmt.Fprintf(&b, "- %s", npc.Name)
		if npc.Description != "" {
			fmt.Fprintf(&b, ": %s", npc.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "The dungeon master appears in transcripts as %s and voices every NPC.\n\n", dmDisplayName(c))

	if len(c.Locations) > 0 {
		fmt.Fprintf(&b, "Known locations: %s\n\n", strings.Join(c.Locations, ", "))
	}

	b.WriteString(`Rules:
- Write the summary as third-person narrative in past tense.
- Distinguish in-character events from out-of-character table talk; only the story belongs in the summary.
- Identify from context which NPC the dungeon master is speaking as.
- Rewrite earlier parts of the summary whenever new information clarifies them; the summary is a living document, not a log.
- When something important is ambiguous, add a marker of the form [QUESTION: your question] on its own line. Ask sparingly.
`)

	lang := c.Language
	if lang == "" {
		lang = "en"
	}
	fmt.Fprintf(&b, "- Write all output in the language with ISO code %q.\n", lang)

	if text := strings.TrimSpace(c.CustomInstructions.Text); text != "" {
		b.WriteString("\nAdditional instructions from the group:\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	return b.String()
}

// dmDisplayName resolves the DM's display name through the speaker map,
// falling back to a generic label when the DM has no character entry.
func dmDisplayName(c *config.CampaignConfig) string {
	if name, ok := c.SpeakerMap()[c.DM.DiscordID]; ok && name != "" {
		return name
	}
	return "the DM"
}

// buildUpdatePrompt renders one incremental pass: the current summary, the
// answers users supplied since the last pass, and the new transcript lines.
func buildUpdatePrompt(sessionSummary, answersBlock, transcript string) string {
	var b strings.Builder

	if sessionSummary == "" {
		sessionSummary = placeholderSessionStart
	}
	fmt.Fprintf(&b, "Current session summary:\n%s\n\n", sessionSummary)

	if answersBlock != "" {
		fmt.Fprintf(&b, "USER ANSWERS:\n%s\n", answersBlock)
		b.WriteString("Incorporate these answers; they resolve questions you asked earlier.\n\n")
	}

	fmt.Fprintf(&b, "New transcript lines:\n%s\n\n", transcript)

	b.WriteString("Rewrite the complete session summary, incorporating the new lines. Output only the summary.")
	return b.String()
}

// buildFinalizePrompt renders the session-end pass asking for the marker-split
// double summary.
func buildFinalizePrompt(sessionSummary, campaignSummary, answersBlock, transcript string) string {
	var b strings.Builder

	b.WriteString("The session has ended.\n\n")

	if sessionSummary == "" {
		sessionSummary = placeholderSessionStart
	}
	fmt.Fprintf(&b, "Current session summary:\n%s\n\n", sessionSummary)

	if campaignSummary == "" {
		campaignSummary = placeholderFirstSession
	}
	fmt.Fprintf(&b, "The campaign so far:\n%s\n\n", campaignSummary)

	if answersBlock != "" {
		fmt.Fprintf(&b, "USER ANSWERS:\n%s\n\n", answersBlock)
	}

	if transcript == "" {
		transcript = placeholderNone
	}
	fmt.Fprintf(&b, "Remaining transcript lines:\n%s\n\n", transcript)

	fmt.Fprintf(&b, `Produce two sections delimited by these exact markers:
%s
The polished final summary of this session.
%s
The updated campaign summary, folding this session into the story so far.`,
		sessionSummaryMarker, campaignSummaryMarker)
	return b.String()
}

// buildEntityPrompt renders the optional post-finalize extraction pass.
func buildEntityPrompt(sessionSummary string) string {
	return fmt.Sprintf(`From the following session summary, extract every non-player character and location that appears.

Session summary:
%s

Reply with a single JSON object of the form
{"npcs": [{"name": "...", "description": "..."}], "locations": ["..."]}
and nothing else.`, sessionSummary)
}

// formatAnswers renders answered questions as the answers block injected into
// the next pass.
func formatAnswers(questions []store.Question) string {
	var b strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", q.Question, q.Answer)
	}
	return b.String()
}

// formatTranscript renders pending lines as the model sees them.
func formatTranscript(lines []pendingLine) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]: %s", l.Speaker, l.Text)
	}
	return b.String()
}
