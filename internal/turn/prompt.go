package turn

import "strings"

// NoFactsPlaceholder stands in for the fact list when retrieval found nothing.
const NoFactsPlaceholder = "(No relevant facts found)"

const factsSlot = "{relevant_facts}"

// SystemPromptTemplate is the narrator persona shared by both passes.
// factsSlot is replaced with the retrieved facts.
const SystemPromptTemplate = `You are the Narrator of a Victorian detective text adventure.
Voice: Doyle‑inspired, concise, modern readability.
Always respond in **valid Markdown**.

Use:
- ### for scene headers
- > for descriptive narration
- **bold** for NPCs/items/clues
- _italics_ for thoughts
- Bullet lists for Next actions.

End every turn with:
**Next actions:**
- [suggested command 1]
- [suggested command 2]

[RELEVANT FACTS]
` + factsSlot + `
`

// SystemPrompt fills the template with facts, or with NoFactsPlaceholder
// when facts is empty.
func SystemPrompt(facts string) string {
	if strings.TrimSpace(facts) == "" {
		facts = NoFactsPlaceholder
	}
	return strings.Replace(SystemPromptTemplate, factsSlot, facts, 1)
}
