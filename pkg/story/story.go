// Package story builds the storyteller prompt for the story phase from
// what the child said during the intro.
package story

import (
	"strings"

	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// FirstMessage is what a dynamically created story agent says first.
const FirstMessage = "Once upon a time..."

const promptHeader = `You are a warm, engaging storyteller for children aged 4-8.
You are about to tell an interactive story based on what the child shared with you.

Here is what the child told you during the intro:
---
`

const promptGuidelines = `
---

STORYTELLING GUIDELINES:
1. Create a personalized adventure incorporating the child's interests and preferences
2. Use simple, age-appropriate language
3. Pause occasionally to ask the child questions like "What do you think happens next?"
4. Include the child as the hero of the story
5. Keep the story positive, magical, and encouraging
6. The story should last about 3-5 minutes when told aloud
7. End with a happy, satisfying conclusion

Begin the story with "Once upon a time..." and make it magical!
`

// BuildPrompt embeds the child's intro answers in the storyteller prompt.
// A nil intro yields the prompt with an empty answer block.
func BuildPrompt(intro *transcript.Transcript) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(strings.Join(intro.Texts(transcript.SpeakerUser), "\n"))
	b.WriteString(promptGuidelines)
	return b.String()
}

// Preview returns the first n runes of prompt followed by "..." when the
// prompt is longer.
func Preview(prompt string, n int) string {
	r := []rune(prompt)
	if n < 0 || len(r) <= n {
		return prompt
	}
	return string(r[:n]) + "..."
}
