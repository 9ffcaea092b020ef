// ABOUTME: Prompt templates for emotion, memory and suggestion analysis
// ABOUTME: Renders a task's context into a provider request

package ai

import (
	"fmt"
	"strings"

	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/provider"
	"github.com/2389/petchat-gateway/internal/trigger"
)

type promptTemplate struct {
	system      string
	instruction string
	temperature float64
	maxTokens   int
}

var templates = map[trigger.Kind]promptTemplate{
	trigger.KindEmotion: {
		system: "You analyze the overall mood of a group conversation, not the mood of any single participant.",
		instruction: `Classify the overall emotional tone of the conversation below.
Possible labels: neutral (calm, relaxed), happy (cheerful, excited), tense (anxious, stressed), negative (conflict, gloomy).

Conversation:
%s

Reply with JSON only, giving a confidence for each label that sums to 1:
{"neutral": 0.5, "happy": 0.3, "tense": 0.1, "negative": 0.1}`,
		temperature: 0.3,
		maxTokens:   200,
	},
	trigger.KindMemory: {
		system: "You extract durable facts from conversations.",
		instruction: `Extract the key information worth remembering from the conversation below. Focus on:
1. important events mentioned together (trips, exams, deadlines)
2. explicit agreements that were reached
3. long-running topics

Conversation:
%s

Reply with a JSON array only. Each element has "text" (a short summary) and "category" (event, agreement or topic).
Reply [] if there is nothing worth remembering.`,
		temperature: 0.3,
		maxTokens:   500,
	},
	trigger.KindSuggestion: {
		system: "You help people organize plans and make decisions.",
		instruction: `Read the conversation below. If it involves plans, arrangements or a decision, write one practical suggestion.

Conversation:
%s

Reply with a JSON object only, with "title", "text" (the suggestion itself: an itinerary, a schedule or a checklist) and "kind" (plan, schedule or checklist).
Reply null if no suggestion is needed.`,
		temperature: 0.5,
		maxTokens:   300,
	},
}

// BuildRequest renders the provider request for task.
func BuildRequest(task trigger.Task) (provider.Request, error) {
	tmpl, ok := templates[task.Kind]
	if !ok {
		return provider.Request{}, fmt.Errorf("no prompt for task kind %q", task.Kind)
	}
	return provider.Request{
		System:      tmpl.system,
		Prompt:      fmt.Sprintf(tmpl.instruction, Transcript(task.Context)),
		Temperature: tmpl.temperature,
		MaxTokens:   tmpl.maxTokens,
	}, nil
}

// Transcript renders envelopes as "sender: content" lines.
func Transcript(envs []protocol.Envelope) string {
	var b strings.Builder
	for i, env := range envs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(env.Sender)
		b.WriteString(": ")
		b.WriteString(env.Content)
	}
	return b.String()
}
