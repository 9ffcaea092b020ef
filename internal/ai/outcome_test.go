// ABOUTME: Tests for JSON extraction and outcome parsing of provider replies
// ABOUTME: Covers surrounding prose, nesting, code fences, score maps and empty replies

package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/trigger"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose around", `here you go: {"label":"happy","confidence":0.8} thanks`, `{"label":"happy","confidence":0.8}`, true},
		{"nested", `x {"a":{"b":[1,{"c":2}]}} y`, `{"a":{"b":[1,{"c":2}]}}`, true},
		{"brace inside string", `{"text":"use } and { freely"}`, `{"text":"use } and { freely"}`, true},
		{"escaped quote", `{"text":"say \"hi\" }"}`, `{"text":"say \"hi\" }"}`, true},
		{"code fence", "```json\n[{\"text\":\"exam friday\"}]\n```", `[{"text":"exam friday"}]`, true},
		{"skips invalid candidate", `{not json} then {"ok":true}`, `{"ok":true}`, true},
		{"bracketed prose first", `[note] {"ok":true}`, `{"ok":true}`, true},
		{"no json", `I could not find anything.`, ``, false},
		{"unbalanced", `{"a":1`, ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOutcome_EmotionLabel(t *testing.T) {
	out, err := ParseOutcome(trigger.KindEmotion, `here you go: {"label":"happy","confidence":0.8} thanks`)
	require.NoError(t, err)
	assert.Equal(t, EmotionResult{Label: "happy", Confidence: 0.8}, out)
}

func TestParseOutcome_EmotionScoreMap(t *testing.T) {
	out, err := ParseOutcome(trigger.KindEmotion, `{"neutral": 1, "happy": 2, "tense": 0.5, "negative": 0.5}`)
	require.NoError(t, err)

	emotion, ok := out.(EmotionResult)
	require.True(t, ok)
	assert.Equal(t, "happy", emotion.Label)
	assert.InDelta(t, 0.5, emotion.Confidence, 1e-9)
}

func TestParseOutcome_EmotionScoreMapIgnoresUnknownKeys(t *testing.T) {
	out, err := ParseOutcome(trigger.KindEmotion, `{"happy": 0.6, "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, EmotionResult{Label: "happy", Confidence: 1}, out)

	out, err = ParseOutcome(trigger.KindEmotion, `{"Happy": 3, "Tense": 1, "score": 10}`)
	require.NoError(t, err)
	emotion, ok := out.(EmotionResult)
	require.True(t, ok)
	assert.Equal(t, "happy", emotion.Label)
	assert.InDelta(t, 0.75, emotion.Confidence, 1e-9)
}

func TestParseOutcome_EmotionCustomLabels(t *testing.T) {
	labels := []string{"calm", "excited"}

	out, err := parseOutcome(trigger.KindEmotion, `{"calm": 0.2, "excited": 0.6, "happy": 0.9}`, labels)
	require.NoError(t, err)
	emotion, ok := out.(EmotionResult)
	require.True(t, ok)
	assert.Equal(t, "excited", emotion.Label)
	assert.InDelta(t, 0.75, emotion.Confidence, 1e-9)

	_, err = parseOutcome(trigger.KindEmotion, `{"happy": 0.9}`, labels)
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestParseOutcome_EmotionClampsConfidence(t *testing.T) {
	out, err := ParseOutcome(trigger.KindEmotion, `{"label":"Tense","confidence":7}`)
	require.NoError(t, err)
	assert.Equal(t, EmotionResult{Label: "tense", Confidence: 1}, out)
}

func TestParseOutcome_EmotionFailures(t *testing.T) {
	for _, raw := range []string{
		"no json at all",
		`{"neutral": 0, "happy": 0}`,
		`{"note": "nothing"}`,
		`[0.1, 0.9]`,
		`{"confidence": 0.8}`,
		`{"excited": 0.7, "bored": 0.3}`,
	} {
		out, err := ParseOutcome(trigger.KindEmotion, raw)
		assert.ErrorIs(t, err, ErrParseFailure, raw)
		assert.Nil(t, out)
	}
}

func TestParseOutcome_Memories(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []protocol.MemoryItem
	}{
		{
			"array with content field",
			`Sure! [{"content":"Trip to the lake on Saturday","category":"Event"},{"content":"Alice owes Bob lunch","category":"agreement"}]`,
			[]protocol.MemoryItem{
				{Text: "Trip to the lake on Saturday", Category: "event"},
				{Text: "Alice owes Bob lunch", Category: "agreement"},
			},
		},
		{
			"wrapped list with text field",
			`{"memories":[{"text":"Exam on Friday"}]}`,
			[]protocol.MemoryItem{{Text: "Exam on Friday", Category: DefaultMemoryCategory}},
		},
		{
			"plain strings",
			`["likes hiking", "  "]`,
			[]protocol.MemoryItem{{Text: "likes hiking", Category: DefaultMemoryCategory}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutcome(trigger.KindMemory, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, MemorySet{Items: tt.want}, out)
		})
	}
}

func TestParseOutcome_NothingToReport(t *testing.T) {
	tests := []struct {
		kind trigger.Kind
		raw  string
	}{
		{trigger.KindMemory, `[]`},
		{trigger.KindMemory, `null`},
		{trigger.KindMemory, `{"memories": []}`},
		{trigger.KindSuggestion, `null`},
		{trigger.KindSuggestion, "```json\nnull\n```"},
		{trigger.KindSuggestion, `None`},
		{trigger.KindSuggestion, `{"suggestion": null}`},
		{trigger.KindSuggestion, `{"title": "", "text": ""}`},
	}

	for _, tt := range tests {
		out, err := ParseOutcome(tt.kind, tt.raw)
		assert.NoError(t, err, tt.raw)
		assert.Nil(t, out, tt.raw)
	}
}

func TestParseOutcome_Suggestion(t *testing.T) {
	out, err := ParseOutcome(trigger.KindSuggestion, `Here's an idea:
{"title":"Saturday hike","content":"Meet at 9am at the trailhead, bring water.","type":"Plan"}`)
	require.NoError(t, err)
	assert.Equal(t, Suggestion{Title: "Saturday hike", Text: "Meet at 9am at the trailhead, bring water.", Kind: "plan"}, out)

	out, err = ParseOutcome(trigger.KindSuggestion, `{"suggestion":{"text":"Book the table now"}}`)
	require.NoError(t, err)
	assert.Equal(t, Suggestion{Text: "Book the table now", Kind: "general"}, out)
}

func TestParseOutcome_UnknownKind(t *testing.T) {
	_, err := ParseOutcome("weather", `{}`)
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestBuildRequest(t *testing.T) {
	task := trigger.Task{
		Kind: trigger.KindMemory,
		Context: []protocol.Envelope{
			{Sender: "alice", Content: "exam on friday"},
			{Sender: "bob", Content: "good luck!"},
		},
	}

	req, err := BuildRequest(task)
	require.NoError(t, err)
	assert.NotEmpty(t, req.System)
	assert.Contains(t, req.Prompt, "alice: exam on friday\nbob: good luck!")
	assert.Equal(t, 500, req.MaxTokens)

	_, err = BuildRequest(trigger.Task{Kind: "weather"})
	assert.Error(t, err)
}
