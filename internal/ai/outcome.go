// ABOUTME: Structured outcomes of AI tasks and their tolerant parsers
// ABOUTME: Emotion accepts label/confidence or a score map; memories accept arrays or wrapped lists

package ai

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/trigger"
)

// ErrParseFailure means the provider reply held no usable outcome.
var ErrParseFailure = errors.New("unparseable provider reply")

// Outcome is the structured result of one task.
type Outcome interface {
	TriggerKind() trigger.Kind
}

// EmotionResult is the mood of the conversation.
type EmotionResult struct {
	Label      string
	Confidence float64
}

// TriggerKind implements Outcome.
func (EmotionResult) TriggerKind() trigger.Kind { return trigger.KindEmotion }

// MemorySet is an ordered list of extracted memories.
type MemorySet struct {
	Items []protocol.MemoryItem
}

// TriggerKind implements Outcome.
func (MemorySet) TriggerKind() trigger.Kind { return trigger.KindMemory }

// Suggestion is a proactive hint for one session.
type Suggestion struct {
	Title string
	Text  string
	Kind  string
}

// TriggerKind implements Outcome.
func (Suggestion) TriggerKind() trigger.Kind { return trigger.KindSuggestion }

// DefaultMemoryCategory is used when the model omits a category.
const DefaultMemoryCategory = "topic"

// DefaultEmotionLabels are the moods a score-map reply may name.
var DefaultEmotionLabels = []string{"neutral", "happy", "tense", "negative"}

// ParseOutcome decodes a provider reply for a task of the given kind.
// A nil Outcome with a nil error means the model found nothing worth
// reporting.
func ParseOutcome(kind trigger.Kind, raw string) (Outcome, error) {
	return parseOutcome(kind, raw, DefaultEmotionLabels)
}

// parseOutcome is ParseOutcome with the score-map labels supplied. Labels
// must be lower case.
func parseOutcome(kind trigger.Kind, raw string, labels []string) (Outcome, error) {
	switch kind {
	case trigger.KindEmotion:
		return parseEmotion(raw, labels)
	case trigger.KindMemory:
		return parseMemories(raw)
	case trigger.KindSuggestion:
		return parseSuggestion(raw)
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", ErrParseFailure, kind)
	}
}

func parseEmotion(raw string, labels []string) (Outcome, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in emotion reply", ErrParseFailure)
	}
	r := gjson.Parse(obj)

	if label := firstString(r, "label", "emotion", "mood"); label != "" {
		conf := 1.0
		if c := r.Get("confidence"); c.Exists() {
			conf = clamp01(c.Float())
		}
		return EmotionResult{Label: strings.ToLower(label), Confidence: conf}, nil
	}

	// Score map: {"neutral":0.5,"happy":0.3,...}; normalize over the known
	// labels and keep the max. Other keys are ignored.
	var (
		best      string
		bestScore float64
		total     float64
	)
	r.ForEach(func(key, value gjson.Result) bool {
		label := strings.ToLower(key.String())
		if value.Type != gjson.Number || !slices.Contains(labels, label) {
			return true
		}
		score := value.Float()
		if score <= 0 {
			return true
		}
		total += score
		if score > bestScore {
			best, bestScore = label, score
		}
		return true
	})
	if best == "" || total <= 0 {
		return nil, fmt.Errorf("%w: emotion reply has no label or known scores", ErrParseFailure)
	}
	return EmotionResult{Label: best, Confidence: bestScore / total}, nil
}

func parseMemories(raw string) (Outcome, error) {
	if isNullReply(raw) {
		return nil, nil
	}
	doc, ok := ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON in memory reply", ErrParseFailure)
	}
	r := gjson.Parse(doc)
	if !r.IsArray() {
		r = r.Get("memories")
		if !r.IsArray() {
			return nil, fmt.Errorf("%w: memory reply is not a list", ErrParseFailure)
		}
	}

	var items []protocol.MemoryItem
	for _, entry := range r.Array() {
		var text, category string
		if entry.Type == gjson.String {
			text = entry.String()
		} else {
			text = firstString(entry, "text", "content", "memory")
			category = firstString(entry, "category", "type")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if category == "" {
			category = DefaultMemoryCategory
		}
		items = append(items, protocol.MemoryItem{Text: text, Category: strings.ToLower(category)})
	}
	if len(items) == 0 {
		return nil, nil
	}
	return MemorySet{Items: items}, nil
}

func parseSuggestion(raw string) (Outcome, error) {
	if isNullReply(raw) {
		return nil, nil
	}
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in suggestion reply", ErrParseFailure)
	}
	r := gjson.Parse(obj)
	if inner := r.Get("suggestion"); inner.IsObject() {
		r = inner
	} else if inner.Exists() && inner.Type == gjson.Null {
		return nil, nil
	}

	text := strings.TrimSpace(firstString(r, "text", "content"))
	if text == "" {
		return nil, nil
	}
	kind := firstString(r, "kind", "type")
	if kind == "" {
		kind = "general"
	}
	return Suggestion{
		Title: strings.TrimSpace(r.Get("title").String()),
		Text:  text,
		Kind:  strings.ToLower(kind),
	}, nil
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
