package analysis

import "strings"

// Analysis types
const (
	TypeShortSummary   = "ShortSummary"
	TypeLongSummary    = "LongSummary"
	TypeActionItems    = "ActionItems"
	TypeMeetingMinutes = "MeetingMinutes"
	TypeTopics         = "Topics"
	TypeSentiment      = "Sentiment"
)

// AllTypes lists every generated analysis type
var AllTypes = []string{TypeShortSummary, TypeLongSummary, TypeActionItems,
	TypeMeetingMinutes, TypeTopics, TypeSentiment}

type promptDef struct {
	system string
	isJSON bool
}

var prompts = map[string]promptDef{
	TypeShortSummary: {system: "You are an assistant that summarizes transcripts. " +
		"Write a summary of the transcript in 2-3 sentences. Return plain text only."},
	TypeLongSummary: {system: "You are an assistant that summarizes transcripts. " +
		"Write a detailed summary of the transcript covering all discussed points. " +
		"Return plain text only."},
	TypeActionItems: {system: "You are an assistant that extracts action items from transcripts. " +
		"Return a JSON object: {\"items\": [{\"task\": string, \"owner\": string, \"due\": string}]}. " +
		"Use empty strings for unknown fields.",
		isJSON: true},
	TypeMeetingMinutes: {system: "You are an assistant that writes meeting minutes from transcripts. " +
		"Return a JSON object: {\"title\": string, \"participants\": [string], " +
		"\"sections\": [{\"topic\": string, \"notes\": string}], \"decisions\": [string]}.",
		isJSON: true},
	TypeTopics: {system: "You are an assistant that lists the main topics of a transcript. " +
		"Return a JSON object: {\"topics\": [{\"name\": string, \"description\": string}]}.",
		isJSON: true},
	TypeSentiment: {system: "You are an assistant that analyzes the overall sentiment of a transcript. " +
		"Return a JSON object: {\"sentiment\": string, \"confidence\": number, \"explanation\": string}. " +
		"Sentiment is one of: positive, neutral, negative.", isJSON: true},
}

// prompt builds the system instruction targeting one response language
func (d promptDef) prompt(lang string) string {
	if lang == "" {
		return d.system + " Answer in the language of the transcript."
	}
	return d.system + " Respond in language '" + lang + "'."
}

// IsKnownType tests t against the generated analysis types
func IsKnownType(t string) bool {
	_, ok := prompts[t]
	return ok
}

// CleanOutput strips markdown code fences models like to wrap JSON in
func CleanOutput(s string) string {
	res := strings.TrimSpace(s)
	if strings.HasPrefix(res, "```") {
		if i := strings.Index(res, "\n"); i >= 0 {
			res = res[i+1:]
		} else {
			res = strings.TrimPrefix(res, "```json")
			res = strings.TrimPrefix(res, "```")
		}
		res = strings.TrimSuffix(strings.TrimSpace(res), "```")
	}
	return strings.TrimSpace(res)
}
