package messages

import (
	"encoding/json"

	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "SCRIBE/"
	// Default is the default transcription lane
	Default = st + "Default"
	// Priority lane for paid plans
	Priority = st + "Priority"
	// Events lane for webhook deliveries and maintenance jobs
	Events = st + "Events"
	// Notify lane for live status push events
	Notify = st + "Notify"
	// Inform queue name for email events
	Inform = st + "Inform"
)

// Job types, keys of the worker pool work maps
const (
	JobTranscribe      = "transcribe"
	JobTranslate       = "translate"
	JobAnalysis        = "analysis"
	JobWebhook         = "webhook"
	JobNotify          = "notify"
	JobInform          = "inform"
	JobCleanupSessions = "cleanup-sessions"
)

// Webhook/notify event names
const (
	EventJobCompleted         = "JobCompleted"
	EventJobFailed            = "JobFailed"
	EventTranslationCompleted = "TranslationCompleted"
	EventTranslationStatus    = "TranslationStatus"
	EventAnalysisUpdated      = "AnalysisUpdated"
)

// TranscriptionMessage starts the pipeline for a job, ID is the job id
type TranscriptionMessage struct {
	amessages.QueueMessage
	UserID string `json:"userID,omitempty"`
}

// TranslationMessage asks for a job translation, ID is the job id
type TranslationMessage struct {
	amessages.QueueMessage
	UserID     string `json:"userID,omitempty"`
	TargetLang string `json:"targetLang,omitempty"`
}

// AnalysisMessage asks for analysis generation, ID is the job id
type AnalysisMessage struct {
	amessages.QueueMessage
	UserID string   `json:"userID,omitempty"`
	Types  []string `json:"types,omitempty"`
}

// WebhookMessage triggers one delivery attempt, ID is the delivery id
type WebhookMessage struct {
	amessages.QueueMessage
}

// NotifyMessage carries a live event towards websocket subscribers
type NotifyMessage struct {
	amessages.QueueMessage
	UserID  string          `json:"userID,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InformMessage asks for an email about a job state change
type InformMessage struct {
	amessages.InformMessage
	UserID string `json:"userID,omitempty"`
}

// CleanupMessage triggers the stale upload session sweep
type CleanupMessage struct {
	amessages.QueueMessage
}
