package persistence

import (
	"database/sql"
	"time"
)

type (

	// User table - only the fields this subsystem touches
	User struct {
		ID                   string
		Email                string
		Plan                 string
		UsedMinutesThisMonth float64
	}

	// MediaFile table
	MediaFile struct {
		ID          string
		UserID      string
		FileName    string
		ContentType string
		StorageKey  string
		Bucket      string
		// normalized audio prepared by the pipeline, empty until processed
		AudioKey    sql.NullString
		DurationSec sql.NullFloat64
		SizeBytes   int64
		Created     time.Time
	}

	// UploadSession table - multipart upload in progress or ready for promotion
	UploadSession struct {
		ID          string
		UserID      string
		FileName    string
		ContentType string
		StorageKey  string
		Bucket      string
		UploadID    string
		ETag        sql.NullString
		SizeBytes   int64
		Status      string
		// set once the session was promoted into a media file
		MediaFileID sql.NullString
		Created     time.Time
	}

	// Segment is one utterance of a job transcript, stored in
	// the job's jsonb segments column. Position is dense from 0.
	Segment struct {
		Position int    `json:"position"`
		Text     string `json:"text"`
		// original provider text, kept when a user edits Text
		OriginalText string  `json:"originalText,omitempty"`
		StartSec     float64 `json:"start"`
		EndSec       float64 `json:"end"`
		Speaker      string  `json:"speaker,omitempty"`
		// language code -> translated text
		Translations map[string]string `json:"translations,omitempty"`
	}

	// Job table - one transcription request
	Job struct {
		ID          string
		UserID      string
		MediaFileID string
		Status      string
		Quality     string
		// requested or detected language code
		SourceLang sql.NullString
		Transcript sql.NullString
		Segments   []Segment
		// completed translation language codes, jsonb
		TranslatedLangs   []string
		TranslationStatus sql.NullString
		TranslatingTo     sql.NullString
		DurationSec       sql.NullFloat64
		Error             sql.NullString
		Created           time.Time
		Started           sql.NullTime
		Completed         sql.NullTime
		Version           int32
	}

	// Analysis table - one generated artifact per (job, type)
	Analysis struct {
		ID      string
		JobID   string
		Type    string
		Content string
		// language code -> translated content, jsonb
		Translations map[string]string
		Model        string
		Updated      time.Time
	}

	// WebhookSubscription table
	WebhookSubscription struct {
		ID     string
		UserID string
		URL    string
		Secret string
		Events []string
		Active bool
	}

	// WebhookDelivery table - one event delivery to one subscription
	WebhookDelivery struct {
		ID             string
		SubscriptionID string
		Event          string
		Payload        string
		Status         string
		Attempts       int32
		ResponseCode   sql.NullInt32
		ResponseBody   sql.NullString
		Created        time.Time
		LastAttempt    sql.NullTime
		NextRetry      sql.NullTime
		// denormalized from the subscription on load
		URL    string
		Secret string
	}
)
