package translate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// RunnerDB provides translation runner persistence
type RunnerDB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	UpdateTranslationState(ctx context.Context, id string, st, toLang string) error
	SaveTranslations(ctx context.Context, id string, segments []persistence.Segment, langs []string) error
}

// Translator translates a text batch keeping order
type Translator interface {
	Translate(ctx context.Context, texts []string, from, to string) ([]string, error)
}

// AnalysisTranslator carries job analyses over to the new language
type AnalysisTranslator interface {
	TranslateAnalyses(ctx context.Context, jobID, sourceLang, targetLang string) error
}

// ServiceData keeps translation runner dependencies
type ServiceData struct {
	DB         RunnerDB
	Translator Translator
	Analyses   AnalysisTranslator
	MsgSender  MsgSender
}

// TranslationEvent is the payload of translation state change events
type TranslationEvent struct {
	JobID      string `json:"jobId"`
	TargetLang string `json:"targetLang"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// HandleTranslation translates all job segments to the target language.
// Unlike the transcription pipeline the error is returned - the queue
// retries the whole translation a bounded number of times, only then the
// failure is recorded.
func HandleTranslation(ctx context.Context, m *messages.TranslationMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("lang", m.TargetLang).Msg("handling translation")
	job, err := data.DB.LoadJob(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load job: %w", err)
	}
	if job == nil {
		goapp.Log.Warn().Str("ID", m.ID).Msg("no job, dropping")
		return nil
	}
	if status.From(job.Status) != status.Completed {
		goapp.Log.Info().Str("ID", m.ID).Str("status", job.Status).Msg("job not completed, dropping")
		return nil
	}
	if contains(job.TranslatedLangs, m.TargetLang) {
		goapp.Log.Info().Str("ID", m.ID).Str("lang", m.TargetLang).Msg("already translated, dropping")
		return nil
	}
	if err := data.DB.UpdateTranslationState(ctx, job.ID, status.TrTranslating, m.TargetLang); err != nil {
		return fmt.Errorf("can't update translation state: %w", err)
	}
	sendEvent(ctx, data, job.UserID, messages.EventTranslationStatus,
		&TranslationEvent{JobID: job.ID, TargetLang: m.TargetLang, Status: status.TrTranslating})

	if err := translateSegments(ctx, data, job, m.TargetLang); err != nil {
		// the in-progress marker never survives a terminal state
		if errInt := data.DB.UpdateTranslationState(ctx, job.ID, status.TrFailed, ""); errInt != nil {
			goapp.Log.Error().Err(errInt).Str("ID", job.ID).Msg("can't mark translation failed")
		}
		sendEvent(ctx, data, job.UserID, messages.EventTranslationStatus,
			&TranslationEvent{JobID: job.ID, TargetLang: m.TargetLang,
				Status: status.TrFailed, Error: err.Error()})
		return fmt.Errorf("can't translate: %w", err)
	}

	if err := data.Analyses.TranslateAnalyses(ctx, job.ID, job.SourceLang.String, m.TargetLang); err != nil {
		// analyses follow the transcript, their failure does not undo it
		goapp.Log.Error().Err(err).Str("ID", job.ID).Msg("can't translate analyses")
	}

	sendEvent(ctx, data, job.UserID, messages.EventTranslationCompleted,
		&TranslationEvent{JobID: job.ID, TargetLang: m.TargetLang, Status: "Completed"})
	goapp.Log.Info().Str("ID", job.ID).Str("lang", m.TargetLang).Msg("translation completed")
	return nil
}

func translateSegments(ctx context.Context, data *ServiceData, job *persistence.Job, targetLang string) error {
	texts := make([]string, len(job.Segments))
	for i, s := range job.Segments {
		// user edits stay in the source language, the provider text is translated
		texts[i] = s.Text
		if s.OriginalText != "" {
			texts[i] = s.OriginalText
		}
	}
	translated, err := data.Translator.Translate(ctx, texts, job.SourceLang.String, targetLang)
	if err != nil {
		return err
	}
	if len(translated) != len(job.Segments) {
		return fmt.Errorf("wrong translations count: got %d, expected %d", len(translated), len(job.Segments))
	}
	segments := make([]persistence.Segment, len(job.Segments))
	for i, s := range job.Segments {
		if s.Translations == nil {
			s.Translations = map[string]string{}
		} else {
			nm := make(map[string]string, len(s.Translations)+1)
			for k, v := range s.Translations {
				nm[k] = v
			}
			s.Translations = nm
		}
		s.Translations[targetLang] = translated[i]
		segments[i] = s
	}
	langs := append(append([]string{}, job.TranslatedLangs...), targetLang)
	// the segment collection is replaced as a whole, never patched in place
	return data.DB.SaveTranslations(ctx, job.ID, segments, langs)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("can't marshal payload: %w", err)
	}
	return b, nil
}

func sendEvent(ctx context.Context, data *ServiceData, userID, event string, payload *TranslationEvent) {
	msg := &messages.NotifyMessage{UserID: userID, Event: event}
	msg.ID = payload.JobID
	b, err := marshalPayload(payload)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("can't marshal event")
		return
	}
	msg.Payload = b
	if err := data.MsgSender.SendMessage(ctx, msg, messages.Notify, messages.JobNotify); err != nil {
		goapp.Log.Error().Err(err).Str("event", event).Msg("can't send notify")
	}
}

// Validate checks the runner data is complete
func Validate(data *ServiceData) error {
	if data == nil {
		return fmt.Errorf("no data")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Translator == nil {
		return fmt.Errorf("no Translator")
	}
	if data.Analyses == nil {
		return fmt.Errorf("no Analyses")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no MsgSender")
	}
	return nil
}
