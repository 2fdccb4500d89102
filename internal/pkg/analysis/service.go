package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// DB provides analysis persistence
type DB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	LoadAnalyses(ctx context.Context, jobID string) ([]persistence.Analysis, error)
	UpsertAnalysis(ctx context.Context, a *persistence.Analysis) error
	UpdateAnalysisTranslations(ctx context.Context, id string, translations map[string]string) error
}

// Generator produces text from a prompt pair
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Translator translates a text batch keeping order
type Translator interface {
	Translate(ctx context.Context, texts []string, from, to string) ([]string, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(ctx context.Context, message any, queue, jobType string) error
}

// ServiceData keeps analysis generator dependencies
type ServiceData struct {
	DB         DB
	AI         Generator
	Translator Translator
	MsgSender  MsgSender
}

// Event is the payload of analysis change events
type Event struct {
	JobID string   `json:"jobId"`
	Types []string `json:"types"`
}

// HandleAnalysis generates the requested analysis types for a completed job.
// Types are generated independently - one failing type does not stop the
// others, the error is the merge of all per-type failures.
func HandleAnalysis(ctx context.Context, m *messages.AnalysisMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Strs("types", m.Types).Msg("handling analysis")
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
	types := m.Types
	if len(types) == 0 {
		types = AllTypes
	}
	transcript := buildTranscript(job.Segments)
	if transcript == "" {
		goapp.Log.Warn().Str("ID", m.ID).Msg("empty transcript, nothing to analyze")
		return nil
	}

	var done []string
	var resErr error
	for _, tp := range types {
		if !IsKnownType(tp) {
			goapp.Log.Warn().Str("type", tp).Msg("unknown analysis type, skipping")
			continue
		}
		if err := generateOne(ctx, data, job, tp, transcript); err != nil {
			resErr = multierr.Append(resErr, fmt.Errorf("can't generate %s: %w", tp, err))
			continue
		}
		done = append(done, tp)
	}
	if len(done) > 0 {
		sendEvent(ctx, data, job.UserID, &Event{JobID: job.ID, Types: done})
	}
	return resErr
}

// generateOne produces the analysis of one type in every language the job
// already carries - one generation call per language, in parallel. A failed
// language degrades to a missing entry, only the source language is mandatory.
func generateOne(ctx context.Context, data *ServiceData, job *persistence.Job, tp, transcript string) error {
	def := prompts[tp]
	srcLang := job.SourceLang.String
	langs := jobLanguages(job)
	results := make([]string, len(langs))
	var wg sync.WaitGroup
	for i, lang := range langs {
		wg.Add(1)
		go func(i int, lang string) {
			defer wg.Done()
			out, err := data.AI.Generate(ctx, def.prompt(lang), transcript)
			if err != nil {
				goapp.Log.Warn().Err(err).Str("ID", job.ID).Str("type", tp).Str("lang", lang).Msg("can't generate")
				return
			}
			content := CleanOutput(out)
			if def.isJSON && !json.Valid([]byte(content)) {
				goapp.Log.Warn().Str("ID", job.ID).Str("type", tp).Str("lang", lang).Msg("model output is not valid JSON")
				return
			}
			results[i] = content
		}(i, lang)
	}
	wg.Wait()

	var content string
	translations := map[string]string{}
	for i, lang := range langs {
		if results[i] == "" {
			continue
		}
		if lang == srcLang {
			content = results[i]
		} else {
			translations[lang] = results[i]
		}
	}
	// no record without the primary content
	if content == "" {
		return fmt.Errorf("empty model output")
	}
	a := &persistence.Analysis{ID: uuid.NewString(), JobID: job.ID, Type: tp,
		Content: content, Translations: translations, Model: data.AI.Model(), Updated: time.Now()}
	if err := data.DB.UpsertAnalysis(ctx, a); err != nil {
		return err
	}
	goapp.Log.Info().Str("ID", job.ID).Str("type", tp).Strs("langs", langs).Msg("analysis generated")
	return nil
}

// jobLanguages returns the source language plus every completed translation language
func jobLanguages(job *persistence.Job) []string {
	res := []string{job.SourceLang.String}
	for _, l := range job.TranslatedLangs {
		if l != job.SourceLang.String {
			res = append(res, l)
		}
	}
	return res
}

// TranslateAnalyses translates every analysis of the job to targetLang.
// Analyses are translated in parallel and independently, a failed one is
// skipped and reported in the merged error.
func (data *ServiceData) TranslateAnalyses(ctx context.Context, jobID, sourceLang, targetLang string) error {
	analyses, err := data.DB.LoadAnalyses(ctx, jobID)
	if err != nil {
		return fmt.Errorf("can't load analyses: %w", err)
	}
	if len(analyses) == 0 {
		return nil
	}
	var lock sync.Mutex
	var resErr error
	var wg sync.WaitGroup
	for i := range analyses {
		a := analyses[i]
		if _, ok := a.Translations[targetLang]; ok {
			goapp.Log.Info().Str("ID", a.ID).Str("lang", targetLang).Msg("already translated, skipping")
			continue
		}
		if a.Content == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := translateOne(ctx, data, &a, sourceLang, []string{targetLang}); err != nil {
				lock.Lock()
				resErr = multierr.Append(resErr, fmt.Errorf("can't translate %s: %w", a.Type, err))
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	return resErr
}

// translateOne translates the analysis content to each target language.
// String leaves travel through the translator by path, everything else in
// the document stays intact. Content with no translatable strings is skipped.
func translateOne(ctx context.Context, data *ServiceData, a *persistence.Analysis, sourceLang string, targetLangs []string) error {
	fields := ExtractStrings(a.Content)
	texts := make([]string, 0, len(fields))
	for _, f := range fields {
		texts = append(texts, f.Value)
	}
	if len(texts) == 0 || allEmpty(texts) {
		return nil
	}
	translations := make(map[string]string, len(a.Translations)+len(targetLangs))
	for k, v := range a.Translations {
		translations[k] = v
	}
	var resErr error
	for _, lang := range targetLangs {
		translated, err := data.Translator.Translate(ctx, texts, sourceLang, lang)
		if err != nil {
			resErr = multierr.Append(resErr, err)
			continue
		}
		repl := make(map[string]string, len(fields))
		for i, f := range fields {
			repl[f.Path] = translated[i]
		}
		doc, err := ReplaceStrings(a.Content, repl)
		if err != nil {
			resErr = multierr.Append(resErr, err)
			continue
		}
		translations[lang] = doc
	}
	if resErr != nil {
		return resErr
	}
	return data.DB.UpdateAnalysisTranslations(ctx, a.ID, translations)
}

func buildTranscript(segments []persistence.Segment) string {
	sb := strings.Builder{}
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Speaker != "" {
			sb.WriteString(s.Speaker)
			sb.WriteString(": ")
		}
		sb.WriteString(s.Text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func allEmpty(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}

func sendEvent(ctx context.Context, data *ServiceData, userID string, payload *Event) {
	msg := &messages.NotifyMessage{UserID: userID, Event: messages.EventAnalysisUpdated}
	msg.ID = payload.JobID
	b, err := json.Marshal(payload)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("can't marshal event")
		return
	}
	msg.Payload = b
	if err := data.MsgSender.SendMessage(ctx, msg, messages.Notify, messages.JobNotify); err != nil {
		goapp.Log.Error().Err(err).Msg("can't send notify")
	}
}

// Validate checks the service data is complete
func Validate(data *ServiceData) error {
	if data == nil {
		return fmt.Errorf("no data")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.AI == nil {
		return fmt.Errorf("no AI")
	}
	if data.Translator == nil {
		return fmt.Errorf("no Translator")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no MsgSender")
	}
	return nil
}
