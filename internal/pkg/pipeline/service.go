package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"

	"github.com/scribehub/scribe/internal/pkg/audio"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
	tapi "github.com/scribehub/scribe/internal/pkg/transcriber/api"
)

// DB provides pipeline persistence
type DB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	MarkJobProcessing(ctx context.Context, id string, at time.Time) error
	SaveTranscript(ctx context.Context, id, transcript, lang string, segments []persistence.Segment) error
	CompleteJobAtomic(ctx context.Context, id, userID string, durationSec float64) (bool, error)
	MarkJobFailed(ctx context.Context, id, errMsg string) error
	LoadMediaFile(ctx context.Context, id, userID string) (*persistence.MediaFile, error)
	UpdateMediaAudio(ctx context.Context, id, audioKey string, durationSec float64) error
}

// Filer retrieves and drops files
type Filer interface {
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
	DeleteFile(ctx context.Context, name string) error
}

// Converter prepares audio for recognition
type Converter interface {
	Convert(ctx context.Context, key string) (*audio.ConvertResult, error)
}

// EngineProvider returns a recognition engine
type EngineProvider interface {
	Get() (tapi.Transcriber, string, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(ctx context.Context, message any, queue, jobType string) error
}

// Publisher fans a job event out to webhook subscribers
type Publisher interface {
	Publish(ctx context.Context, userID, event string, payload any) error
}

// ServiceData keeps data required for pipeline work
type ServiceData struct {
	DB        DB
	Filer     Filer
	Converter Converter
	Engines   EngineProvider
	MsgSender MsgSender
	Publisher Publisher
}

// JobEvent is the payload of job state change events
type JobEvent struct {
	JobID       string  `json:"jobId"`
	Status      string  `json:"status"`
	DurationSec float64 `json:"durationSec,omitempty"`
	Error       string  `json:"error,omitempty"`
}

var qualityModels = map[string]string{
	"fast":     "base",
	"standard": "medium",
	"premium":  "large-v3",
}

// HandleTranscription runs the whole transcription pipeline for one job.
// Failures before the job is loaded are returned so the queue retries them.
// Failures after the job was marked processing are recorded on the job and
// swallowed - the job owns its failure from that point on.
func HandleTranscription(ctx context.Context, m *messages.TranscriptionMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling transcription")
	job, err := data.DB.LoadJob(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load job: %w", err)
	}
	if job == nil {
		goapp.Log.Warn().Str("ID", m.ID).Msg("no job, dropping")
		return nil
	}
	if status.IsTerminal(status.From(job.Status)) {
		goapp.Log.Info().Str("ID", m.ID).Str("status", job.Status).Msg("job already terminal, dropping")
		return nil
	}
	if err := data.DB.MarkJobProcessing(ctx, job.ID, time.Now()); err != nil {
		return fmt.Errorf("can't mark processing: %w", err)
	}
	sendInform(ctx, data, m, amessages.InformTypeStarted)

	if err := runStages(ctx, data, m, job); err != nil {
		goapp.Log.Error().Err(err).Str("ID", job.ID).Msg("pipeline failed")
		if err := data.DB.MarkJobFailed(ctx, job.ID, err.Error()); err != nil {
			goapp.Log.Error().Err(err).Str("ID", job.ID).Msg("can't mark failed")
		}
		publishJobEvent(ctx, data, job.UserID, messages.EventJobFailed,
			&JobEvent{JobID: job.ID, Status: status.Failed.String(), Error: err.Error()})
		sendInform(ctx, data, m, amessages.InformTypeFailed)
		return nil
	}
	return nil
}

func runStages(ctx context.Context, data *ServiceData, m *messages.TranscriptionMessage, job *persistence.Job) error {
	media, err := data.DB.LoadMediaFile(ctx, job.MediaFileID, job.UserID)
	if err != nil {
		return fmt.Errorf("can't load media: %w", err)
	}
	if media == nil {
		return fmt.Errorf("no media file %s", job.MediaFileID)
	}

	audioKey, durationSec, err := prepareAudio(ctx, data, media)
	if err != nil {
		return fmt.Errorf("can't prepare audio: %w", err)
	}

	res, err := transcribe(ctx, data, job, media, audioKey)
	if err != nil {
		return fmt.Errorf("can't transcribe: %w", err)
	}

	segments := mapSegments(res.Segments)
	if err := data.DB.SaveTranscript(ctx, job.ID, res.Text, res.Language, segments); err != nil {
		return fmt.Errorf("can't save transcript: %w", err)
	}

	completed, err := data.DB.CompleteJobAtomic(ctx, job.ID, job.UserID, durationSec)
	if err != nil {
		return fmt.Errorf("can't complete job: %w", err)
	}
	if !completed {
		goapp.Log.Info().Str("ID", job.ID).Msg("job was cancelled, skipping events")
		return nil
	}
	goapp.Log.Info().Str("ID", job.ID).Msg("transcription completed")

	publishJobEvent(ctx, data, job.UserID, messages.EventJobCompleted,
		&JobEvent{JobID: job.ID, Status: status.Completed.String(), DurationSec: durationSec})
	sendInform(ctx, data, m, amessages.InformTypeFinished)
	return nil
}

// prepareAudio returns the normalized audio key, converting once per media
// file. The key and duration are memoized on the media record, so a retried
// or repeated job skips the converter. Converter temp artifacts are dropped
// right away, the normalized audio stays for the next run.
func prepareAudio(ctx context.Context, data *ServiceData, media *persistence.MediaFile) (string, float64, error) {
	if media.AudioKey.Valid && media.AudioKey.String != "" {
		goapp.Log.Debug().Str("key", media.AudioKey.String).Msg("audio already prepared")
		return media.AudioKey.String, media.DurationSec.Float64, nil
	}
	res, err := data.Converter.Convert(ctx, media.StorageKey)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		for _, k := range res.TempKeys {
			if err := data.Filer.DeleteFile(ctx, k); err != nil {
				goapp.Log.Warn().Err(err).Str("key", k).Msg("can't delete temp file")
			}
		}
	}()
	if err := data.DB.UpdateMediaAudio(ctx, media.ID, res.AudioKey, res.DurationSec); err != nil {
		return "", 0, fmt.Errorf("can't save audio key: %w", err)
	}
	return res.AudioKey, res.DurationSec, nil
}

func transcribe(ctx context.Context, data *ServiceData, job *persistence.Job, media *persistence.MediaFile, audioKey string) (*tapi.TranscriptionResult, error) {
	engine, srv, err := data.Engines.Get()
	if err != nil {
		return nil, fmt.Errorf("can't get engine: %w", err)
	}
	goapp.Log.Info().Str("ID", job.ID).Str("engine", srv).Msg("start transcription")
	f, err := data.Filer.LoadFile(ctx, audioKey)
	if err != nil {
		return nil, fmt.Errorf("can't load audio: %w", err)
	}
	defer f.Close()
	params := map[string]string{tapi.PrmModel: modelForQuality(job.Quality), tapi.PrmDiarize: "true"}
	if job.SourceLang.Valid && job.SourceLang.String != "" {
		params[tapi.PrmLanguage] = job.SourceLang.String
	}
	return engine.Transcribe(ctx, media.FileName, f, params)
}

func modelForQuality(quality string) string {
	if m, ok := qualityModels[quality]; ok {
		return m
	}
	return qualityModels["standard"]
}

func mapSegments(in []tapi.ResultSegment) []persistence.Segment {
	res := make([]persistence.Segment, 0, len(in))
	for i, s := range in {
		res = append(res, persistence.Segment{Position: i, Text: s.Text,
			StartSec: s.Start, EndSec: s.End, Speaker: s.Speaker})
	}
	return res
}

func publishJobEvent(ctx context.Context, data *ServiceData, userID, event string, payload *JobEvent) {
	if err := data.Publisher.Publish(ctx, userID, event, payload); err != nil {
		goapp.Log.Error().Err(err).Str("event", event).Msg("can't publish event")
	}
	if err := sendNotify(ctx, data, userID, event, payload); err != nil {
		goapp.Log.Error().Err(err).Str("event", event).Msg("can't send notify")
	}
}

func sendNotify(ctx context.Context, data *ServiceData, userID, event string, payload *JobEvent) error {
	msg := &messages.NotifyMessage{UserID: userID, Event: event}
	msg.ID = payload.JobID
	b, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	msg.Payload = b
	return data.MsgSender.SendMessage(ctx, msg, messages.Notify, messages.JobNotify)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("can't marshal payload: %w", err)
	}
	return b, nil
}

func sendInform(ctx context.Context, data *ServiceData, m *messages.TranscriptionMessage, tp string) {
	msg := &messages.InformMessage{InformMessage: amessages.InformMessage{
		QueueMessage: *amessages.NewQueueMessageFromM(&m.QueueMessage),
		Type:         tp, At: time.Now()}, UserID: m.UserID}
	if err := data.MsgSender.SendMessage(ctx, msg, messages.Inform, messages.JobInform); err != nil {
		goapp.Log.Error().Err(err).Str("ID", m.ID).Msg("can't send inform msg")
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
	if data.Filer == nil {
		return fmt.Errorf("no Filer")
	}
	if data.Converter == nil {
		return fmt.Errorf("no Converter")
	}
	if data.Engines == nil {
		return fmt.Errorf("no Engines")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no MsgSender")
	}
	if data.Publisher == nil {
		return fmt.Errorf("no Publisher")
	}
	return nil
}
