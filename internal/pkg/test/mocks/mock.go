package mocks

import (
	"context"
	"io"
	"time"

	ainform "github.com/airenas/async-api/pkg/inform"
	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/mock"

	"github.com/scribehub/scribe/internal/pkg/admission"
	"github.com/scribehub/scribe/internal/pkg/audio"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	tapi "github.com/scribehub/scribe/internal/pkg/transcriber/api"
)

// DB is postgres DB mock
type DB struct{ mock.Mock }

func (m *DB) LoadJob(ctx context.Context, id string) (*persistence.Job, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) LoadJobForUser(ctx context.Context, id, userID string) (*persistence.Job, error) {
	args := m.Called(ctx, id, userID)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) MarkJobProcessing(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *DB) SaveTranscript(ctx context.Context, id, transcript, lang string, segments []persistence.Segment) error {
	args := m.Called(ctx, id, transcript, lang, segments)
	return args.Error(0)
}

func (m *DB) CompleteJobAtomic(ctx context.Context, id, userID string, durationSec float64) (bool, error) {
	args := m.Called(ctx, id, userID, durationSec)
	return args.Bool(0), args.Error(1)
}

func (m *DB) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *DB) LoadMediaFile(ctx context.Context, id, userID string) (*persistence.MediaFile, error) {
	args := m.Called(ctx, id, userID)
	return to[*persistence.MediaFile](args.Get(0)), args.Error(1)
}

func (m *DB) UpdateMediaAudio(ctx context.Context, id, audioKey string, durationSec float64) error {
	args := m.Called(ctx, id, audioKey, durationSec)
	return args.Error(0)
}

func (m *DB) UpdateTranslationState(ctx context.Context, id string, st, toLang string) error {
	args := m.Called(ctx, id, st, toLang)
	return args.Error(0)
}

func (m *DB) SaveTranslations(ctx context.Context, id string, segments []persistence.Segment, langs []string) error {
	args := m.Called(ctx, id, segments, langs)
	return args.Error(0)
}

func (m *DB) LoadUserByID(ctx context.Context, id string) (*persistence.User, error) {
	args := m.Called(ctx, id)
	return to[*persistence.User](args.Get(0)), args.Error(1)
}

func (m *DB) LoadAnalyses(ctx context.Context, jobID string) ([]persistence.Analysis, error) {
	args := m.Called(ctx, jobID)
	return to[[]persistence.Analysis](args.Get(0)), args.Error(1)
}

func (m *DB) UpsertAnalysis(ctx context.Context, a *persistence.Analysis) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *DB) UpdateAnalysisTranslations(ctx context.Context, id string, translations map[string]string) error {
	args := m.Called(ctx, id, translations)
	return args.Error(0)
}

func (m *DB) LoadActiveSubscriptions(ctx context.Context, userID string) ([]persistence.WebhookSubscription, error) {
	args := m.Called(ctx, userID)
	return to[[]persistence.WebhookSubscription](args.Get(0)), args.Error(1)
}

func (m *DB) InsertDelivery(ctx context.Context, d *persistence.WebhookDelivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *DB) LoadDelivery(ctx context.Context, id string) (*persistence.WebhookDelivery, error) {
	args := m.Called(ctx, id)
	return to[*persistence.WebhookDelivery](args.Get(0)), args.Error(1)
}

func (m *DB) UpdateDelivery(ctx context.Context, d *persistence.WebhookDelivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *DB) LoadStaleSessions(ctx context.Context, cutoff time.Time) ([]persistence.UploadSession, error) {
	args := m.Called(ctx, cutoff)
	return to[[]persistence.UploadSession](args.Get(0)), args.Error(1)
}

func (m *DB) MarkSessionExpired(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *DB) LockEmailTable(ctx context.Context, id, msgType string) error {
	args := m.Called(ctx, id, msgType)
	return args.Error(0)
}

func (m *DB) UnLockEmailTable(ctx context.Context, id, msgType string, value *int) error {
	args := m.Called(ctx, id, msgType, value)
	return args.Error(0)
}

func (m *DB) Live(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Queries is admission tx queries mock
type Queries struct{ mock.Mock }

func (m *Queries) LoadUser(ctx context.Context, id string) (*persistence.User, error) {
	args := m.Called(ctx, id)
	return to[*persistence.User](args.Get(0)), args.Error(1)
}

func (m *Queries) LoadMediaFile(ctx context.Context, id, userID string) (*persistence.MediaFile, error) {
	args := m.Called(ctx, id, userID)
	return to[*persistence.MediaFile](args.Get(0)), args.Error(1)
}

func (m *Queries) LoadUploadSession(ctx context.Context, id, userID string) (*persistence.UploadSession, error) {
	args := m.Called(ctx, id, userID)
	return to[*persistence.UploadSession](args.Get(0)), args.Error(1)
}

func (m *Queries) InsertMediaFile(ctx context.Context, mf *persistence.MediaFile) error {
	args := m.Called(ctx, mf)
	return args.Error(0)
}

func (m *Queries) LinkSessionMedia(ctx context.Context, sessionID, mediaFileID string) error {
	args := m.Called(ctx, sessionID, mediaFileID)
	return args.Error(0)
}

func (m *Queries) HasActiveJobForMedia(ctx context.Context, mediaFileID string) (bool, error) {
	args := m.Called(ctx, mediaFileID)
	return args.Bool(0), args.Error(1)
}

func (m *Queries) CountJobsCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}

func (m *Queries) CountActiveJobs(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *Queries) InsertJob(ctx context.Context, j *persistence.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

// TxRunner runs the unit against the wrapped queries without a real transaction
type TxRunner struct {
	Queries admission.Queries
	Calls   int
}

func (m *TxRunner) InSerializableTx(ctx context.Context, f func(q admission.Queries) error) error {
	m.Calls++
	return f(m.Queries)
}

// Sender is queue sender mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, message any, queue, jobType string) error {
	args := m.Called(ctx, message, queue, jobType)
	return args.Error(0)
}

func (m *Sender) Schedule(ctx context.Context, message any, queue, jobType string, delay time.Duration) error {
	args := m.Called(ctx, message, queue, jobType, delay)
	return args.Error(0)
}

// Filer is minio mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader, size int64) error {
	args := m.Called(ctx, name, r, size)
	return args.Error(0)
}

func (m *Filer) LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, name)
	return to[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

func (m *Filer) DeleteFile(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *Filer) AbortMultipart(ctx context.Context, name, uploadID string) error {
	args := m.Called(ctx, name, uploadID)
	return args.Error(0)
}

// Converter is audio converter client mock
type Converter struct{ mock.Mock }

func (m *Converter) Convert(ctx context.Context, key string) (*audio.ConvertResult, error) {
	args := m.Called(ctx, key)
	return to[*audio.ConvertResult](args.Get(0)), args.Error(1)
}

// Transcriber is recognition engine mock
type Transcriber struct{ mock.Mock }

func (m *Transcriber) Transcribe(ctx context.Context, name string, audio io.Reader, params map[string]string) (*tapi.TranscriptionResult, error) {
	args := m.Called(ctx, name, audio, params)
	return to[*tapi.TranscriptionResult](args.Get(0)), args.Error(1)
}

func (m *Transcriber) Live(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// EngineProvider returns the wrapped engine
type EngineProvider struct {
	Engine tapi.Transcriber
	Name   string
	Err    error
}

func (m *EngineProvider) Get() (tapi.Transcriber, string, error) {
	return m.Engine, m.Name, m.Err
}

// Translator is translation client mock
type Translator struct{ mock.Mock }

func (m *Translator) Translate(ctx context.Context, texts []string, fromLang, toLang string) ([]string, error) {
	args := m.Called(ctx, texts, fromLang, toLang)
	return to[[]string](args.Get(0)), args.Error(1)
}

// AnalysisTranslator is analyses translation mock
type AnalysisTranslator struct{ mock.Mock }

func (m *AnalysisTranslator) TranslateAnalyses(ctx context.Context, jobID, sourceLang, targetLang string) error {
	args := m.Called(ctx, jobID, sourceLang, targetLang)
	return args.Error(0)
}

// Generator is AI client mock
type Generator struct{ mock.Mock }

func (m *Generator) Generate(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func (m *Generator) Model() string {
	args := m.Called()
	return args.String(0)
}

// Publisher is webhook fan-out mock
type Publisher struct{ mock.Mock }

func (m *Publisher) Publish(ctx context.Context, userID, event string, payload any) error {
	args := m.Called(ctx, userID, event, payload)
	return args.Error(0)
}

// EmailMaker is email maker mock
type EmailMaker struct{ mock.Mock }

func (m *EmailMaker) Make(data *ainform.Data) (*email.Email, error) {
	args := m.Called(data)
	return to[*email.Email](args.Get(0)), args.Error(1)
}

// EmailSender is email sender mock
type EmailSender struct{ mock.Mock }

func (m *EmailSender) Send(e *email.Email) error {
	args := m.Called(e)
	return args.Error(0)
}

// WsConn is websocket connection mock
type WsConn struct{ mock.Mock }

func (m *WsConn) ReadMessage() (messageType int, p []byte, err error) {
	args := m.Called()
	return args.Int(0), to[[]byte](args.Get(1)), args.Error(2)
}

func (m *WsConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *WsConn) WriteJSON(v interface{}) error {
	args := m.Called(v)
	return args.Error(0)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
