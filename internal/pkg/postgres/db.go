package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
	"github.com/scribehub/scribe/internal/pkg/utils"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

const jobFields = `id, user_id, media_file_id, status, quality, source_lang, transcript,
	segments, translated_langs, translation_status, translating_to, duration_sec,
	error, created, started, completed, version`

func scanJob(row pgx.Row) (*persistence.Job, error) {
	var res persistence.Job
	err := row.Scan(&res.ID, &res.UserID, &res.MediaFileID, &res.Status, &res.Quality,
		&res.SourceLang, &res.Transcript, &res.Segments, &res.TranslatedLangs,
		&res.TranslationStatus, &res.TranslatingTo, &res.DurationSec, &res.Error,
		&res.Created, &res.Started, &res.Completed, &res.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load job: %w", err)
	}
	return &res, nil
}

// LoadJob loads job from DB, nil if absent
func (db *DB) LoadJob(ctx context.Context, id string) (*persistence.Job, error) {
	return scanJob(db.pool.QueryRow(ctx, `SELECT `+jobFields+` FROM jobs WHERE id = $1`, id))
}

// LoadJobForUser loads job owned by user, nil if absent or foreign
func (db *DB) LoadJobForUser(ctx context.Context, id, userID string) (*persistence.Job, error) {
	return scanJob(db.pool.QueryRow(ctx, `SELECT `+jobFields+` FROM jobs
		WHERE id = $1 AND user_id = $2`, id, userID))
}

// MarkJobProcessing moves a pending job to processing and stamps the start time
func (db *DB) MarkJobProcessing(ctx context.Context, id string, at time.Time) error {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET status = $2, started = $3, version = version + 1
		WHERE id = $1`, id, status.Processing.String(), at)
	if err != nil {
		return fmt.Errorf("can't update job: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't update job, no record found")
	}
	return nil
}

// SaveTranscript persists transcript, detected language and bulk segments
func (db *DB) SaveTranscript(ctx context.Context, id, transcript, lang string, segments []persistence.Segment) error {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET transcript = $2, source_lang = $3,
		segments = $4, version = version + 1 WHERE id = $1`,
		id, transcript, lang, segments)
	if err != nil {
		return fmt.Errorf("can't save transcript: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't save transcript, no record found")
	}
	return nil
}

// CompleteJobAtomic moves the job to Completed and adds usage minutes
// in one serializable transaction. A concurrently cancelled job is left
// untouched and no usage is charged - the method then returns false.
func (db *DB) CompleteJobAtomic(ctx context.Context, id, userID string, durationSec float64) (bool, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, fmt.Errorf("can't begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var st string
	if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&st); err != nil {
		return false, fmt.Errorf("can't load job status: %w", err)
	}
	if status.From(st) == status.Cancelled {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status = $2, completed = $3, duration_sec = $4,
		version = version + 1 WHERE id = $1`,
		id, status.Completed.String(), time.Now(), durationSec); err != nil {
		return false, fmt.Errorf("can't complete job: %w", err)
	}
	if durationSec > 0 {
		if _, err := tx.Exec(ctx, `UPDATE users SET used_minutes_this_month = used_minutes_this_month + $2
			WHERE id = $1`, userID, durationSec/60.0); err != nil {
			return false, fmt.Errorf("can't update usage: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, mapTxErr(err)
	}
	return true, nil
}

// MarkJobFailed records the failure unless the job was cancelled meanwhile
func (db *DB) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET status = $2, error = $3, completed = $4,
		version = version + 1 WHERE id = $1 AND status <> $5`,
		id, status.Failed.String(), utils.ToSQLStr(errMsg), time.Now(), status.Cancelled.String())
	if err != nil {
		return fmt.Errorf("can't mark job failed: %w", err)
	}
	if res.RowsAffected() != 1 {
		return nil // cancelled or gone, leave it
	}
	return nil
}

// UpdateTranslationState persists the translation sub-state markers
func (db *DB) UpdateTranslationState(ctx context.Context, id string, st, toLang string) error {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET translation_status = $2, translating_to = $3,
		version = version + 1 WHERE id = $1`, id, utils.ToSQLStr(st), utils.ToSQLStr(toLang))
	if err != nil {
		return fmt.Errorf("can't update translation state: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't update translation state, no record found")
	}
	return nil
}

// SaveTranslations replaces the whole segment collection and completed
// language list. Nested jsonb values are never mutated in place, the field
// is always rewritten so the change is visible under any isolation.
func (db *DB) SaveTranslations(ctx context.Context, id string, segments []persistence.Segment, langs []string) error {
	res, err := db.pool.Exec(ctx, `UPDATE jobs SET segments = $2, translated_langs = $3,
		translation_status = NULL, translating_to = NULL, version = version + 1
		WHERE id = $1`, id, segments, langs)
	if err != nil {
		return fmt.Errorf("can't save translations: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't save translations, no record found")
	}
	return nil
}

// LoadUserByID loads user, nil if absent
func (db *DB) LoadUserByID(ctx context.Context, id string) (*persistence.User, error) {
	var res persistence.User
	err := db.pool.QueryRow(ctx, `SELECT id, email, plan, used_minutes_this_month
		FROM users WHERE id = $1`, id).Scan(&res.ID, &res.Email, &res.Plan,
		&res.UsedMinutesThisMonth)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load user: %w", err)
	}
	return &res, nil
}

// LoadMediaFile loads media file owned by user, nil if absent
func (db *DB) LoadMediaFile(ctx context.Context, id, userID string) (*persistence.MediaFile, error) {
	var res persistence.MediaFile
	err := db.pool.QueryRow(ctx, `SELECT id, user_id, file_name, content_type, storage_key,
		bucket, audio_key, duration_sec, size_bytes, created FROM media_files
		WHERE id = $1 AND user_id = $2`, id, userID).Scan(&res.ID, &res.UserID,
		&res.FileName, &res.ContentType, &res.StorageKey, &res.Bucket, &res.AudioKey,
		&res.DurationSec, &res.SizeBytes, &res.Created)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load media file: %w", err)
	}
	return &res, nil
}

// UpdateMediaAudio memoizes the prepared audio key and duration
func (db *DB) UpdateMediaAudio(ctx context.Context, id, audioKey string, durationSec float64) error {
	_, err := db.pool.Exec(ctx, `UPDATE media_files SET audio_key = $2, duration_sec = $3
		WHERE id = $1`, id, audioKey, durationSec)
	if err != nil {
		return fmt.Errorf("can't update media audio: %w", err)
	}
	return nil
}

// LoadAnalyses loads all analyses of a job
func (db *DB) LoadAnalyses(ctx context.Context, jobID string) ([]persistence.Analysis, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, job_id, type, content, translations, model, updated
		FROM analyses WHERE job_id = $1 ORDER BY type`, jobID)
	if err != nil {
		return nil, fmt.Errorf("can't load analyses: %w", err)
	}
	defer rows.Close()
	var res []persistence.Analysis
	for rows.Next() {
		var a persistence.Analysis
		if err := rows.Scan(&a.ID, &a.JobID, &a.Type, &a.Content, &a.Translations,
			&a.Model, &a.Updated); err != nil {
			return nil, fmt.Errorf("can't scan analysis: %w", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpsertAnalysis creates or replaces the analysis of one (job, type) pair
func (db *DB) UpsertAnalysis(ctx context.Context, a *persistence.Analysis) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO analyses(id, job_id, type, content, translations, model, updated)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, type) DO UPDATE SET content = $4, translations = $5, model = $6, updated = $7`,
		a.ID, a.JobID, a.Type, a.Content, a.Translations, a.Model, a.Updated)
	if err != nil {
		return fmt.Errorf("can't upsert analysis: %w", err)
	}
	return nil
}

// UpdateAnalysisTranslations replaces the whole translation map
func (db *DB) UpdateAnalysisTranslations(ctx context.Context, id string, translations map[string]string) error {
	_, err := db.pool.Exec(ctx, `UPDATE analyses SET translations = $2, updated = $3
		WHERE id = $1`, id, translations, time.Now())
	if err != nil {
		return fmt.Errorf("can't update analysis translations: %w", err)
	}
	return nil
}

// LoadActiveSubscriptions returns the user's active webhook subscriptions
func (db *DB) LoadActiveSubscriptions(ctx context.Context, userID string) ([]persistence.WebhookSubscription, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, user_id, url, secret, events, active
		FROM webhook_subscriptions WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return nil, fmt.Errorf("can't load subscriptions: %w", err)
	}
	defer rows.Close()
	var res []persistence.WebhookSubscription
	for rows.Next() {
		var s persistence.WebhookSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.URL, &s.Secret, &s.Events, &s.Active); err != nil {
			return nil, fmt.Errorf("can't scan subscription: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertDelivery inserts webhook delivery record
func (db *DB) InsertDelivery(ctx context.Context, d *persistence.WebhookDelivery) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO webhook_deliveries(id, subscription_id, event, payload, status, attempts, created)
		VALUES($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.SubscriptionID, d.Event, d.Payload, d.Status, d.Attempts, d.Created)
	if err != nil {
		return fmt.Errorf("can't insert delivery: %w", err)
	}
	return nil
}

// LoadDelivery loads delivery with its subscription url/secret, nil if absent
func (db *DB) LoadDelivery(ctx context.Context, id string) (*persistence.WebhookDelivery, error) {
	var res persistence.WebhookDelivery
	err := db.pool.QueryRow(ctx, `SELECT d.id, d.subscription_id, d.event, d.payload, d.status,
		d.attempts, d.response_code, d.response_body, d.created, d.last_attempt, d.next_retry,
		s.url, s.secret
		FROM webhook_deliveries d JOIN webhook_subscriptions s ON s.id = d.subscription_id
		WHERE d.id = $1`, id).Scan(&res.ID, &res.SubscriptionID, &res.Event, &res.Payload,
		&res.Status, &res.Attempts, &res.ResponseCode, &res.ResponseBody, &res.Created,
		&res.LastAttempt, &res.NextRetry, &res.URL, &res.Secret)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load delivery: %w", err)
	}
	return &res, nil
}

// UpdateDelivery persists the mutable attempt fields
func (db *DB) UpdateDelivery(ctx context.Context, d *persistence.WebhookDelivery) error {
	res, err := db.pool.Exec(ctx, `UPDATE webhook_deliveries SET status = $2, attempts = $3,
		response_code = $4, response_body = $5, last_attempt = $6, next_retry = $7
		WHERE id = $1`, d.ID, d.Status, d.Attempts, d.ResponseCode, d.ResponseBody,
		d.LastAttempt, d.NextRetry)
	if err != nil {
		return fmt.Errorf("can't update delivery: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't update delivery, no record found")
	}
	return nil
}

// LoadStaleSessions returns sessions older than cutoff and never promoted
func (db *DB) LoadStaleSessions(ctx context.Context, cutoff time.Time) ([]persistence.UploadSession, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, user_id, file_name, content_type, storage_key,
		bucket, upload_id, etag, size_bytes, status, media_file_id, created
		FROM upload_sessions WHERE status IN ($1, $2) AND media_file_id IS NULL AND created < $3`,
		status.SessionUploading, status.SessionReady, cutoff)
	if err != nil {
		return nil, fmt.Errorf("can't load sessions: %w", err)
	}
	defer rows.Close()
	var res []persistence.UploadSession
	for rows.Next() {
		var s persistence.UploadSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.FileName, &s.ContentType, &s.StorageKey,
			&s.Bucket, &s.UploadID, &s.ETag, &s.SizeBytes, &s.Status, &s.MediaFileID,
			&s.Created); err != nil {
			return nil, fmt.Errorf("can't scan session: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// MarkSessionExpired moves an abandoned session to its terminal state
func (db *DB) MarkSessionExpired(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx, `UPDATE upload_sessions SET status = $2 WHERE id = $1`,
		id, status.SessionExpired)
	if err != nil {
		return fmt.Errorf("can't mark session expired: %w", err)
	}
	return nil
}

// LockEmailTable marks the (id, type) email as being sent. Fails if
// another worker holds the lock or the email already went out.
func (db *DB) LockEmailTable(ctx context.Context, id, msgType string) error {
	res, err := db.pool.Exec(ctx, `INSERT INTO email_lock(id, msg_type, status) VALUES($1, $2, 1)
		ON CONFLICT (id, msg_type) DO UPDATE SET status = 1 WHERE email_lock.status = 0`, id, msgType)
	if err != nil {
		return fmt.Errorf("can't lock email table: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("can't lock email table - already locked")
	}
	return nil
}

// UnLockEmailTable releases the email lock, value 2 means sent, 0 retryable
func (db *DB) UnLockEmailTable(ctx context.Context, id, msgType string, value *int) error {
	_, err := db.pool.Exec(ctx, `UPDATE email_lock SET status = $3 WHERE id = $1 AND msg_type = $2`,
		id, msgType, *value)
	if err != nil {
		return fmt.Errorf("can't unlock email table: %w", err)
	}
	return nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
