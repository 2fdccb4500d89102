package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/scribehub/scribe/internal/pkg/admission"
	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// InSerializableTx runs f inside one serializable transaction. Serialization
// and unique violation failures surface as retryable conflicts so the caller
// can rerun the whole unit.
func (db *DB) InSerializableTx(ctx context.Context, f func(q admission.Queries) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("can't begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := f(&txQueries{tx: tx}); err != nil {
		return mapTxErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxErr(err)
	}
	return nil
}

func mapTxErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique_violation, serialization_failure
		if pgErr.Code == "23505" || pgErr.Code == "40001" {
			return errdef.NewRetryableConflict(fmt.Sprintf("tx conflict: %s", pgErr.Code))
		}
	}
	return err
}

type txQueries struct {
	tx pgx.Tx
}

func (q *txQueries) LoadUser(ctx context.Context, id string) (*persistence.User, error) {
	var res persistence.User
	err := q.tx.QueryRow(ctx, `SELECT id, email, plan, used_minutes_this_month
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

func (q *txQueries) LoadMediaFile(ctx context.Context, id, userID string) (*persistence.MediaFile, error) {
	var res persistence.MediaFile
	err := q.tx.QueryRow(ctx, `SELECT id, user_id, file_name, content_type, storage_key,
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

func (q *txQueries) LoadUploadSession(ctx context.Context, id, userID string) (*persistence.UploadSession, error) {
	var res persistence.UploadSession
	err := q.tx.QueryRow(ctx, `SELECT id, user_id, file_name, content_type, storage_key,
		bucket, upload_id, etag, size_bytes, status, media_file_id, created
		FROM upload_sessions WHERE id = $1 AND user_id = $2`, id, userID).Scan(&res.ID,
		&res.UserID, &res.FileName, &res.ContentType, &res.StorageKey, &res.Bucket,
		&res.UploadID, &res.ETag, &res.SizeBytes, &res.Status, &res.MediaFileID, &res.Created)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load upload session: %w", err)
	}
	return &res, nil
}

func (q *txQueries) InsertMediaFile(ctx context.Context, m *persistence.MediaFile) error {
	_, err := q.tx.Exec(ctx, `INSERT INTO media_files(id, user_id, file_name, content_type,
		storage_key, bucket, size_bytes, created) VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.UserID, m.FileName, m.ContentType, m.StorageKey, m.Bucket, m.SizeBytes, m.Created)
	if err != nil {
		return fmt.Errorf("can't insert media file: %w", err)
	}
	return nil
}

func (q *txQueries) LinkSessionMedia(ctx context.Context, sessionID, mediaFileID string) error {
	res, err := q.tx.Exec(ctx, `UPDATE upload_sessions SET media_file_id = $2
		WHERE id = $1 AND media_file_id IS NULL`, sessionID, mediaFileID)
	if err != nil {
		return fmt.Errorf("can't link session: %w", err)
	}
	if res.RowsAffected() != 1 {
		return errdef.NewConflict("session already promoted")
	}
	return nil
}

func (q *txQueries) HasActiveJobForMedia(ctx context.Context, mediaFileID string) (bool, error) {
	var res bool
	err := q.tx.QueryRow(ctx, `SELECT EXISTS (SELECT FROM jobs WHERE media_file_id = $1
		AND status IN ($2, $3))`, mediaFileID, status.Pending.String(),
		status.Processing.String()).Scan(&res)
	if err != nil {
		return false, fmt.Errorf("can't check active jobs: %w", err)
	}
	return res, nil
}

func (q *txQueries) CountJobsCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var res int
	err := q.tx.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE user_id = $1 AND created >= $2`,
		userID, since).Scan(&res)
	if err != nil {
		return 0, fmt.Errorf("can't count jobs: %w", err)
	}
	return res, nil
}

func (q *txQueries) CountActiveJobs(ctx context.Context, userID string) (int, error) {
	var res int
	err := q.tx.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE user_id = $1
		AND status IN ($2, $3)`, userID, status.Pending.String(),
		status.Processing.String()).Scan(&res)
	if err != nil {
		return 0, fmt.Errorf("can't count active jobs: %w", err)
	}
	return res, nil
}

func (q *txQueries) InsertJob(ctx context.Context, j *persistence.Job) error {
	_, err := q.tx.Exec(ctx, `INSERT INTO jobs(id, user_id, media_file_id, status, quality,
		created, version) VALUES($1, $2, $3, $4, $5, $6, 1)`,
		j.ID, j.UserID, j.MediaFileID, j.Status, j.Quality, j.Created)
	if err != nil {
		return fmt.Errorf("can't insert job: %w", err)
	}
	return nil
}
