package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/google/uuid"

	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/plans"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// Queries is the DB unit admission runs inside one transaction
type Queries interface {
	LoadUser(ctx context.Context, id string) (*persistence.User, error)
	LoadMediaFile(ctx context.Context, id, userID string) (*persistence.MediaFile, error)
	LoadUploadSession(ctx context.Context, id, userID string) (*persistence.UploadSession, error)
	InsertMediaFile(ctx context.Context, m *persistence.MediaFile) error
	LinkSessionMedia(ctx context.Context, sessionID, mediaFileID string) error
	HasActiveJobForMedia(ctx context.Context, mediaFileID string) (bool, error)
	CountJobsCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountActiveJobs(ctx context.Context, userID string) (int, error)
	InsertJob(ctx context.Context, j *persistence.Job) error
}

// TxRunner runs a DB unit in one serializable transaction
type TxRunner interface {
	InSerializableTx(ctx context.Context, f func(q Queries) error) error
}

// Sender sends messages to the queue
type Sender interface {
	SendMessage(ctx context.Context, message any, queue, jobType string) error
}

// Request is a job submission
type Request struct {
	UserID  string
	MediaID string // media file or upload session ID
	Quality string
}

// Data keeps service dependencies
type Data struct {
	Tx     TxRunner
	Sender Sender
	Plans  *plans.Resolver
}

const txRetries = 3

// Submit admits one transcription job: resolves media, enforces the
// user's plan limits and inserts the pending job, all in one serializable
// transaction. The queue message goes out only after the commit, so a
// rollback never leaves an orphan message behind.
func Submit(ctx context.Context, data *Data, req *Request) (string, error) {
	if err := validate(data); err != nil {
		return "", err
	}
	if req.UserID == "" {
		return "", errdef.NewValidation("no userID")
	}
	if req.MediaID == "" {
		return "", errdef.NewValidation("no mediaID")
	}

	var jobID, queue string
	var err error
	for i := 0; i < txRetries; i++ {
		jobID, queue, err = submitTx(ctx, data, req)
		if errdef.IsRetryableConflict(err) {
			goapp.Log.Warn().Str("user", req.UserID).Int("attempt", i+1).Msg("tx conflict, retrying")
			continue
		}
		break
	}
	if err != nil {
		return "", err
	}

	msg := &messages.TranscriptionMessage{UserID: req.UserID}
	msg.ID = jobID
	if err := data.Sender.SendMessage(ctx, msg, queue, messages.JobTranscribe); err != nil {
		// the pending job stays in DB, a sweeper or resubmit picks it up
		return "", fmt.Errorf("can't send message: %w", err)
	}
	goapp.Log.Info().Str("ID", jobID).Str("queue", queue).Msg("job admitted")
	return jobID, nil
}

func submitTx(ctx context.Context, data *Data, req *Request) (string /*jobID*/, string /*queue*/, error) {
	var jobID, queue string
	err := data.Tx.InSerializableTx(ctx, func(q Queries) error {
		user, err := q.LoadUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return errdef.NewNotFound("user %s", req.UserID)
		}
		plan := data.Plans.Get(user.Plan)
		queue = plan.Queue

		media, err := resolveMedia(ctx, q, req)
		if err != nil {
			return err
		}

		active, err := q.HasActiveJobForMedia(ctx, media.ID)
		if err != nil {
			return err
		}
		if active {
			return errdef.NewConflict(fmt.Sprintf("media %s already has an active job", media.ID))
		}

		if err := checkLimits(ctx, q, plan, req.UserID); err != nil {
			return err
		}

		job := &persistence.Job{ID: uuid.NewString(), UserID: req.UserID, MediaFileID: media.ID,
			Status: status.Pending.String(), Quality: req.Quality, Created: time.Now()}
		if err := q.InsertJob(ctx, job); err != nil {
			return err
		}
		jobID = job.ID
		return nil
	})
	return jobID, queue, err
}

// resolveMedia finds the media file or promotes a finished upload session
// into one. Promotion is idempotent - a session already pointing at a media
// file resolves to that file.
func resolveMedia(ctx context.Context, q Queries, req *Request) (*persistence.MediaFile, error) {
	media, err := q.LoadMediaFile(ctx, req.MediaID, req.UserID)
	if err != nil {
		return nil, err
	}
	if media != nil {
		return media, nil
	}
	session, err := q.LoadUploadSession(ctx, req.MediaID, req.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errdef.NewNotFound("media %s", req.MediaID)
	}
	if session.MediaFileID.Valid {
		media, err := q.LoadMediaFile(ctx, session.MediaFileID.String, req.UserID)
		if err != nil {
			return nil, err
		}
		if media == nil {
			return nil, errdef.NewNotFound("media %s", session.MediaFileID.String)
		}
		return media, nil
	}
	if session.Status != status.SessionReady {
		return nil, errdef.NewValidation(fmt.Sprintf("upload session %s is not finished", req.MediaID))
	}
	media = &persistence.MediaFile{ID: uuid.NewString(), UserID: session.UserID,
		FileName: session.FileName, ContentType: session.ContentType,
		StorageKey: session.StorageKey, Bucket: session.Bucket,
		SizeBytes: session.SizeBytes, Created: time.Now()}
	if err := q.InsertMediaFile(ctx, media); err != nil {
		return nil, err
	}
	if err := q.LinkSessionMedia(ctx, session.ID, media.ID); err != nil {
		return nil, err
	}
	goapp.Log.Info().Str("session", session.ID).Str("media", media.ID).Msg("promoted upload session")
	return media, nil
}

func checkLimits(ctx context.Context, q Queries, plan *plans.Plan, userID string) error {
	if plan.DailyLimit > 0 {
		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := q.CountJobsCreatedSince(ctx, userID, dayStart)
		if err != nil {
			return err
		}
		if err := plans.EnsureDailyLimit(plan, count); err != nil {
			return err
		}
	}
	if plan.ConcurrentLimit > 0 {
		count, err := q.CountActiveJobs(ctx, userID)
		if err != nil {
			return err
		}
		if err := plans.EnsureConcurrentLimit(plan, count); err != nil {
			return err
		}
	}
	return nil
}

func validate(data *Data) error {
	if data.Tx == nil {
		return fmt.Errorf("no Tx")
	}
	if data.Sender == nil {
		return fmt.Errorf("no Sender")
	}
	if data.Plans == nil {
		return fmt.Errorf("no Plans")
	}
	return nil
}
