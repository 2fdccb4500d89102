package clean

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"go.uber.org/multierr"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// DB provides stale session persistence
type DB interface {
	LoadStaleSessions(ctx context.Context, cutoff time.Time) ([]persistence.UploadSession, error)
	MarkSessionExpired(ctx context.Context, id string) error
}

// Filer drops abandoned storage objects
type Filer interface {
	DeleteFile(ctx context.Context, name string) error
	AbortMultipart(ctx context.Context, name, uploadID string) error
}

// Scheduler re-queues the sweep
type Scheduler interface {
	Schedule(ctx context.Context, message any, queue, jobType string, delay time.Duration) error
}

// ServiceData keeps cleanup dependencies
type ServiceData struct {
	DB        DB
	Filer     Filer
	Scheduler Scheduler
	// sessions untouched this long get expired
	MaxAge   time.Duration
	Interval time.Duration
}

// Kickoff queues the first sweep. The sweep then re-queues itself, so
// this is only needed once per deployment - a duplicate just runs an
// extra harmless pass.
func Kickoff(ctx context.Context, data *ServiceData) error {
	return data.Scheduler.Schedule(ctx, &messages.CleanupMessage{}, messages.Events,
		messages.JobCleanupSessions, 0)
}

// HandleCleanup expires abandoned upload sessions and drops their storage
// leftovers. Unfinished multipart uploads are aborted, finished but never
// promoted uploads are deleted. Only session artifacts are touched here,
// promoted media files live on.
func HandleCleanup(ctx context.Context, m *messages.CleanupMessage, data *ServiceData) error {
	cutoff := time.Now().Add(-data.MaxAge)
	sessions, err := data.DB.LoadStaleSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("can't load stale sessions: %w", err)
	}
	goapp.Log.Info().Int("count", len(sessions)).Msg("stale sessions")
	var resErr error
	for _, s := range sessions {
		if err := cleanSession(ctx, data, &s); err != nil {
			resErr = multierr.Append(resErr, fmt.Errorf("can't clean session %s: %w", s.ID, err))
		}
	}
	if err := data.Scheduler.Schedule(ctx, &messages.CleanupMessage{}, messages.Events,
		messages.JobCleanupSessions, data.Interval); err != nil {
		resErr = multierr.Append(resErr, fmt.Errorf("can't schedule next sweep: %w", err))
	}
	return resErr
}

func cleanSession(ctx context.Context, data *ServiceData, s *persistence.UploadSession) error {
	if s.Status == status.SessionUploading && s.UploadID != "" {
		if err := data.Filer.AbortMultipart(ctx, s.StorageKey, s.UploadID); err != nil {
			return err
		}
	} else if err := data.Filer.DeleteFile(ctx, s.StorageKey); err != nil {
		return err
	}
	if err := data.DB.MarkSessionExpired(ctx, s.ID); err != nil {
		return err
	}
	goapp.Log.Info().Str("ID", s.ID).Str("status", s.Status).Msg("session expired")
	return nil
}

// Validate checks the cleanup data is complete
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
	if data.Scheduler == nil {
		return fmt.Errorf("no Scheduler")
	}
	if data.MaxAge <= 0 {
		return fmt.Errorf("no MaxAge")
	}
	if data.Interval <= 0 {
		return fmt.Errorf("no Interval")
	}
	return nil
}
