package translate

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/plans"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// DB provides job loading for translation requests
type DB interface {
	LoadJobForUser(ctx context.Context, id, userID string) (*persistence.Job, error)
	UpdateTranslationState(ctx context.Context, id string, st, toLang string) error
}

// UserLoader loads the requesting user
type UserLoader interface {
	LoadUserByID(ctx context.Context, id string) (*persistence.User, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(ctx context.Context, message any, queue, jobType string) error
}

// Data keeps translation request dependencies
type Data struct {
	DB     DB
	Users  UserLoader
	Sender MsgSender
	Plans  *plans.Resolver
}

// Request asks to translate a completed job to one more language.
// Asking for an already translated language is a no-op, a translation
// already running for the job is a conflict.
func Request(ctx context.Context, data *Data, jobID, userID, targetLang string) error {
	if targetLang == "" {
		return errdef.NewValidation("no targetLang")
	}
	user, err := data.Users.LoadUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("can't load user: %w", err)
	}
	if user == nil {
		return errdef.NewNotFound("user %s", userID)
	}
	plan := data.Plans.Get(user.Plan)
	if err := plans.EnsureTranslationAllowed(plan); err != nil {
		return err
	}
	job, err := data.DB.LoadJobForUser(ctx, jobID, userID)
	if err != nil {
		return fmt.Errorf("can't load job: %w", err)
	}
	if job == nil {
		return errdef.NewNotFound("job %s", jobID)
	}
	if status.From(job.Status) != status.Completed {
		return errdef.NewValidation("job %s is not completed", jobID)
	}
	if job.SourceLang.String == "" {
		return errdef.NewValidation("job %s has no source language", jobID)
	}
	if job.SourceLang.String == targetLang {
		return errdef.NewValidation("job %s is already in %s", jobID, targetLang)
	}
	if contains(job.TranslatedLangs, targetLang) {
		goapp.Log.Info().Str("ID", jobID).Str("lang", targetLang).Msg("already translated")
		return nil
	}
	if job.TranslationStatus.String == status.TrTranslating || job.TranslationStatus.String == status.TrPending {
		return errdef.NewConflict(fmt.Sprintf("job %s translation already running", jobID))
	}
	if err := data.DB.UpdateTranslationState(ctx, jobID, status.TrPending, targetLang); err != nil {
		return fmt.Errorf("can't update translation state: %w", err)
	}
	msg := &messages.TranslationMessage{UserID: userID, TargetLang: targetLang}
	msg.ID = jobID
	if err := data.Sender.SendMessage(ctx, msg, plan.Queue, messages.JobTranslate); err != nil {
		return fmt.Errorf("can't send message: %w", err)
	}
	goapp.Log.Info().Str("ID", jobID).Str("lang", targetLang).Msg("translation requested")
	return nil
}

func contains(langs []string, lang string) bool {
	for _, l := range langs {
		if l == lang {
			return true
		}
	}
	return false
}
