package inform

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/async-api/pkg/inform"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jordan-wright/email"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
)

// Sender send emails
type Sender interface {
	Send(email *email.Email) error
}

// EmailMaker prepares the email
type EmailMaker interface {
	Make(data *inform.Data) (*email.Email, error)
}

// DB tracks email sending process.
// The lock table guarantees the same email never goes out twice.
type DB interface {
	LockEmailTable(context.Context, string, string) error
	UnLockEmailTable(context.Context, string, string, *int) error
	LoadUserByID(ctx context.Context, id string) (*persistence.User, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	EmailSender Sender
	EmailMaker  EmailMaker
	DB          DB
	Location    *time.Location
}

// HandleInform sends one email about a job state change
func HandleInform(ctx context.Context, m *messages.InformMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("type", m.Type).Msg("handling inform")

	mailData := inform.Data{}
	mailData.ID = m.ID
	mailData.MsgTime = toLocalTime(data, m.At)
	mailData.MsgType = m.Type

	user, err := data.DB.LoadUserByID(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("can't load user: %w", err)
	}
	if user == nil || user.Email == "" {
		goapp.Log.Info().Str("ID", m.ID).Msg("no email, skip")
		return nil
	}
	mailData.Email = user.Email

	mail, err := data.EmailMaker.Make(&mailData)
	if err != nil {
		return fmt.Errorf("can't prepare email: %w", err)
	}

	if err := data.DB.LockEmailTable(ctx, mailData.ID, mailData.MsgType); err != nil {
		return fmt.Errorf("can't lock mail table: %w", err)
	}
	var unlockValue = 0
	defer func() {
		if err := data.DB.UnLockEmailTable(ctx, mailData.ID, mailData.MsgType, &unlockValue); err != nil {
			goapp.Log.Error().Err(err).Msg("can't unlock mail table")
		}
	}()

	if err := data.EmailSender.Send(mail); err != nil {
		return fmt.Errorf("can't send email: %w", err)
	}
	unlockValue = 2
	return nil
}

// Validate checks the service data is complete
func Validate(data *ServiceData) error {
	if data == nil {
		return fmt.Errorf("no data")
	}
	if data.EmailMaker == nil {
		return fmt.Errorf("no EmailMaker")
	}
	if data.EmailSender == nil {
		return fmt.Errorf("no EmailSender")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	return nil
}

func toLocalTime(data *ServiceData, t time.Time) time.Time {
	if data.Location != nil {
		return t.In(data.Location)
	}
	return t
}
