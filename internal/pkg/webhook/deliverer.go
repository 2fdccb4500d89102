package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
	"github.com/scribehub/scribe/internal/pkg/utils"
)

// MaxAttempts bounds delivery tries per event
const MaxAttempts = 5

// retryDelays[n] is the pause before attempt n+1
var retryDelays = []time.Duration{0, time.Minute, 5 * time.Minute, 30 * time.Minute, 120 * time.Minute}

const maxStoredBody = 4000

// DeliveryDB provides delivery persistence
type DeliveryDB interface {
	LoadDelivery(ctx context.Context, id string) (*persistence.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, d *persistence.WebhookDelivery) error
}

// Scheduler re-queues a delivery after a pause
type Scheduler interface {
	Schedule(ctx context.Context, message any, queue, jobType string, delay time.Duration) error
}

// ServiceData keeps deliverer dependencies
type ServiceData struct {
	DB         DeliveryDB
	Scheduler  Scheduler
	HTTPClient *http.Client
}

// HandleDelivery makes one delivery attempt. Retries are self-managed:
// a failed attempt schedules the next run itself with a growing pause,
// so the handler always returns nil and the queue never reschedules it.
func HandleDelivery(ctx context.Context, m *messages.WebhookMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling delivery")
	d, err := data.DB.LoadDelivery(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load delivery: %w", err)
	}
	if d == nil {
		goapp.Log.Warn().Str("ID", m.ID).Msg("no delivery, dropping")
		return nil
	}
	if d.Status == status.DeliverySent {
		goapp.Log.Info().Str("ID", m.ID).Msg("already sent, dropping")
		return nil
	}
	if d.Attempts >= MaxAttempts {
		d.Status = status.DeliveryFailed
		if err := data.DB.UpdateDelivery(ctx, d); err != nil {
			return fmt.Errorf("can't update delivery: %w", err)
		}
		goapp.Log.Warn().Str("ID", m.ID).Msg("attempts exhausted")
		return nil
	}

	// count the attempt before going to the network - a crash mid-call
	// must not grant a free extra try
	d.Attempts++
	d.LastAttempt = utils.ToSQLTime(time.Now())
	if err := data.DB.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("can't update delivery: %w", err)
	}

	code, body, errCall := attempt(ctx, data, d)
	if code > 0 {
		d.ResponseCode = utils.ToSQLInt32(int32(code))
	}
	d.ResponseBody = utils.ToSQLStr(truncate(body, maxStoredBody))
	if errCall == nil && code >= 200 && code < 300 {
		d.Status = status.DeliverySent
		d.NextRetry = utils.ToSQLTime(time.Time{})
		if err := data.DB.UpdateDelivery(ctx, d); err != nil {
			return fmt.Errorf("can't update delivery: %w", err)
		}
		goapp.Log.Info().Str("ID", d.ID).Int("code", code).Msg("delivered")
		return nil
	}
	if errCall != nil {
		goapp.Log.Warn().Err(errCall).Str("ID", d.ID).Int32("attempt", d.Attempts).Msg("delivery attempt failed")
	} else {
		goapp.Log.Warn().Str("ID", d.ID).Int("code", code).Int32("attempt", d.Attempts).Msg("delivery attempt rejected")
	}

	if d.Attempts >= MaxAttempts {
		d.Status = status.DeliveryFailed
		d.NextRetry = utils.ToSQLTime(time.Time{})
		if err := data.DB.UpdateDelivery(ctx, d); err != nil {
			return fmt.Errorf("can't update delivery: %w", err)
		}
		goapp.Log.Warn().Str("ID", d.ID).Msg("delivery failed for good")
		return nil
	}
	delay := retryDelay(d.Attempts)
	d.NextRetry = utils.ToSQLTime(time.Now().Add(delay))
	if err := data.DB.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("can't update delivery: %w", err)
	}
	msg := &messages.WebhookMessage{}
	msg.ID = d.ID
	if err := data.Scheduler.Schedule(ctx, msg, messages.Events, messages.JobWebhook, delay); err != nil {
		return fmt.Errorf("can't schedule retry: %w", err)
	}
	goapp.Log.Info().Str("ID", d.ID).Dur("delay", delay).Msg("retry scheduled")
	return nil
}

func attempt(ctx context.Context, data *ServiceData, d *persistence.WebhookDelivery) (int, string, error) {
	ctx, cancelF := context.WithTimeout(ctx, time.Second*30)
	defer cancelF()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader([]byte(d.Payload)))
	if err != nil {
		return 0, "", err
	}
	now := time.Now().UTC()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", d.Event)
	req.Header.Set("X-Webhook-Signature", Sign(d.Secret, d.Payload))
	req.Header.Set("X-Webhook-Timestamp", now.Format(time.RFC3339Nano))
	req.Header.Set("X-Webhook-Delivery-Id", d.ID)
	resp, err := data.HTTPClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("can't call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStoredBody+1))
	if err != nil {
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, string(body), nil
}

// retryDelay returns the pause before the next attempt, the last
// schedule entry is reused for any attempt count beyond it
func retryDelay(attempt int32) time.Duration {
	if int(attempt) >= len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[attempt]
}

// Sign computes the payload signature the receiver verifies
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Validate checks the deliverer data is complete
func Validate(data *ServiceData) error {
	if data == nil {
		return fmt.Errorf("no data")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Scheduler == nil {
		return fmt.Errorf("no Scheduler")
	}
	if data.HTTPClient == nil {
		return fmt.Errorf("no HTTPClient")
	}
	return nil
}
