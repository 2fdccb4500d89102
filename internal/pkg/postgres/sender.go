package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
)

// Sender queues jobs to gue tables
type Sender struct {
	gc *gue.Client
}

// NewSender initializes gue sender
func NewSender(pool *pgxpool.Pool) (*Sender, error) {
	gc, err := gue.NewClient(pgxv5.NewConnPool(pool))
	if err != nil {
		return nil, fmt.Errorf("can't init gue: %w", err)
	}
	return &Sender{gc: gc}, nil
}

// SendMessage sends the message to the queue under the given job type
func (s *Sender) SendMessage(ctx context.Context, message any, queue, jobType string) error {
	return s.send(ctx, message, queue, jobType, time.Time{})
}

// Schedule sends the message so it runs not earlier than after delay
func (s *Sender) Schedule(ctx context.Context, message any, queue, jobType string, delay time.Duration) error {
	return s.send(ctx, message, queue, jobType, time.Now().Add(delay))
}

func (s *Sender) send(ctx context.Context, message any, queue, jobType string, runAt time.Time) error {
	goapp.Log.Debug().Str("queue", queue).Str("type", jobType).Msg("Sending message")
	args, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("can't marshal msg: %w", err)
	}
	j := &gue.Job{Type: jobType, Queue: queue, Args: args}
	if !runAt.IsZero() {
		j.RunAt = runAt
	}
	if err := s.gc.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("can't send msg to %s: %w", queue, err)
	}
	return nil
}
