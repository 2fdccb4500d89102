package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/utils"
	"github.com/scribehub/scribe/internal/pkg/utils/handler"
)

// WSConnHandler manages websocket connections
type WSConnHandler interface {
	HandleConnection(WsConn) error
	GetConnections(userID string) ([]WsConn, bool)
}

// HandlerData keeps data required for the event handler
type HandlerData struct {
	GueClient   *gue.Client
	WorkerCount int
	WSHandler   WSConnHandler
}

// StartNotifyHandler starts the queue listener pushing events to open
// websocket connections. It runs in the same process as the connections.
func StartNotifyHandler(ctx context.Context, data *HandlerData) (<-chan struct{}, error) {
	if err := ValidateHandler(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Msg("Starting listen for notify events")

	wm := gue.WorkMap{
		messages.JobNotify: handler.Create(data, HandleNotify,
			handler.NoRetryOpts().WithTimeout(time.Second*30)),
	}
	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Notify),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("scribe-notify"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

type pushMsg struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandleNotify pushes the event to every open connection of the user.
// A user with no open connections just misses the event, the durable
// record is in the DB anyway.
func HandleNotify(ctx context.Context, m *messages.NotifyMessage, data *HandlerData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("event", m.Event).Msg("handling notify event")
	conns, found := data.WSHandler.GetConnections(m.UserID)
	if !found {
		goapp.Log.Debug().Str("user", m.UserID).Msg("no connections found")
		return nil
	}
	res := &pushMsg{ID: m.ID, Event: m.Event, Payload: m.Payload}
	for _, c := range conns {
		if err := sendMsg(c, res); err != nil {
			goapp.Log.Error().Err(err).Send()
		}
	}
	return nil
}

func sendMsg(c WsConn, res *pushMsg) error {
	if err := c.WriteJSON(res); err != nil {
		return fmt.Errorf("can't write to websocket: %w", err)
	}
	return nil
}

// ValidateHandler checks the handler data is complete
func ValidateHandler(data *HandlerData) error {
	if data == nil {
		return fmt.Errorf("no data")
	}
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	return nil
}
