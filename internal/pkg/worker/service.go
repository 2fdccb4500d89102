package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"

	"github.com/scribehub/scribe/internal/pkg/analysis"
	"github.com/scribehub/scribe/internal/pkg/clean"
	"github.com/scribehub/scribe/internal/pkg/inform"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/pipeline"
	"github.com/scribehub/scribe/internal/pkg/translate"
	"github.com/scribehub/scribe/internal/pkg/utils"
	"github.com/scribehub/scribe/internal/pkg/utils/handler"
	"github.com/scribehub/scribe/internal/pkg/webhook"
)

// ServiceData keeps the worker pools wiring
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	Testing     bool

	Pipeline  *pipeline.ServiceData
	Translate *translate.ServiceData
	Analysis  *analysis.ServiceData
	Webhook   *webhook.ServiceData
	Clean     *clean.ServiceData
	Inform    *inform.ServiceData
}

// StartWorkerService starts one worker pool per queue lane. The Default
// and Priority lanes run the same job kinds, a separate pool per lane
// keeps a Priority job from ever waiting behind free tier work.
// The returned channel closes when every pool has drained.
func StartWorkerService(ctx context.Context, data *ServiceData) (<-chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}

	bo := handler.DefaultBackoffOrTest(data.Testing)
	jobsWM := gue.WorkMap{
		messages.JobTranscribe: handler.Create(data.Pipeline, pipeline.HandleTranscription,
			handler.DefaultOpts().WithTimeout(time.Minute*120).WithBackoff(bo)),
		messages.JobTranslate: handler.Create(data.Translate, translate.HandleTranslation,
			handler.DefaultOpts().WithTimeout(time.Minute*30).WithMaxRetries(2).WithBackoff(bo)),
		messages.JobAnalysis: handler.Create(data.Analysis, analysis.HandleAnalysis,
			handler.DefaultOpts().WithTimeout(time.Minute*30).WithMaxRetries(2).WithBackoff(bo)),
	}
	eventsWM := gue.WorkMap{
		// the deliverer schedules its own retries, queue level retry is off
		messages.JobWebhook: handler.Create(data.Webhook, webhook.HandleDelivery,
			handler.NoRetryOpts().WithTimeout(time.Minute)),
		messages.JobCleanupSessions: handler.Create(data.Clean, clean.HandleCleanup,
			handler.NoRetryOpts().WithTimeout(time.Minute*10)),
	}
	informWM := gue.WorkMap{
		messages.JobInform: handler.Create(data.Inform, inform.HandleInform,
			handler.DefaultOpts().WithTimeout(time.Minute).WithBackoff(bo)),
	}

	pools := []struct {
		queue string
		id    string
		wm    gue.WorkMap
		count int
	}{
		{queue: messages.Default, id: "scribe-default", wm: jobsWM, count: data.WorkerCount},
		{queue: messages.Priority, id: "scribe-priority", wm: jobsWM, count: data.WorkerCount},
		{queue: messages.Events, id: "scribe-events", wm: eventsWM, count: 2},
		{queue: messages.Inform, id: "scribe-inform", wm: informWM, count: 1},
	}

	var wg sync.WaitGroup
	for _, p := range pools {
		pool, err := gue.NewWorkerPool(
			data.GueClient, p.wm, p.count,
			gue.WithPoolQueue(p.queue),
			gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
			gue.WithPoolPollInterval(500*time.Millisecond),
			gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
			gue.WithPoolID(p.id),
		)
		if err != nil {
			return nil, fmt.Errorf("could not build gue workers pool %s: %w", p.id, err)
		}
		wg.Add(1)
		go func(id string, pool *gue.WorkerPool) {
			defer wg.Done()
			goapp.Log.Info().Str("pool", id).Msg("Starting workers")
			if err := pool.Run(ctx); err != nil {
				goapp.Log.Error().Err(err).Str("pool", id).Msg("pool error")
			}
			goapp.Log.Info().Str("pool", id).Msg("Pool workers finished")
		}(p.id, pool)
	}

	res := make(chan struct{})
	go func() {
		wg.Wait()
		close(res)
	}()
	return res, nil
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if err := pipeline.Validate(data.Pipeline); err != nil {
		return err
	}
	if err := translate.Validate(data.Translate); err != nil {
		return err
	}
	if err := analysis.Validate(data.Analysis); err != nil {
		return err
	}
	if err := webhook.Validate(data.Webhook); err != nil {
		return err
	}
	if err := clean.Validate(data.Clean); err != nil {
		return err
	}
	if err := inform.Validate(data.Inform); err != nil {
		return err
	}
	return nil
}
