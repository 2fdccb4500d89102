package handler

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"
)

// Opts configures one job type handler
type Opts struct {
	backoff    gue.Backoff
	timeout    time.Duration
	maxRetries int32
	// when false the job error is logged and dropped instead of retried
	retry bool
}

// Create wraps a typed handler func into a gue work func: JSON args
// decoding, timeout, retry accounting
func Create[TM any, SD any](data *SD, hf func(context.Context, *TM, *SD) error, opts *Opts) gue.WorkFunc {
	if opts == nil {
		goapp.Log.Panic().Msg("no opts provided")
	}
	return func(ctx context.Context, j *gue.Job) error {
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("got msg")

		var m TM
		err := json.Unmarshal(j.Args, &m)
		if err != nil {
			// malformed args will never recover, drop
			goapp.Log.Error().Err(err).Str("type", j.Type).Msg("could not unmarshal message")
			return nil
		}
		wrkCtx, cf := context.WithTimeout(ctx, opts.timeout)
		defer cf()
		err = hf(wrkCtx, &m, data)
		if err == nil {
			return nil
		}
		goapp.Log.Warn().Err(err).Str("queue", j.Queue).Str("type", j.Type).Msg("fail")
		if !opts.retry || j.ErrorCount >= opts.maxRetries {
			goapp.Log.Warn().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("will not retry")
			return nil
		}
		delay := opts.backoff(int(j.ErrorCount + 1))
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Dur("after", delay).Msg("retry after")
		return gue.ErrRescheduleJobIn(delay, err.Error())
	}
}

// DefaultOpts - 15 min timeout, 3 retries with jittered backoff
func DefaultOpts() *Opts {
	return &Opts{timeout: time.Minute * 15, maxRetries: 3, retry: true, backoff: DefaultBackoff()}
}

// NoRetryOpts - failures are dropped after the first run
func NoRetryOpts() *Opts {
	res := DefaultOpts()
	res.retry = false
	return res
}

func (o *Opts) WithTimeout(timeout time.Duration) *Opts {
	o.timeout = timeout
	return o
}

func (o *Opts) WithMaxRetries(n int32) *Opts {
	o.maxRetries = n
	return o
}

func (o *Opts) WithBackoff(b gue.Backoff) *Opts {
	o.backoff = b
	return o
}

func DefaultBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return fullJitter(time.Duration(retries) * time.Second * 10)
	}
}

func NoBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return 0
	}
}

func DefaultBackoffOrTest(test bool) gue.Backoff {
	if test {
		return NoBackoff()
	}
	return DefaultBackoff()
}

// fullJitter return randomized duration in interval [0, t)
// as suggested by https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func fullJitter(t time.Duration) time.Duration {
	return time.Duration(float64(t) * rand.Float64())
}
