package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
)

type convertRequest struct {
	Key string `json:"key"`
}

// ConvertResult describes the prepared audio object
type ConvertResult struct {
	AudioKey    string   `json:"audioKey"`
	DurationSec float64  `json:"durationSec"`
	TempKeys    []string `json:"tempKeys,omitempty"`
}

// Client calls the audio preparation service. The service reads the raw
// object from storage, writes a normalized wav next to it and reports
// duration plus any intermediate objects it produced.
type Client struct {
	httpclient *http.Client
	convertURL string
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

// NewClient creates an audio converter client
func NewClient(convertURL string) (*Client, error) {
	if convertURL == "" {
		return nil, fmt.Errorf("no convertURL")
	}
	res := Client{}
	res.convertURL = convertURL
	res.timeout = time.Minute * 10
	res.httpclient = &http.Client{}
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Convert prepares audio for the recognition engine
func (c *Client) Convert(ctx context.Context, key string) (*ConvertResult, error) {
	goapp.Log.Info().Str("key", key).Msg("convert audio")
	return goapp.InvokeWithBackoff(ctx, func() (*ConvertResult, bool, error) {
		b, err := json.Marshal(convertRequest{Key: key})
		if err != nil {
			return nil, false, fmt.Errorf("can't marshal request: %w", err)
		}
		ctx, cancelF := context.WithTimeout(ctx, c.timeout)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.convertURL, bytes.NewReader(b))
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		res := &ConvertResult{}
		if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		if res.AudioKey == "" {
			return nil, false, fmt.Errorf("can't get audioKey from response")
		}
		return res, false, nil
	}, c.backoff())
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
