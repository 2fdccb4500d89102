package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"

	tapi "github.com/scribehub/scribe/internal/pkg/transcriber/api"
)

// Client communicates with the speech recognition engine
type Client struct {
	httpclient *http.Client
	url        string
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

// NewClient creates an engine client
func NewClient(url string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no url")
	}
	res := Client{}
	res.url = url
	res.timeout = time.Minute * 30
	res.httpclient = &http.Client{Transport: newTransport()}
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Transcribe uploads audio and returns the full transcription result.
// Transcription may run for many minutes, the request stays open.
func (sp *Client) Transcribe(ctx context.Context, name string, audio io.Reader, params map[string]string) (*tapi.TranscriptionResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(tapi.PrmFile, name)
	if err != nil {
		return nil, fmt.Errorf("can't add file to request: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("can't add file content to request: %w", err)
	}
	for k, v := range params {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("can't add param: %w", err)
		}
	}
	writer.Close()

	// no backoff here - the body reader is consumed by the first try and
	// reruns are the queue's job anyway
	ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
	defer cancelF()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/transcribe", sp.url), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
	resp, err := sp.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("can't call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
		return nil, fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
	}
	res := &tapi.TranscriptionResult{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, fmt.Errorf("can't decode response: %w", err)
	}
	return res, nil
}

// Live checks the engine health endpoint
func (sp *Client) Live(ctx context.Context) error {
	_, err := goapp.InvokeWithBackoff(ctx, func() (interface{}, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, time.Second*10)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/live", sp.url), nil)
		if err != nil {
			return nil, false, err
		}
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		return nil, false, nil
	}, sp.backoff())
	return err
}

func newTransport() http.RoundTripper {
	// default roundripper has just 2 idle connections per host, tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 100
	res.MaxIdleConns = 50
	res.MaxIdleConnsPerHost = 50
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
