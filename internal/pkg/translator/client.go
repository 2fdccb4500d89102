package translator

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

type translateRequest struct {
	Texts      []string `json:"texts"`
	SourceLang string   `json:"sourceLang"`
	TargetLang string   `json:"targetLang"`
}

type translateResponse struct {
	Translations []string `json:"translations"`
}

// Client calls the machine translation service
type Client struct {
	httpclient *http.Client
	url        string
	batchSize  int
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

// NewClient creates a translation client
func NewClient(url string, batchSize int) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no url")
	}
	if batchSize < 1 {
		batchSize = 50
	}
	res := Client{}
	res.url = url
	res.batchSize = batchSize
	res.timeout = time.Minute * 5
	res.httpclient = &http.Client{}
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Translate translates texts in batches keeping the input order.
// The result always has len(texts) items.
func (c *Client) Translate(ctx context.Context, texts []string, from, to string) ([]string, error) {
	res := make([]string, 0, len(texts))
	for at := 0; at < len(texts); at += c.batchSize {
		end := at + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		tr, err := c.translateBatch(ctx, texts[at:end], from, to)
		if err != nil {
			return nil, err
		}
		res = append(res, tr...)
	}
	return res, nil
}

func (c *Client) translateBatch(ctx context.Context, texts []string, from, to string) ([]string, error) {
	goapp.Log.Debug().Int("texts", len(texts)).Str("to", to).Msg("translate batch")
	return goapp.InvokeWithBackoff(ctx, func() ([]string, bool, error) {
		b, err := json.Marshal(translateRequest{Texts: texts, SourceLang: from, TargetLang: to})
		if err != nil {
			return nil, false, fmt.Errorf("can't marshal request: %w", err)
		}
		ctx, cancelF := context.WithTimeout(ctx, c.timeout)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
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
		var respData translateResponse
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		if len(respData.Translations) != len(texts) {
			return nil, false, fmt.Errorf("wrong translations count: got %d, expected %d",
				len(respData.Translations), len(texts))
		}
		return respData.Translations, false, nil
	}, c.backoff())
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
