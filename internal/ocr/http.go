package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"
)

// HTTPRecognizer posts each region as a base64 PNG to a remote OCR
// service and reads back {text, confidence}.
type HTTPRecognizer struct {
	url        string
	token      string
	lang       string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

func NewHTTPRecognizer(url, token, lang string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRecognizer{
		url:   url,
		token: token,
		lang:  lang,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		backoff: Backoff,
	}
}

type recognizeRequest struct {
	ImageB64 string `json:"image_base64"`
	Lang     string `json:"lang,omitempty"`
}

type recognizeResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error,omitempty"`
}

// Recognize retries transient failures up to MaxRetries times.
func (c *HTTPRecognizer) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	raw, err := encodePNG(img)
	if err != nil {
		return Recognition{}, err
	}
	body, err := json.Marshal(recognizeRequest{
		ImageB64: base64.StdEncoding.EncodeToString(raw),
		Lang:     c.lang,
	})
	if err != nil {
		return Recognition{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Recognition{}, ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}
		rec, err := c.post(ctx, body)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return Recognition{}, err
		}
	}
	return Recognition{}, fmt.Errorf("ocr service: giving up after %d attempts: %w", MaxRetries+1, lastErr)
}

func (c *HTTPRecognizer) post(ctx context.Context, body []byte) (Recognition, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Recognition{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("X-Internal-Token", c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Recognition{}, fmt.Errorf("ocr service: %w", err)
		}
		return Recognition{}, &RetryableError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Recognition{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Recognition{}, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return Recognition{}, fmt.Errorf("ocr service status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var out recognizeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Recognition{}, fmt.Errorf("decode response: %w (raw: %s)", err, truncate(string(respBody), 200))
	}
	if out.Error != "" {
		return Recognition{}, fmt.Errorf("ocr service error: %s", out.Error)
	}
	rec := Recognition{Text: out.Text}
	if out.Confidence != nil {
		rec.Confidence = clampConfidence(*out.Confidence)
	}
	return rec, nil
}

// Close releases resources.
func (c *HTTPRecognizer) Close() {
	c.httpClient.CloseIdleConnections()
}
