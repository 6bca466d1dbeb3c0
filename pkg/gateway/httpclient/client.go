// Package httpclient talks to the ingestion service API: it submits datasets
// and follows a run's NDJSON progress stream.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/cropsight/platform/pkg/ingestion"
	"github.com/cropsight/platform/pkg/progress"
)

var ErrStreamUnavailable = errors.New("Unable to open workflow progress stream.")

// New creates an HTTP client tuned for talking to the ingestion service. A
// zero timeout leaves long-lived streams uninterrupted.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	attempts int
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = New(0)
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     httpClient,
		attempts: 3,
	}
}

// Upload submits a dataset. The service's structured result is returned for
// rejected uploads too, alongside an error carrying its message.
func (c *Client) Upload(ctx context.Context, fileName string, data []byte, captureDate string) (*ingestion.UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("captureDate", captureDate); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("dataset", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ingest", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload dataset: %w", err)
	}
	defer resp.Body.Close()

	var result ingestion.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response (%s): %w", resp.Status, err)
	}
	if result.Status != ingestion.UploadSuccess {
		return &result, errors.New(result.Message)
	}
	return &result, nil
}

// Watch follows the progress stream of runID, calling fn for every event
// until a terminal event arrives or the stream ends. Opening the
// stream is retried on transient network errors.
func (c *Client) Watch(ctx context.Context, runID string, fn func(progress.Event) error) error {
	var resp *http.Response
	open := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/workflows/"+runID+"/stream", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Cache-Control", "no-store")
		c.authorize(req)

		r, err := c.http.Do(req)
		if err != nil {
			if IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if r.StatusCode != http.StatusOK {
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("%w (%s)", ErrStreamUnavailable, r.Status))
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return err
	}
	defer resp.Body.Close()

	return readEvents(resp.Body, fn)
}

// readEvents decodes newline-delimited events. Blank and undecodable lines
// are skipped.
func readEvents(r io.Reader, fn func(progress.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event progress.Event
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Log.WithError(err).Debug("Skipping undecodable progress line")
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
		if event.Status.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read progress stream: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// IsRetriable determines if the error is worth retrying.
func IsRetriable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
