// Package webhook forwards converted bundles to a downstream FHIR endpoint
// as signed HTTP POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Delivery headers.
const (
	HeaderSignature     = "X-Signature"
	HeaderDeliveryID    = "X-Delivery-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// ErrQueueFull is returned by Enqueue when the forwarder is saturated.
var ErrQueueFull = errors.New("webhook: delivery queue is full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("webhook: forwarder stopped")

// Delivery is the outcome of sending one bundle, across all its attempts.
type Delivery struct {
	ID            string
	CorrelationID string
	Attempts      int
	StatusCode    int
	Success       bool
	Error         string
	Duration      time.Duration
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithRetryDelays sets the waits between attempts; the number of delays is
// the number of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(f *Forwarder) { f.retryDelays = delays }
}

// WithQueueSize sets how many bundles may wait for a worker.
func WithQueueSize(n int) Option {
	return func(f *Forwarder) { f.queueSize = n }
}

type job struct {
	correlationID string
	bundle        map[string]interface{}
}

// Forwarder posts bundles to a single endpoint. Send is synchronous; Enqueue
// hands the bundle to the background workers started by Start.
type Forwarder struct {
	url         string
	secret      string
	client      *http.Client
	retryDelays []time.Duration
	queueSize   int
	logger      zerolog.Logger

	mu      sync.Mutex
	queue   chan job
	stopped bool
	wg      sync.WaitGroup
}

// NewForwarder creates a forwarder for target, which must be an absolute
// http or https URL. An empty secret sends unsigned requests.
func NewForwarder(target, secret string, logger zerolog.Logger, opts ...Option) (*Forwarder, error) {
	if err := validateURL(target); err != nil {
		return nil, err
	}
	f := &Forwarder{
		url:         target,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 10 * time.Second, time.Minute},
		queueSize:   256,
		logger:      logger,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook: invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook: url %q must be an absolute http or https url", raw)
	}
	return nil
}

// Start launches workers that drain the queue.
func (f *Forwarder) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queue != nil {
		return
	}
	f.queue = make(chan job, f.queueSize)
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for j := range f.queue {
				d := f.Send(context.Background(), j.correlationID, j.bundle)
				ev := f.logger.Info()
				if !d.Success {
					ev = f.logger.Error().Str("error", d.Error)
				}
				ev.Str("delivery_id", d.ID).
					Str("correlation_id", d.CorrelationID).
					Int("attempts", d.Attempts).
					Int("status", d.StatusCode).
					Dur("duration", d.Duration).
					Msg("bundle forwarded")
			}
		}()
	}
}

// Enqueue queues bundle for delivery without blocking.
func (f *Forwarder) Enqueue(correlationID string, bundle map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.queue == nil {
		return ErrStopped
	}
	select {
	case f.queue <- job{correlationID: correlationID, bundle: bundle}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting bundles and waits for queued ones to be delivered or
// for ctx to end.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.stopped && f.queue != nil {
		close(f.queue)
	}
	f.stopped = true
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts bundle, retrying network failures, 429 and 5xx answers.
func (f *Forwarder) Send(ctx context.Context, correlationID string, bundle map[string]interface{}) *Delivery {
	start := time.Now()
	d := &Delivery{ID: uuid.NewString(), CorrelationID: correlationID}
	defer func() { d.Duration = time.Since(start) }()

	payload, err := json.Marshal(bundle)
	if err != nil {
		d.Error = fmt.Sprintf("encode bundle: %v", err)
		return d
	}

	for attempt := 0; ; attempt++ {
		d.Attempts = attempt + 1
		retry := f.attempt(ctx, d, payload)
		if d.Success || !retry || attempt >= len(f.retryDelays) {
			return d
		}
		select {
		case <-time.After(f.retryDelays[attempt]):
		case <-ctx.Done():
			d.Error = ctx.Err().Error()
			return d
		}
	}
}

// attempt performs one POST and reports whether a failure is retryable.
func (f *Forwarder) attempt(ctx context.Context, d *Delivery, payload []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		return false
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set(HeaderDeliveryID, d.ID)
	if d.CorrelationID != "" {
		req.Header.Set(HeaderCorrelationID, d.CorrelationID)
	}
	if f.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+SignPayload(payload, f.secret))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		d.StatusCode = 0
		d.Error = err.Error()
		return ctx.Err() == nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	d.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Success = true
		d.Error = ""
		return false
	}
	d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}
