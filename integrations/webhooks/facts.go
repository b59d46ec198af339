package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"stakepool/core/events"
)

const (
	// HeaderEvent carries the fact type of the delivery.
	HeaderEvent = "X-Stakepool-Event"
	// HeaderSignature carries the hex HMAC-SHA256 of the body.
	HeaderSignature = "X-Stakepool-Signature"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

// ErrClosed is returned when enqueueing into a stopped dispatcher.
var ErrClosed = errors.New("webhook: dispatcher closed")

// FactPayload is the body posted for every delivered fact.
type FactPayload struct {
	DeliveryID string      `json:"deliveryId"`
	Fact       events.Fact `json:"fact"`
	SentAt     time.Time   `json:"sentAt"`
}

// Dispatcher delivers facts to a single endpoint with retry and exponential
// backoff. Deliveries are processed in order by one worker.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	types       map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	factType string
	body     []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger routes delivery failures to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTypes restricts deliveries to the listed fact types. An empty list
// delivers everything.
func WithTypes(types ...string) Option {
	return func(d *Dispatcher) {
		for _, t := range types {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if d.types == nil {
				d.types = make(map[string]struct{})
			}
			d.types[t] = struct{}{}
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops the dispatcher and waits for the inflight delivery to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Wants reports whether facts of the given type are delivered.
func (d *Dispatcher) Wants(factType string) bool {
	if len(d.types) == 0 {
		return true
	}
	_, ok := d.types[factType]
	return ok
}

// Enqueue schedules fact for delivery. Facts filtered out by WithTypes are
// silently accepted.
func (d *Dispatcher) Enqueue(ctx context.Context, fact events.Fact) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if !d.Wants(fact.Type) {
		return nil
	}
	payload := FactPayload{
		DeliveryID: fmt.Sprintf("fact-%d-%s", fact.Sequence, shortHash(fact.Hash)),
		Fact:       fact,
		SentAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{factType: fact.Type, body: data}:
		return nil
	case <-d.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Relay forwards every fact from source to the dispatcher until ctx is done.
// Facts lost to a slow subscription are logged, not retried.
func (d *Dispatcher) Relay(ctx context.Context, source *events.Log) error {
	updates, _, _, cancel := source.Subscribe(ctx, source.Latest())
	defer cancel()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case fact, ok := <-updates:
			if !ok {
				return nil
			}
			if last != 0 && fact.Sequence > last+1 {
				d.logger.Warn("webhook relay skipped facts",
					slog.Uint64("from", last+1),
					slog.Uint64("to", fact.Sequence-1))
			}
			last = fact.Sequence
			if err := d.Enqueue(ctx, fact); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery abandoned",
				slog.String("type", job.factType),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.factType)
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
