package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stakepool/core/events"
	"stakepool/observability"
)

const (
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Sink receives facts in sequence order. Append must be idempotent per
// sequence because failed writes are retried.
type Sink interface {
	LatestSequence(ctx context.Context) (uint64, string, error)
	Append(ctx context.Context, facts ...events.Fact) error
}

// Source is the live fact log.
type Source interface {
	Subscribe(ctx context.Context, cursor uint64) (<-chan events.Fact, []events.Fact, bool, func())
	Since(cursor uint64) ([]events.Fact, bool)
}

// Indexer copies facts from the live log into the archive. Archive failures
// are retried with backoff until ctx ends, so an unavailable database delays
// archiving without stopping the service. Facts a slow subscription dropped
// are backfilled from the log window; facts the window no longer retains are
// reported as gaps and skipped.
type Indexer struct {
	source Source
	sink   Sink
	logger *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	next     uint64
	gaps     uint64
	failures uint64
}

// Option customises the indexer.
type Option func(*Indexer)

// WithBackoff bounds the delay between retries of a failed archive call.
func WithBackoff(initial, max time.Duration) Option {
	return func(i *Indexer) {
		if initial > 0 {
			i.initialBackoff = initial
		}
		if max > 0 {
			i.maxBackoff = max
		}
	}
}

// New constructs an indexer.
func New(source Source, sink Sink, logger *slog.Logger, opts ...Option) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Indexer{
		source:         source,
		sink:           sink,
		logger:         logger.With("component", "indexer"),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.maxBackoff < i.initialBackoff {
		i.maxBackoff = i.initialBackoff
	}
	return i
}

// Gaps reports how many discontinuities the indexer has observed.
func (i *Indexer) Gaps() uint64 { return i.gaps }

// Failures reports how many archive calls failed and were retried.
func (i *Indexer) Failures() uint64 { return i.failures }

// Run archives facts until ctx is cancelled. It only returns early when
// misconfigured.
func (i *Indexer) Run(ctx context.Context) error {
	if i.source == nil || i.sink == nil {
		return fmt.Errorf("indexer: source and sink required")
	}
	var latest uint64
	err := i.retry(ctx, "latest sequence", func() error {
		var err error
		latest, _, err = i.sink.LatestSequence(ctx)
		return err
	})
	if err != nil {
		return err
	}
	i.next = latest + 1

	updates, backlog, truncated, cancel := i.source.Subscribe(ctx, latest)
	defer cancel()
	if truncated {
		i.logger.Warn("fact window no longer covers archive tip", "sequence", latest)
	}
	if err := i.archive(ctx, backlog); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fact, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			pending := []events.Fact{fact}
			if fact.Sequence > i.next {
				if missed, _ := i.source.Since(i.next - 1); len(missed) > 0 {
					pending = missed
				}
			}
			if err := i.archive(ctx, pending); err != nil {
				return err
			}
		}
	}
}

func (i *Indexer) archive(ctx context.Context, facts []events.Fact) error {
	batch := make([]events.Fact, 0, len(facts))
	for _, fact := range facts {
		if fact.Sequence < i.next {
			continue
		}
		if fact.Sequence > i.next {
			i.gaps++
			observability.Facts().RecordGap()
			i.logger.Warn("fact sequence gap", "expected", i.next, "sequence", fact.Sequence)
		}
		batch = append(batch, fact)
		i.next = fact.Sequence + 1
	}
	if len(batch) == 0 {
		return nil
	}
	if err := i.retry(ctx, "append", func() error { return i.sink.Append(ctx, batch...) }); err != nil {
		return err
	}
	metrics := observability.Facts()
	for _, fact := range batch {
		metrics.RecordArchived(fact.Type, fact.Sequence)
	}
	return nil
}

// retry runs fn until it succeeds or ctx ends, doubling the delay between
// attempts up to maxBackoff.
func (i *Indexer) retry(ctx context.Context, op string, fn func() error) error {
	backoff := i.initialBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				i.logger.Info("archive available again", "op", op, "attempts", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.failures++
		observability.Facts().RecordArchiveFailure()
		i.logger.Warn("archive call failed; retrying", "op", op, "attempt", attempt, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, i.maxBackoff)
	}
}
