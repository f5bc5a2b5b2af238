// Package queue implements the durable at-least-once message channel on top
// of Redis Streams with consumer groups.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imagemill/imagemill/internal/core"
)

const bodyField = "body"

// StreamOptions configure a Stream queue adapter.
type StreamOptions struct {
	Client redis.UniversalClient
	// Stream is the Redis stream key.
	Stream string
	// Group is the consumer group name. All consumers of a queue share one
	// group so each entry is delivered to exactly one live consumer.
	Group string
	// Consumer is this process's consumer name within the group.
	Consumer string
	// Block bounds each blocking read; defaults to 5s.
	Block time.Duration
	// RedeliverAfter is the idle time after which an unacknowledged entry is
	// claimed from another consumer; defaults to 30s.
	RedeliverAfter time.Duration
	Logger         *slog.Logger
}

func (o *StreamOptions) sanitize() error {
	if o.Client == nil {
		return errors.New("redis client is required")
	}
	if strings.TrimSpace(o.Stream) == "" {
		return errors.New("stream name is required")
	}
	if strings.TrimSpace(o.Group) == "" {
		return errors.New("group name is required")
	}
	if strings.TrimSpace(o.Consumer) == "" {
		return errors.New("consumer name is required")
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.RedeliverAfter <= 0 {
		o.RedeliverAfter = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Stream is a Redis Streams queue. Enqueue appends with XADD; consumers read
// through a consumer group so delivery is at-least-once: entries stay in the
// pending list until XACKed, and idle pending entries are reclaimed with
// XAUTOCLAIM after RedeliverAfter.
type Stream struct {
	client         redis.UniversalClient
	stream         string
	group          string
	consumer       string
	block          time.Duration
	redeliverAfter time.Duration
	logger         *slog.Logger
}

// NewStream constructs a Stream queue adapter.
func NewStream(opts StreamOptions) (*Stream, error) {
	if err := opts.sanitize(); err != nil {
		return nil, err
	}
	return &Stream{
		client:         opts.Client,
		stream:         opts.Stream,
		group:          opts.Group,
		consumer:       opts.Consumer,
		block:          opts.Block,
		redeliverAfter: opts.RedeliverAfter,
		logger:         opts.Logger,
	}, nil
}

// Enqueue appends a message and returns once Redis acknowledges the write.
func (s *Stream) Enqueue(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return errors.New("message body is required")
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Ack marks a delivery as consumed.
func (s *Stream) Ack(ctx context.Context, deliveryID string) error {
	if err := s.client.XAck(ctx, s.stream, s.group, deliveryID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", s.stream, deliveryID, err)
	}
	return nil
}

// Consume delivers messages to the handler until the context is cancelled.
// Each iteration first reclaims idle pending entries (redelivery after a
// consumer crash) and then blocks for new entries. Handler errors are logged
// and the entry is left pending for redelivery.
func (s *Stream) Consume(ctx context.Context, handler func(ctx context.Context, d core.Delivery) error) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		claimed, err := s.claimIdle(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, claimed, handler)

		fresh, err := s.readNew(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, fresh, handler)
	}
	return ctx.Err()
}

// ensureGroup creates the consumer group if it does not exist yet.
func (s *Stream) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", s.group, s.stream, err)
	}
	return nil
}

func (s *Stream) claimIdle(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.redeliverAfter,
		Start:    "0-0",
		Count:    16,
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("xautoclaim %s: %w", s.stream, err)
	}
	return msgs, nil
}

func (s *Stream) readNew(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    16,
		Block:    s.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // block timeout, no new entries
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", s.stream, err)
	}
	var out []redis.XMessage
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

func (s *Stream) dispatch(ctx context.Context, msgs []redis.XMessage, handler func(ctx context.Context, d core.Delivery) error) {
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		body, ok := extractBody(msg)
		if !ok {
			// Malformed entry: ack to keep it from poisoning the pending list.
			s.logger.WarnContext(ctx, "dropping stream entry without body", "stream", s.stream, "entry_id", msg.ID)
			if err := s.Ack(ctx, msg.ID); err != nil {
				s.logger.ErrorContext(ctx, "ack malformed entry failed", "stream", s.stream, "entry_id", msg.ID, "error", err)
			}
			continue
		}

		attempt := s.deliveryAttempt(ctx, msg.ID)
		if err := handler(ctx, core.Delivery{ID: msg.ID, Body: body, Attempt: attempt}); err != nil {
			s.logger.ErrorContext(ctx, "message handler failed, leaving pending for redelivery",
				"stream", s.stream, "entry_id", msg.ID, "attempt", attempt, "error", err)
		}
	}
}

// deliveryAttempt reads the delivery count from the pending entry list.
// Falls back to 1 when the lookup fails; the count is advisory.
func (s *Stream) deliveryAttempt(ctx context.Context, entryID string) int {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	if pending[0].RetryCount < 1 {
		return 1
	}
	return int(pending[0].RetryCount)
}

func extractBody(msg redis.XMessage) ([]byte, bool) {
	raw, ok := msg.Values[bodyField]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ core.Queue = (*Stream)(nil)
