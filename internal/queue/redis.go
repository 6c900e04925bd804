package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Stream entry fields.
const (
	fieldPayload = "payload"
	fieldAttempt = "attempt"
	fieldReason  = "reason"
	fieldOrigin  = "origin"
)

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	Stream           string
	Group            string
	Consumer         string
	DeadLetterStream string
	// WaitTime is the XREADGROUP block duration. Must be positive: a zero
	// block means "forever" to Redis.
	WaitTime time.Duration
	// ClaimIdle is how long a delivered entry may stay unacknowledged
	// before another consumer reclaims it. It plays the role of a
	// visibility timeout.
	ClaimIdle time.Duration
}

// RedisQueue implements Queue and Producer on a Redis Stream with a
// consumer group. Delayed releases are parked in a sorted set keyed by
// due time and promoted back onto the stream by Receive.
type RedisQueue struct {
	rc      redis.UniversalClient
	opts    RedisOptions
	delayed string
}

var (
	_ Queue    = (*RedisQueue)(nil)
	_ Producer = (*RedisQueue)(nil)
)

// delayedEntry is the sorted-set member for a released message.
type delayedEntry struct {
	Payload string `json:"payload"`
	Attempt int    `json:"attempt"`
	Origin  string `json:"origin"`
}

// NewRedisQueue creates the consumer group if needed and returns the queue.
func NewRedisQueue(ctx context.Context, rc redis.UniversalClient, opts RedisOptions) (*RedisQueue, error) {
	if opts.WaitTime <= 0 {
		return nil, fmt.Errorf("redis queue: wait time must be positive")
	}
	q := &RedisQueue{rc: rc, opts: opts, delayed: opts.Stream + ":delayed"}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	// MKSTREAM lets the group exist before the first job is enqueued.
	err := q.rc.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("XGROUP CREATE %s %s: %w", q.opts.Stream, q.opts.Group, err)
	}
	return nil
}

// Receive returns one entry: first any due delayed release, then any entry
// abandoned by a consumer for longer than ClaimIdle, then a new entry.
func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	if err := q.promoteDue(ctx); err != nil {
		log.Warn().Err(err).Str("stream", q.opts.Stream).Msg("Failed to promote delayed entries")
	}

	if q.opts.ClaimIdle > 0 {
		msg, err := q.claimIdle(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}

	streams, err := q.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    1,
		Block:    q.opts.WaitTime,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("XREADGROUP %s: %w", q.opts.Stream, err)
	}
	for _, s := range streams {
		for _, m := range s.Messages {
			return q.toMessage(m, 1), nil
		}
	}
	return nil, nil
}

// claimIdle takes ownership of one entry that another consumer received
// but never acknowledged.
func (q *RedisQueue) claimIdle(ctx context.Context) (*Message, error) {
	msgs, _, err := q.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("XAUTOCLAIM %s: %w", q.opts.Stream, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	m := msgs[0]

	// The pending entry list counts every hand-out, including this claim.
	deliveries := 2
	pending, err := q.rc.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  m.ID,
		End:    m.ID,
		Count:  1,
	}).Result()
	if err == nil && len(pending) == 1 && pending[0].RetryCount > 0 {
		deliveries = int(pending[0].RetryCount)
	}
	return q.toMessage(m, deliveries), nil
}

func (q *RedisQueue) toMessage(m redis.XMessage, deliveries int) *Message {
	payload, _ := m.Values[fieldPayload].(string)
	prior := toInt(m.Values[fieldAttempt])
	return &Message{
		ID:         originOf(m),
		Body:       []byte(payload),
		Handle:     m.ID,
		Deliveries: prior + deliveries,
	}
}

// originOf keeps a message's identity stable across re-adds.
func originOf(m redis.XMessage) string {
	if o, ok := m.Values[fieldOrigin].(string); ok && o != "" {
		return o
	}
	return m.ID
}

// Ack acknowledges and deletes the entry.
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	_, err := q.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, q.opts.Stream, q.opts.Group, msg.Handle)
		p.XDel(ctx, q.opts.Stream, msg.Handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("XACK %s %s: %w", q.opts.Stream, msg.Handle, err)
	}
	return nil
}

// Release re-enqueues the message after delay, carrying its delivery count.
func (q *RedisQueue) Release(ctx context.Context, msg *Message, delay time.Duration) error {
	if delay <= 0 {
		_, err := q.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.XAdd(ctx, &redis.XAddArgs{Stream: q.opts.Stream, Values: q.values(msg)})
			p.XAck(ctx, q.opts.Stream, q.opts.Group, msg.Handle)
			p.XDel(ctx, q.opts.Stream, msg.Handle)
			return nil
		})
		if err != nil {
			return fmt.Errorf("requeue %s: %w", msg.ID, err)
		}
		return nil
	}

	member, err := json.Marshal(delayedEntry{Payload: string(msg.Body), Attempt: msg.Deliveries, Origin: msg.ID})
	if err != nil {
		return fmt.Errorf("encode delayed entry: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	_, err = q.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, q.delayed, redis.Z{Score: due, Member: string(member)})
		p.XAck(ctx, q.opts.Stream, q.opts.Group, msg.Handle)
		p.XDel(ctx, q.opts.Stream, msg.Handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delay %s: %w", msg.ID, err)
	}
	return nil
}

// promoteScript moves one delayed member onto the stream. XADD runs before
// ZREM: Redis does not roll back a failed script, so an XADD error leaves
// the member parked for the next attempt. Returns 0 when another consumer
// already promoted it.
//
// KEYS: delayed set, stream. ARGV: member, payload, attempt, origin.
var promoteScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('XADD', KEYS[2], '*', 'payload', ARGV[2], 'attempt', ARGV[3], 'origin', ARGV[4])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

// promoteDue moves delayed entries whose due time has passed back onto the stream.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rc.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{Min: "-inf", Max: now, Count: 10}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		var e delayedEntry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			log.Error().Err(err).Str("member", member).Msg("Dropping undecodable delayed entry")
			q.rc.ZRem(ctx, q.delayed, member)
			continue
		}
		err := promoteScript.Run(ctx, q.rc, []string{q.delayed, q.opts.Stream},
			member, e.Payload, e.Attempt, e.Origin).Err()
		if err != nil {
			return fmt.Errorf("promote %s: %w", e.Origin, err)
		}
	}
	return nil
}

// DeadLetter moves the entry to the dead-letter stream, when one is
// configured, and acknowledges it.
func (q *RedisQueue) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	if q.opts.DeadLetterStream == "" {
		log.Warn().Str("messageId", msg.ID).Str("reason", reason).Msg("No dead-letter stream configured, dropping message")
		return q.Ack(ctx, msg)
	}
	values := q.values(msg)
	values[fieldReason] = reason
	_, err := q.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{Stream: q.opts.DeadLetterStream, Values: values})
		p.XAck(ctx, q.opts.Stream, q.opts.Group, msg.Handle)
		p.XDel(ctx, q.opts.Stream, msg.Handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", msg.ID, err)
	}
	return nil
}

// Send enqueues a new job body.
func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	id, err := q.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]any{fieldPayload: string(body), fieldAttempt: 0},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("XADD %s: %w", q.opts.Stream, err)
	}
	return id, nil
}

func (q *RedisQueue) values(msg *Message) map[string]any {
	return map[string]any{
		fieldPayload: string(msg.Body),
		fieldAttempt: msg.Deliveries,
		fieldOrigin:  msg.ID,
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}
