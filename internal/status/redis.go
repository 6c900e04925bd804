package status

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each job record in a hash at {prefix}{id}.
type Redis struct {
	rc     redis.UniversalClient
	prefix string
}

var _ Writer = (*Redis)(nil)

// NewRedis writes hashes under prefix, e.g. "video:".
func NewRedis(rc redis.UniversalClient, prefix string) *Redis {
	return &Redis{rc: rc, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

// Key returns the hash key for a job id.
func (r *Redis) Key(id string) string { return r.prefix + id }

func (r *Redis) Write(ctx context.Context, u Update) error {
	fields := []any{
		"status", string(u.Status),
		"updated_at", u.At.Format(time.RFC3339Nano),
	}
	if u.SummaryKey != "" {
		fields = append(fields, "summary_file_id", u.SummaryKey)
	}
	return r.rc.HSet(ctx, r.Key(u.ID), fields...).Err()
}
