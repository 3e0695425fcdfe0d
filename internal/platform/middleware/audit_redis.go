package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultAccessStream is the redis stream access entries are appended to.
const DefaultAccessStream = "phi_access"

// RedisAccessRecorder appends access entries to a capped redis stream.
type RedisAccessRecorder struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewRedisAccessRecorder(client *redis.Client, stream string, maxLen int64) *RedisAccessRecorder {
	if stream == "" {
		stream = DefaultAccessStream
	}
	return &RedisAccessRecorder{client: client, stream: stream, maxLen: maxLen, timeout: time.Second}
}

// RecordAccess runs after the response is written, so it uses its own
// deadline rather than the request context.
func (r *RedisAccessRecorder) RecordAccess(entry AccessEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"account_id":    strconv.FormatInt(entry.AccountID, 10),
			"patient_id":    entry.PatientID,
			"resource_type": entry.ResourceType,
			"action":        entry.Action,
			"method":        entry.Method,
			"path":          entry.Path,
			"remote_ip":     entry.IPAddress,
			"request_id":    entry.RequestID,
			"status":        strconv.Itoa(entry.StatusCode),
			"at":            entry.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
}
