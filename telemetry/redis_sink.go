package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes emitted records to a remote log aggregator backed by a
// Redis stream, satisfying spec.md's "remote_log_enabled" / "remote_log_group"
// environment options (§6). Each record is appended via XADD so a separate
// aggregation process can consume the stream with XREAD/XREADGROUP.
type RedisSink struct {
	client *redis.Client
	stream string
}

// Record is the wire shape of one log emission sent to the remote sink.
type Record struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewRedisSink constructs a RedisSink publishing to the given stream name
// (remote_log_group) on client.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

// Publish appends rec to the configured stream. Publish errors are
// intentionally swallowed beyond the returned error: a remote sink outage
// must never block or fail the operation being logged.
func (s *RedisSink) Publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"record": payload},
	}).Err()
}

// SinkLogger wraps a Logger, additionally publishing every record to a
// RedisSink on a best-effort basis.
type SinkLogger struct {
	next Logger
	sink *RedisSink
}

// NewSinkLogger wraps next so its emissions are mirrored to sink.
func NewSinkLogger(next Logger, sink *RedisSink) Logger {
	return &SinkLogger{next: next, sink: sink}
}

func (l *SinkLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.next.Debug(ctx, msg, keyvals...)
	l.publish(ctx, "debug", msg, "", keyvals)
}

func (l *SinkLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.next.Info(ctx, msg, keyvals...)
	l.publish(ctx, "info", msg, "", keyvals)
}

func (l *SinkLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.next.Warn(ctx, msg, keyvals...)
	l.publish(ctx, "warn", msg, "", keyvals)
}

func (l *SinkLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.next.Error(ctx, msg, keyvals...)
	errKind := ""
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok && k == "error_kind" {
			if v, ok := keyvals[i+1].(string); ok {
				errKind = v
			}
		}
	}
	l.publish(ctx, "error", msg, errKind, keyvals)
}

func (l *SinkLogger) publish(ctx context.Context, level, msg, errKind string, keyvals []any) {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok {
			fields[k] = keyvals[i+1]
		}
	}
	// Best-effort: a sink outage must not propagate into caller-visible errors.
	_ = l.sink.Publish(ctx, Record{
		Timestamp: time.Now(),
		Level:     level,
		Event:     msg,
		ErrorKind: errKind,
		Fields:    fields,
	})
}
