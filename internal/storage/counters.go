package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echotrack/attribution/internal/models"
)

// DayCount is one day of call activity for a workspace.
type DayCount struct {
	Date        string  `json:"date"`
	Calls       int64   `json:"calls"`
	Conversions int64   `json:"conversions"`
	Value       float64 `json:"value"`
}

// CallCounters maintains per-workspace daily call counters in Redis. Keys are
// "stats:<kind>:<workspace>:<date>" and expire after the configured TTL, so
// the time-series trims itself.
type CallCounters struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCallCounters creates a counter set backed by the given Redis client.
func NewCallCounters(client *redis.Client, ttl time.Duration) *CallCounters {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &CallCounters{client: client, ttl: ttl}
}

func counterKey(kind, workspaceID string, day time.Time) string {
	return fmt.Sprintf("stats:%s:%s:%s", kind, workspaceID, day.UTC().Format("2006-01-02"))
}

// RecordCall bumps the day's counters for a resolved call. Attributable
// completed calls also bump the conversion counter and value sum.
func (c *CallCounters) RecordCall(ctx context.Context, conv *models.Conversion) error {
	callsKey := counterKey("calls", conv.WorkspaceID, conv.CompletedAt)

	pipe := c.client.Pipeline()
	pipe.Incr(ctx, callsKey)
	pipe.Expire(ctx, callsKey, c.ttl)

	if conv.Attributable() {
		convKey := counterKey("conversions", conv.WorkspaceID, conv.CompletedAt)
		valueKey := counterKey("value", conv.WorkspaceID, conv.CompletedAt)
		pipe.Incr(ctx, convKey)
		pipe.Expire(ctx, convKey, c.ttl)
		pipe.IncrByFloat(ctx, valueKey, conv.Value)
		pipe.Expire(ctx, valueKey, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record call counters: %w", err)
	}
	return nil
}

// DayCounts returns one entry per day of the window, zero-filled for days
// with no activity.
func (c *CallCounters) DayCounts(ctx context.Context, workspaceID string, window models.Window) ([]DayCount, error) {
	days := window.Days()
	out := make([]DayCount, 0, len(days))

	pipe := c.client.Pipeline()
	type dayCmds struct {
		calls       *redis.StringCmd
		conversions *redis.StringCmd
		value       *redis.StringCmd
	}
	cmds := make([]dayCmds, len(days))
	for i, day := range days {
		cmds[i] = dayCmds{
			calls:       pipe.Get(ctx, fmt.Sprintf("stats:calls:%s:%s", workspaceID, day)),
			conversions: pipe.Get(ctx, fmt.Sprintf("stats:conversions:%s:%s", workspaceID, day)),
			value:       pipe.Get(ctx, fmt.Sprintf("stats:value:%s:%s", workspaceID, day)),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read call counters: %w", err)
	}

	for i, day := range days {
		dc := DayCount{Date: day}
		if v, err := cmds[i].calls.Int64(); err == nil {
			dc.Calls = v
		}
		if v, err := cmds[i].conversions.Int64(); err == nil {
			dc.Conversions = v
		}
		if v, err := cmds[i].value.Float64(); err == nil {
			dc.Value = v
		}
		out = append(out, dc)
	}
	return out, nil
}
