// Package cache keeps a short-lived Redis copy of each day's appointments.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/models"
)

// generationTTL bounds how long an idle day's generation counter lives.
const generationTTL = 24 * time.Hour

var errStale = errors.New("day changed since it was read")

// DayCache is safe to use with a nil client or zero TTL; every call is then
// a no-op miss.
//
// Each day has a generation counter next to its entry. Invalidate bumps it,
// and SetDay only writes when the counter still holds the value GetDay saw
// before the caller went to the store, so a slow reader cannot put back a
// day that a writer has changed in the meantime.
type DayCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewDayCache(rdb *redis.Client, ttl time.Duration, logger *zerolog.Logger) *DayCache {
	l := logger.With().Str("component", "day_cache").Logger()
	return &DayCache{redis: rdb, ttl: ttl, logger: &l}
}

func dayKey(workspaceID, date string) string {
	return fmt.Sprintf("day:%s:%s", workspaceID, date)
}

func genKey(workspaceID, date string) string {
	return fmt.Sprintf("daygen:%s:%s", workspaceID, date)
}

func (c *DayCache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

// GetDay returns the cached appointments of one day. On a miss gen is the
// generation to hand back to SetDay.
func (c *DayCache) GetDay(ctx context.Context, workspaceID, date string) (appts []models.Appointment, gen int64, ok bool) {
	if !c.enabled() {
		return nil, 0, false
	}
	vals, err := c.redis.MGet(ctx, dayKey(workspaceID, date), genKey(workspaceID, date)).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("workspace", workspaceID).Str("date", date).Msg("cache read failed")
		return nil, -1, false
	}

	if raw, isStr := vals[1].(string); isStr {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, -1, false
		}
	}
	raw, isStr := vals[0].(string)
	if !isStr {
		return nil, gen, false
	}
	if err := json.Unmarshal([]byte(raw), &appts); err != nil {
		return nil, gen, false
	}
	return appts, gen, true
}

// SetDay stores the appointments of one day if its generation is still gen.
func (c *DayCache) SetDay(ctx context.Context, workspaceID, date string, gen int64, appts []models.Appointment) {
	if !c.enabled() || gen < 0 {
		return
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	data, err := json.Marshal(appts)
	if err != nil {
		return
	}

	gk := genKey(workspaceID, date)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dayKey(workspaceID, date), data, c.ttl)
			return nil
		})
		return err
	}, gk)

	switch {
	case err == nil:
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug().Str("workspace", workspaceID).Str("date", date).Msg("skipped caching a day changed during read")
	default:
		c.logger.Warn().Err(err).Str("workspace", workspaceID).Str("date", date).Msg("cache write failed")
	}
}

// Invalidate drops the cached days and bumps their generations. Empty
// dates are skipped.
func (c *DayCache) Invalidate(ctx context.Context, workspaceID string, dates ...string) {
	if !c.enabled() {
		return
	}
	days := make([]string, 0, len(dates))
	for _, d := range dates {
		if d != "" {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return
	}
	ttl := generationTTL
	if c.ttl > ttl {
		ttl = c.ttl
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range days {
			gk := genKey(workspaceID, d)
			pipe.Incr(ctx, gk)
			pipe.Expire(ctx, gk, ttl)
			pipe.Del(ctx, dayKey(workspaceID, d))
		}
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("workspace", workspaceID).Strs("dates", dates).Msg("cache invalidate failed")
	}
}
