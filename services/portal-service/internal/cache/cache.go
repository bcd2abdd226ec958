package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
)

// DayKey addresses one area's availability for one calendar day.
type DayKey struct {
	AreaID int64
	Date   string // YYYY-MM-DD
}

// Redis caches backend availability payloads and viewer profiles. Availability for a
// day lives in one hash, one field per query shape, so a reservation change clears
// every cached variant of the day with a single DEL.
type Redis struct {
	rdb             redis.UniversalClient
	prefix          string
	availabilityTTL time.Duration
	viewerTTL       time.Duration
}

type Options struct {
	Prefix          string
	AvailabilityTTL time.Duration
	ViewerTTL       time.Duration
}

func NewRedis(rdb redis.UniversalClient, opts Options) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "portal"
	}
	if opts.AvailabilityTTL <= 0 {
		opts.AvailabilityTTL = 30 * time.Second
	}
	if opts.ViewerTTL <= 0 {
		opts.ViewerTTL = time.Minute
	}
	return &Redis{
		rdb:             rdb,
		prefix:          opts.Prefix,
		availabilityTTL: opts.AvailabilityTTL,
		viewerTTL:       opts.ViewerTTL,
	}
}

func (c *Redis) dayKey(k DayKey) string {
	return c.prefix + ":avail:" + strconv.FormatInt(k.AreaID, 10) + ":" + k.Date
}

func (c *Redis) viewerKey(sess auth.Session) string {
	return c.prefix + ":viewer:" + sess.Fingerprint()
}

// Availability returns the cached payload for the day and query shape, if any.
func (c *Redis) Availability(ctx context.Context, k DayKey, shape string) (availability.Payload, bool, error) {
	raw, err := c.rdb.HGet(ctx, c.dayKey(k), shape).Bytes()
	if errors.Is(err, redis.Nil) {
		return availability.Payload{}, false, nil
	}
	if err != nil {
		return availability.Payload{}, false, err
	}
	var p availability.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return availability.Payload{}, false, fmt.Errorf("decode cached availability: %w", err)
	}
	return p, true, nil
}

func (c *Redis) StoreAvailability(ctx context.Context, k DayKey, shape string, p availability.Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := c.dayKey(k)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, shape, raw)
		pipe.Expire(ctx, key, c.availabilityTTL)
		return nil
	})
	return err
}

// InvalidateDays drops every cached query shape for the given days.
func (c *Redis) InvalidateDays(ctx context.Context, keys ...DayKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, c.dayKey(k))
	}
	return c.rdb.Del(ctx, names...).Err()
}

// InvalidateArea drops every cached day of the area.
func (c *Redis) InvalidateArea(ctx context.Context, areaID int64) error {
	match := c.prefix + ":avail:" + strconv.FormatInt(areaID, 10) + ":*"
	var batch []string
	iter := c.rdb.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, batch...).Err()
}

func (c *Redis) Viewer(ctx context.Context, sess auth.Session) (auth.Viewer, bool, error) {
	raw, err := c.rdb.Get(ctx, c.viewerKey(sess)).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.Viewer{}, false, nil
	}
	if err != nil {
		return auth.Viewer{}, false, err
	}
	var v auth.Viewer
	if err := json.Unmarshal(raw, &v); err != nil {
		return auth.Viewer{}, false, fmt.Errorf("decode cached viewer: %w", err)
	}
	return v, true, nil
}

func (c *Redis) StoreViewer(ctx context.Context, sess auth.Session, v auth.Viewer) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.viewerKey(sess), raw, c.viewerTTL).Err()
}

// ReadyCheck pings Redis for /readyz.
func (c *Redis) ReadyCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Noop is used when no Redis is configured; every lookup misses.
type Noop struct{}

func (Noop) Availability(context.Context, DayKey, string) (availability.Payload, bool, error) {
	return availability.Payload{}, false, nil
}

func (Noop) StoreAvailability(context.Context, DayKey, string, availability.Payload) error {
	return nil
}

func (Noop) InvalidateDays(context.Context, ...DayKey) error { return nil }

func (Noop) InvalidateArea(context.Context, int64) error { return nil }

func (Noop) Viewer(context.Context, auth.Session) (auth.Viewer, bool, error) {
	return auth.Viewer{}, false, nil
}

func (Noop) StoreViewer(context.Context, auth.Session, auth.Viewer) error { return nil }
