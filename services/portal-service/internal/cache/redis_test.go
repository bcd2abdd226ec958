package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
)

func newMiniRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, Options{Prefix: "t", AvailabilityTTL: 30 * time.Second}), mr
}

func TestRedisAvailabilityRoundTrip(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()
	day := DayKey{AreaID: 3, Date: "2025-10-06"}
	p := availability.Payload{
		Date:    "2025-10-06",
		Windows: []availability.RawInterval{{Start: "08:00", End: "12:00"}},
	}

	if err := c.StoreAvailability(ctx, day, "s30||", p); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := c.StoreAvailability(ctx, day, "s60||", p); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := c.Availability(ctx, day, "s30||")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Date != p.Date || len(got.Windows) != 1 || got.Windows[0].End != "12:00" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if ttl := mr.TTL("t:avail:3:2025-10-06"); ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("expected ttl set on the day hash, got %s", ttl)
	}

	if err := c.InvalidateDays(ctx, day); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, shape := range []string{"s30||", "s60||"} {
		if _, ok, err := c.Availability(ctx, day, shape); ok || err != nil {
			t.Fatalf("expected miss for %s after invalidation, got ok=%v err=%v", shape, ok, err)
		}
	}
}

func TestRedisAvailabilityExpires(t *testing.T) {
	c, mr := newMiniRedis(t)
	ctx := context.Background()
	day := DayKey{AreaID: 3, Date: "2025-10-06"}
	if err := c.StoreAvailability(ctx, day, "s30||", availability.Payload{Date: day.Date}); err != nil {
		t.Fatalf("store: %v", err)
	}
	mr.FastForward(31 * time.Second)
	if _, ok, _ := c.Availability(ctx, day, "s30||"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisInvalidateAreaLeavesOtherAreas(t *testing.T) {
	c, _ := newMiniRedis(t)
	ctx := context.Background()
	for _, k := range []DayKey{
		{AreaID: 3, Date: "2025-10-06"},
		{AreaID: 3, Date: "2025-10-07"},
		{AreaID: 31, Date: "2025-10-06"},
	} {
		if err := c.StoreAvailability(ctx, k, "s60||", availability.Payload{Date: k.Date}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	if err := c.InvalidateArea(ctx, 3); err != nil {
		t.Fatalf("invalidate area: %v", err)
	}
	for _, date := range []string{"2025-10-06", "2025-10-07"} {
		if _, ok, _ := c.Availability(ctx, DayKey{AreaID: 3, Date: date}, "s60||"); ok {
			t.Fatalf("expected area 3 %s to be dropped", date)
		}
	}
	if _, ok, _ := c.Availability(ctx, DayKey{AreaID: 31, Date: "2025-10-06"}, "s60||"); !ok {
		t.Fatal("expected area 31 to stay cached")
	}
	if err := c.InvalidateArea(ctx, 99); err != nil {
		t.Fatalf("invalidate empty area: %v", err)
	}
}

func TestRedisViewerRoundTrip(t *testing.T) {
	c, _ := newMiniRedis(t)
	ctx := context.Background()
	sess := auth.Session{Token: "tok"}
	if _, ok, _ := c.Viewer(ctx, sess); ok {
		t.Fatal("expected miss before store")
	}
	if err := c.StoreViewer(ctx, sess, auth.Viewer{ID: 1, Username: "ana", Role: auth.RoleStaff}); err != nil {
		t.Fatalf("store viewer: %v", err)
	}
	v, ok, err := c.Viewer(ctx, sess)
	if err != nil || !ok || v.Username != "ana" || v.Role != auth.RoleStaff {
		t.Fatalf("unexpected viewer %+v ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := c.Viewer(ctx, auth.Session{Token: "other"}); ok {
		t.Fatal("expected other session to miss")
	}
}
