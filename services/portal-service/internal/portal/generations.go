package portal

import (
	"sync"

	"github.com/smartcondo/condo-portal/services/portal-service/internal/cache"
)

// generations counts cache invalidations per area and per day. A fetch records the
// generation it started under and only caches its payload if nothing moved since.
type generations struct {
	mu    sync.Mutex
	areas map[int64]uint64
	days  map[cache.DayKey]uint64
}

func newGenerations() *generations {
	return &generations{areas: map[int64]uint64{}, days: map[cache.DayKey]uint64{}}
}

// current changes whenever the day or its whole area is invalidated.
func (g *generations) current(k cache.DayKey) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.areas[k.AreaID] + g.days[k]
}

func (g *generations) bumpDays(keys ...cache.DayKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		g.days[k]++
	}
}

func (g *generations) bumpArea(areaID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.areas[areaID]++
}
