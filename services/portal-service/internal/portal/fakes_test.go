package portal

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/cache"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/condoapi"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/storage"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBackend struct {
	// tokens, when set, lists the only sessions the backend accepts.
	tokens       map[string]bool
	viewer       auth.Viewer
	meCalls      atomic.Int32
	availCalls   atomic.Int32
	availability func(ctx context.Context, areaID int64, q condoapi.AvailabilityQuery) (availability.Payload, error)
	reservations func(ctx context.Context) ([]availability.ReservationRecord, error)
	rules        []condoapi.Rule
	created      []condoapi.NewReservation
	createErr    error
	cancelled    condoapi.Reservation

	mu          sync.Mutex
	ruleCalls   []string
	updatedRule condoapi.Rule
}

func (f *fakeBackend) authorized(sess auth.Session) error {
	if f.tokens != nil && !f.tokens[sess.Token] {
		return &condoapi.APIError{Status: 401, Detail: "invalid token"}
	}
	return nil
}

func (f *fakeBackend) Me(_ context.Context, sess auth.Session) (auth.Viewer, error) {
	f.meCalls.Add(1)
	if err := f.authorized(sess); err != nil {
		return auth.Viewer{}, err
	}
	return f.viewer, nil
}

func (f *fakeBackend) Areas(context.Context, auth.Session) ([]condoapi.Area, error) {
	return []condoapi.Area{{ID: 1, Nombre: "Piscina"}}, nil
}

// Availability checks the session after the fetch, like a backend that authenticates lazily.
func (f *fakeBackend) Availability(ctx context.Context, sess auth.Session, areaID int64, q condoapi.AvailabilityQuery) (availability.Payload, error) {
	f.availCalls.Add(1)
	p, err := f.availability(ctx, areaID, q)
	if err != nil {
		return availability.Payload{}, err
	}
	if err := f.authorized(sess); err != nil {
		return availability.Payload{}, err
	}
	return p, nil
}

func (f *fakeBackend) Rules(context.Context, auth.Session, int64) ([]condoapi.Rule, error) {
	return f.rules, nil
}

func (f *fakeBackend) CreateRule(_ context.Context, _ auth.Session, in condoapi.RuleInput) (condoapi.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ruleCalls = append(f.ruleCalls, "create")
	return condoapi.Rule{ID: 9, Area: in.Area, DiaSemana: in.DiaSemana, HoraInicio: in.HoraInicio, HoraFin: in.HoraFin}, nil
}

func (f *fakeBackend) UpdateRule(_ context.Context, _ auth.Session, ruleID int64, _ condoapi.RulePatch) (condoapi.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ruleCalls = append(f.ruleCalls, "update")
	rule := f.updatedRule
	rule.ID = ruleID
	return rule, nil
}

func (f *fakeBackend) DeleteRule(context.Context, auth.Session, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ruleCalls = append(f.ruleCalls, "delete")
	return nil
}

func (f *fakeBackend) Reservations(ctx context.Context, sess auth.Session, _ int64, _, _ string) ([]availability.ReservationRecord, error) {
	if err := f.authorized(sess); err != nil {
		return nil, err
	}
	if f.reservations == nil {
		return nil, nil
	}
	return f.reservations(ctx)
}

func (f *fakeBackend) CreateReservation(_ context.Context, _ auth.Session, in condoapi.NewReservation, _ string) (condoapi.Reservation, error) {
	if f.createErr != nil {
		return condoapi.Reservation{}, f.createErr
	}
	f.created = append(f.created, in)
	return condoapi.Reservation{ID: 42, Estado: "PENDIENTE"}, nil
}

func (f *fakeBackend) CancelReservation(context.Context, auth.Session, int64) (condoapi.Reservation, error) {
	return f.cancelled, nil
}

type memCache struct {
	mu               sync.Mutex
	avail            map[string]availability.Payload
	viewers          map[string]auth.Viewer
	invalidated      []cache.DayKey
	invalidatedAreas []int64
	// onStore runs before a payload is stored, outside the lock.
	onStore          func()
}

func newMemCache() *memCache {
	return &memCache{avail: map[string]availability.Payload{}, viewers: map[string]auth.Viewer{}}
}

func (m *memCache) key(k cache.DayKey, shape string) string {
	return strconv.FormatInt(k.AreaID, 10) + "|" + k.Date + "|" + shape
}

func (m *memCache) Availability(_ context.Context, k cache.DayKey, shape string) (availability.Payload, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.avail[m.key(k, shape)]
	return p, ok, nil
}

func (m *memCache) StoreAvailability(_ context.Context, k cache.DayKey, shape string, p availability.Payload) error {
	if m.onStore != nil {
		m.onStore()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avail[m.key(k, shape)] = p
	return nil
}

func (m *memCache) InvalidateDays(_ context.Context, keys ...cache.DayKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, keys...)
	for _, k := range keys {
		prefix := strconv.FormatInt(k.AreaID, 10) + "|" + k.Date + "|"
		for name := range m.avail {
			if strings.HasPrefix(name, prefix) {
				delete(m.avail, name)
			}
		}
	}
	return nil
}

func (m *memCache) InvalidateArea(_ context.Context, areaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidatedAreas = append(m.invalidatedAreas, areaID)
	prefix := strconv.FormatInt(areaID, 10) + "|"
	for name := range m.avail {
		if strings.HasPrefix(name, prefix) {
			delete(m.avail, name)
		}
	}
	return nil
}

func (m *memCache) cached(k cache.DayKey, shape string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.avail[m.key(k, shape)]
	return ok
}

func (m *memCache) Viewer(_ context.Context, sess auth.Session) (auth.Viewer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.viewers[sess.Fingerprint()]
	return v, ok, nil
}

func (m *memCache) StoreViewer(_ context.Context, sess auth.Session, v auth.Viewer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewers[sess.Fingerprint()] = v
	return nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}
