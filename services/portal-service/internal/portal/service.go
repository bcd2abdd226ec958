package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/libs/httpx"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/cache"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/condoapi"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/outbox"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var ErrForbidden = errors.New("forbidden")

// MonthSlotMinutes is the slot size used when probing each day of a month.
const MonthSlotMinutes = 60

type Backend interface {
	Me(ctx context.Context, sess auth.Session) (auth.Viewer, error)
	Areas(ctx context.Context, sess auth.Session) ([]condoapi.Area, error)
	Availability(ctx context.Context, sess auth.Session, areaID int64, q condoapi.AvailabilityQuery) (availability.Payload, error)
	Rules(ctx context.Context, sess auth.Session, areaID int64) ([]condoapi.Rule, error)
	CreateRule(ctx context.Context, sess auth.Session, in condoapi.RuleInput) (condoapi.Rule, error)
	UpdateRule(ctx context.Context, sess auth.Session, ruleID int64, patch condoapi.RulePatch) (condoapi.Rule, error)
	DeleteRule(ctx context.Context, sess auth.Session, ruleID int64) error
	Reservations(ctx context.Context, sess auth.Session, areaID int64, dateFrom, dateTo string) ([]availability.ReservationRecord, error)
	CreateReservation(ctx context.Context, sess auth.Session, in condoapi.NewReservation, idempotencyKey string) (condoapi.Reservation, error)
	CancelReservation(ctx context.Context, sess auth.Session, reservationID int64) (condoapi.Reservation, error)
}

type Cache interface {
	Availability(ctx context.Context, k cache.DayKey, shape string) (availability.Payload, bool, error)
	StoreAvailability(ctx context.Context, k cache.DayKey, shape string, p availability.Payload) error
	InvalidateDays(ctx context.Context, keys ...cache.DayKey) error
	InvalidateArea(ctx context.Context, areaID int64) error
	Viewer(ctx context.Context, sess auth.Session) (auth.Viewer, bool, error)
	StoreViewer(ctx context.Context, sess auth.Session, v auth.Viewer) error
}

type Auditor interface {
	Record(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	// Location interprets backend clock times and naive datetimes.
	Location         *time.Location
	MonthConcurrency int
}

type Service struct {
	backend Backend
	cache   Cache
	audit   Auditor
	logger  *slog.Logger
	tracer  trace.Tracer
	tracker *Tracker
	fetches singleflight.Group
	gens    *generations

	loc              *time.Location
	monthConcurrency int
}

func NewService(backend Backend, c Cache, audit Auditor, logger *slog.Logger, cfg Config) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if audit == nil {
		audit = LogAuditor{Logger: logger}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MonthConcurrency <= 0 {
		cfg.MonthConcurrency = 4
	}
	return &Service{
		backend:          backend,
		cache:            c,
		audit:            audit,
		logger:           logger,
		tracer:           otel.Tracer("portal"),
		tracker:          NewTracker(),
		gens:             newGenerations(),
		loc:              cfg.Location,
		monthConcurrency: cfg.MonthConcurrency,
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// GridQuery asks for one area's day rendered as fixed-width cells. View names the
// screen issuing it; a newer query for the same session and view supersedes an older one.
type GridQuery struct {
	AreaID      int64  `json:"area_id" validate:"gt=0"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StepMinutes int    `json:"step" validate:"min=1,max=240"`
	From        string `json:"from"`
	To          string `json:"to"`
	View        string `json:"view" validate:"max=64"`
}

type GridView struct {
	AreaID      int64                      `json:"area_id"`
	Date        string                     `json:"date"`
	StepMinutes int                        `json:"step_minutes"`
	Windows     []availability.RawInterval `json:"windows"`
	Cells       []availability.Cell        `json:"cells"`
	Counts      map[availability.Label]int `json:"counts"`
}

func (s *Service) Grid(ctx context.Context, sess auth.Session, q GridQuery) (GridView, error) {
	if err := validateStruct(q); err != nil {
		return GridView{}, err
	}
	if q.View != "" {
		var done func()
		ctx, done = s.tracker.Begin(ctx, sess.Fingerprint()+":"+q.View)
		defer done()
	}

	ctx, span := s.tracer.Start(ctx, "portal.Grid", trace.WithAttributes(
		attribute.Int64("area.id", q.AreaID),
		attribute.String("grid.date", q.Date),
		attribute.Int("grid.step_minutes", q.StepMinutes),
	))
	defer span.End()

	day, err := availability.ParseDate(q.Date, s.loc)
	if err != nil {
		return GridView{}, invalidField("date", "must be a YYYY-MM-DD date")
	}

	var (
		payload availability.Payload
		records []availability.ReservationRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payload, err = s.availability(gctx, sess, q.AreaID, condoapi.AvailabilityQuery{
			Date:        q.Date,
			SlotMinutes: q.StepMinutes,
			From:        q.From,
			To:          q.To,
		})
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.backend.Reservations(gctx, sess, q.AreaID, q.Date, q.Date)
		return err
	})
	if err := g.Wait(); err != nil {
		return GridView{}, s.fail(ctx, span, err)
	}

	in := availability.GridInput{
		Day:          day,
		Location:     s.loc,
		Step:         time.Duration(q.StepMinutes) * time.Minute,
		Windows:      availability.ParseWindows(payload.Windows),
		FreeSlots:    availability.ParseIntervals(payload.Slots, s.loc),
		Reservations: availability.ReservationIntervals(records, s.loc),
	}
	if q.From != "" {
		// Both bounds parse; the struct validation guarantees it.
		in.Bounds.Start, _ = availability.ParseClock(q.From)
		in.Bounds.End, _ = availability.ParseClock(q.To)
	}
	cells := availability.Build(in)

	if superseded(ctx) {
		return GridView{}, s.fail(ctx, span, ErrSuperseded)
	}

	counts := make(map[availability.Label]int, 4)
	for _, c := range cells {
		counts[c.Label]++
	}
	span.SetAttributes(attribute.Int("grid.cells", len(cells)))
	return GridView{
		AreaID:      q.AreaID,
		Date:        q.Date,
		StepMinutes: q.StepMinutes,
		Windows:     payload.Windows,
		Cells:       cells,
		Counts:      counts,
	}, nil
}

// Month summarizes every day of month ("YYYY-MM") as free, full or no-rules.
func (s *Service) Month(ctx context.Context, sess auth.Session, areaID int64, month string) ([]availability.DaySummary, error) {
	if areaID <= 0 {
		return nil, invalidField("area_id", "must be positive")
	}
	first, err := time.ParseInLocation("2006-01", month, s.loc)
	if err != nil {
		return nil, invalidField("month", "must be a YYYY-MM month")
	}

	ctx, span := s.tracer.Start(ctx, "portal.Month", trace.WithAttributes(
		attribute.Int64("area.id", areaID),
		attribute.String("month", month),
	))
	defer span.End()

	// Cached days are shared between sessions, so the caller is checked up front.
	if _, err := s.Viewer(ctx, sess); err != nil {
		return nil, s.fail(ctx, span, err)
	}

	days := availability.MonthDays(first)
	out := make([]availability.DaySummary, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.monthConcurrency)
	for i, d := range days {
		date := d.Format("2006-01-02")
		g.Go(func() error {
			p, err := s.availability(gctx, sess, areaID, condoapi.AvailabilityQuery{Date: date, SlotMinutes: MonthSlotMinutes})
			if err != nil {
				return fmt.Errorf("availability %s: %w", date, err)
			}
			out[i] = availability.DaySummary{Date: date, Status: availability.SummarizeDay(p, s.loc)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, span, err)
	}
	return out, nil
}

func shapeKey(q condoapi.AvailabilityQuery) string {
	return "s" + strconv.Itoa(q.SlotMinutes) + "|" + q.From + "|" + q.To
}

// availability reads through the cache. Concurrent identical fetches of one session
// share a backend call, which runs detached from any single caller's cancellation.
// A fetch that an invalidation overtook never leaves its payload in the cache.
func (s *Service) availability(ctx context.Context, sess auth.Session, areaID int64, q condoapi.AvailabilityQuery) (availability.Payload, error) {
	key := cache.DayKey{AreaID: areaID, Date: q.Date}
	shape := shapeKey(q)

	if p, ok, err := s.cache.Availability(ctx, key, shape); err != nil {
		s.logger.Warn("availability cache read failed", "err", err, "area_id", areaID, "date", q.Date)
	} else if ok {
		return p, nil
	}

	gen := s.gens.current(key)
	flightKey := fmt.Sprintf("%d:%s:%s:%d:%s", areaID, q.Date, shape, gen, sess.Fingerprint())
	ch := s.fetches.DoChan(flightKey, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		p, err := s.backend.Availability(fetchCtx, sess, areaID, q)
		if err != nil {
			return nil, err
		}
		s.storeAvailability(fetchCtx, key, shape, gen, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return availability.Payload{}, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return availability.Payload{}, res.Err
		}
		return res.Val.(availability.Payload), nil
	}
}

func (s *Service) storeAvailability(ctx context.Context, key cache.DayKey, shape string, gen uint64, p availability.Payload) {
	if s.gens.current(key) != gen {
		return
	}
	if err := s.cache.StoreAvailability(ctx, key, shape, p); err != nil {
		s.logger.Warn("availability cache write failed", "err", err, "area_id", key.AreaID, "date", key.Date)
		return
	}
	// An invalidation that landed between the check and the write may have run its
	// delete first; drop the entry again.
	if s.gens.current(key) != gen {
		if err := s.cache.InvalidateDays(ctx, key); err != nil {
			s.logger.Warn("availability cache invalidation failed", "err", err, "area_id", key.AreaID)
		}
	}
}

// Viewer returns the caller's profile, briefly cached per session.
func (s *Service) Viewer(ctx context.Context, sess auth.Session) (auth.Viewer, error) {
	if v, ok, err := s.cache.Viewer(ctx, sess); err != nil {
		s.logger.Warn("viewer cache read failed", "err", err)
	} else if ok {
		return v, nil
	}
	v, err := s.backend.Me(ctx, sess)
	if err != nil {
		return auth.Viewer{}, err
	}
	if err := s.cache.StoreViewer(ctx, sess, v); err != nil {
		s.logger.Warn("viewer cache write failed", "err", err)
	}
	return v, nil
}

// KnownSession reports whether the viewer cache holds the session. Only sessions the
// backend accepted are ever cached.
func (s *Service) KnownSession(ctx context.Context, sess auth.Session) bool {
	_, ok, err := s.cache.Viewer(ctx, sess)
	return err == nil && ok
}

func (s *Service) Areas(ctx context.Context, sess auth.Session) ([]condoapi.Area, error) {
	return s.backend.Areas(ctx, sess)
}

// Rules lists an area's weekly opening windows. Admins and staff only.
func (s *Service) Rules(ctx context.Context, sess auth.Session, areaID int64) ([]condoapi.Rule, error) {
	if areaID <= 0 {
		return nil, invalidField("area_id", "must be positive")
	}
	if err := s.requireRole(ctx, sess, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return nil, err
	}
	return s.backend.Rules(ctx, sess, areaID)
}

// RuleRequest adds a weekly opening window to an area. DiaSemana is 0 for Monday
// through 6 for Sunday.
type RuleRequest struct {
	AreaID             int64  `json:"-" validate:"gt=0"`
	DiaSemana          *int   `json:"dia_semana" validate:"required,min=0,max=6"`
	HoraInicio         string `json:"hora_inicio" validate:"notblank,clock"`
	HoraFin            string `json:"hora_fin" validate:"notblank,clock"`
	MaxHorasPorReserva int    `json:"max_horas_por_reserva" validate:"min=0,max=24"`
}

// RuleUpdate changes the fields that are set and leaves the rest.
type RuleUpdate struct {
	AreaID             int64   `json:"-" validate:"gt=0"`
	RuleID             int64   `json:"-" validate:"gt=0"`
	DiaSemana          *int    `json:"dia_semana,omitempty" validate:"omitempty,min=0,max=6"`
	HoraInicio         *string `json:"hora_inicio,omitempty" validate:"omitempty,notblank,clock"`
	HoraFin            *string `json:"hora_fin,omitempty" validate:"omitempty,notblank,clock"`
	MaxHorasPorReserva *int    `json:"max_horas_por_reserva,omitempty" validate:"omitempty,min=0,max=24"`
}

func (u RuleUpdate) empty() bool {
	return u.DiaSemana == nil && u.HoraInicio == nil && u.HoraFin == nil && u.MaxHorasPorReserva == nil
}

// CreateRule, UpdateRule and DeleteRule are admin and staff only. Rules feed the
// windows of every day of the area, so each change drops the area's cached availability.
func (s *Service) CreateRule(ctx context.Context, sess auth.Session, req RuleRequest) (condoapi.Rule, error) {
	if err := validateStruct(req); err != nil {
		return condoapi.Rule{}, err
	}
	if err := s.requireRole(ctx, sess, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return condoapi.Rule{}, err
	}
	ctx, span := s.tracer.Start(ctx, "portal.CreateRule", trace.WithAttributes(attribute.Int64("area.id", req.AreaID)))
	defer span.End()

	rule, err := s.backend.CreateRule(ctx, sess, condoapi.RuleInput{
		Area:               req.AreaID,
		DiaSemana:          *req.DiaSemana,
		HoraInicio:         req.HoraInicio,
		HoraFin:            req.HoraFin,
		MaxHorasPorReserva: req.MaxHorasPorReserva,
	})
	if err != nil {
		return condoapi.Rule{}, s.fail(ctx, span, err)
	}
	s.invalidateArea(ctx, req.AreaID)
	return rule, nil
}

func (s *Service) UpdateRule(ctx context.Context, sess auth.Session, req RuleUpdate) (condoapi.Rule, error) {
	if err := validateStruct(req); err != nil {
		return condoapi.Rule{}, err
	}
	if req.empty() {
		return condoapi.Rule{}, invalidField("body", "at least one field must be set")
	}
	if err := s.requireRole(ctx, sess, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return condoapi.Rule{}, err
	}
	ctx, span := s.tracer.Start(ctx, "portal.UpdateRule", trace.WithAttributes(
		attribute.Int64("area.id", req.AreaID),
		attribute.Int64("rule.id", req.RuleID),
	))
	defer span.End()

	rule, err := s.backend.UpdateRule(ctx, sess, req.RuleID, condoapi.RulePatch{
		DiaSemana:          req.DiaSemana,
		HoraInicio:         req.HoraInicio,
		HoraFin:            req.HoraFin,
		MaxHorasPorReserva: req.MaxHorasPorReserva,
	})
	if err != nil {
		return condoapi.Rule{}, s.fail(ctx, span, err)
	}
	s.invalidateArea(ctx, req.AreaID)
	if rule.Area > 0 && rule.Area != req.AreaID {
		s.invalidateArea(ctx, rule.Area)
	}
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, sess auth.Session, areaID, ruleID int64) error {
	if areaID <= 0 {
		return invalidField("area_id", "must be positive")
	}
	if ruleID <= 0 {
		return invalidField("rule_id", "must be positive")
	}
	if err := s.requireRole(ctx, sess, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "portal.DeleteRule", trace.WithAttributes(
		attribute.Int64("area.id", areaID),
		attribute.Int64("rule.id", ruleID),
	))
	defer span.End()

	if err := s.backend.DeleteRule(ctx, sess, ruleID); err != nil {
		return s.fail(ctx, span, err)
	}
	s.invalidateArea(ctx, areaID)
	return nil
}

func (s *Service) requireRole(ctx context.Context, sess auth.Session, roles ...auth.Role) error {
	v, err := s.Viewer(ctx, sess)
	if err != nil {
		return err
	}
	if !v.Can(roles...) {
		return ErrForbidden
	}
	return nil
}

type ReserveRequest struct {
	AreaID         int64     `json:"area_id" validate:"gt=0"`
	UnitID         *int64    `json:"unit_id,omitempty" validate:"omitempty,gt=0"`
	Start          time.Time `json:"start" validate:"required"`
	End            time.Time `json:"end" validate:"required,gtfield=Start"`
	Note           string    `json:"note,omitempty" validate:"max=500"`
	IdempotencyKey string    `json:"-"`
}

// Reserve books a selected cell range. The backend decides conflicts; the portal
// forwards, drops cached availability for the touched days and records an audit entry.
func (s *Service) Reserve(ctx context.Context, sess auth.Session, req ReserveRequest) (condoapi.Reservation, error) {
	if err := validateStruct(req); err != nil {
		return condoapi.Reservation{}, err
	}
	ctx, span := s.tracer.Start(ctx, "portal.Reserve", trace.WithAttributes(attribute.Int64("area.id", req.AreaID)))
	defer span.End()

	res, err := s.backend.CreateReservation(ctx, sess, condoapi.NewReservation{
		Area:        req.AreaID,
		Unidad:      req.UnitID,
		FechaInicio: req.Start,
		FechaFin:    req.End,
		Nota:        req.Note,
	}, req.IdempotencyKey)
	if err != nil {
		return condoapi.Reservation{}, s.fail(ctx, span, err)
	}
	if res.Area == 0 {
		res.Area = req.AreaID
	}
	span.SetAttributes(attribute.Int64("reservation.id", res.ID))

	s.invalidate(ctx, req.AreaID, req.Start, req.End)
	s.record(ctx, sess, storage.ActionReservationCreated, res, req.Start, req.End)
	return res, nil
}

func (s *Service) Cancel(ctx context.Context, sess auth.Session, reservationID int64) (condoapi.Reservation, error) {
	if reservationID <= 0 {
		return condoapi.Reservation{}, invalidField("id", "must be positive")
	}
	ctx, span := s.tracer.Start(ctx, "portal.Cancel", trace.WithAttributes(attribute.Int64("reservation.id", reservationID)))
	defer span.End()

	res, err := s.backend.CancelReservation(ctx, sess, reservationID)
	if err != nil {
		return condoapi.Reservation{}, s.fail(ctx, span, err)
	}
	if res.ID == 0 {
		res.ID = reservationID
	}

	start, errStart := availability.ParseInstant(res.FechaInicio, s.loc)
	end, errEnd := availability.ParseInstant(res.FechaFin, s.loc)
	if res.Area > 0 && errStart == nil && errEnd == nil {
		s.invalidate(ctx, res.Area, start, end)
	}
	s.record(ctx, sess, storage.ActionReservationCancelled, res, start, end)
	return res, nil
}

// invalidate drops cached availability for every local day the range touches.
func (s *Service) invalidate(ctx context.Context, areaID int64, start, end time.Time) {
	if !end.After(start) {
		return
	}
	var keys []cache.DayKey
	first := start.In(s.loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, s.loc)
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		keys = append(keys, cache.DayKey{AreaID: areaID, Date: day.Format("2006-01-02")})
	}
	s.gens.bumpDays(keys...)
	if err := s.cache.InvalidateDays(ctx, keys...); err != nil {
		s.logger.Warn("availability cache invalidation failed", "err", err, "area_id", areaID)
	}
}

func (s *Service) invalidateArea(ctx context.Context, areaID int64) {
	s.gens.bumpArea(areaID)
	if err := s.cache.InvalidateArea(ctx, areaID); err != nil {
		s.logger.Warn("availability cache invalidation failed", "err", err, "area_id", areaID)
	}
}

// record never fails the request: the reservation already exists in the backend.
func (s *Service) record(ctx context.Context, sess auth.Session, action storage.Action, res condoapi.Reservation, start, end time.Time) {
	actor := sess.Fingerprint()
	if v, err := s.Viewer(ctx, sess); err == nil && v.Username != "" {
		actor = v.Username
	}
	evt := outbox.ReservationEvent{
		ReservationID: res.ID,
		AreaID:        res.Area,
		Estado:        res.Estado,
		Actor:         actor,
		RequestID:     httpx.RequestIDFromContext(ctx),
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if !start.IsZero() {
		evt.Start = start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		evt.End = end.UTC().Format(time.RFC3339)
	}
	err := s.audit.Record(ctx, storage.AuditEntry{
		Action:        action,
		ReservationID: res.ID,
		AreaID:        res.Area,
		Actor:         actor,
		SessionFP:     sess.Fingerprint(),
		RequestID:     evt.RequestID,
		Event:         evt,
	})
	if err != nil {
		s.logger.Error("audit record failed", "err", err, "action", action, "reservation_id", res.ID)
	}
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) error {
	if superseded(ctx) {
		err = ErrSuperseded
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// LogAuditor writes audit entries to the log when no database is configured.
type LogAuditor struct {
	Logger *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, e storage.AuditEntry) error {
	a.Logger.InfoContext(ctx, "reservation audit",
		"action", e.Action,
		"reservation_id", e.ReservationID,
		"area_id", e.AreaID,
		"actor", e.Actor,
		"request_id", e.RequestID,
	)
	return nil
}
