package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/libs/httpx"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/condoapi"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/portal"
)

type Service interface {
	Location() *time.Location
	Viewer(ctx context.Context, sess auth.Session) (auth.Viewer, error)
	Areas(ctx context.Context, sess auth.Session) ([]condoapi.Area, error)
	Grid(ctx context.Context, sess auth.Session, q portal.GridQuery) (portal.GridView, error)
	Month(ctx context.Context, sess auth.Session, areaID int64, month string) ([]availability.DaySummary, error)
	Rules(ctx context.Context, sess auth.Session, areaID int64) ([]condoapi.Rule, error)
	CreateRule(ctx context.Context, sess auth.Session, req portal.RuleRequest) (condoapi.Rule, error)
	UpdateRule(ctx context.Context, sess auth.Session, req portal.RuleUpdate) (condoapi.Rule, error)
	DeleteRule(ctx context.Context, sess auth.Session, areaID, ruleID int64) error
	Reserve(ctx context.Context, sess auth.Session, req portal.ReserveRequest) (condoapi.Reservation, error)
	Cancel(ctx context.Context, sess auth.Session, reservationID int64) (condoapi.Reservation, error)
}

type PortalHandler struct {
	svc    Service
	logger *slog.Logger
	now    func() time.Time
}

func NewPortalHandler(svc Service, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{svc: svc, logger: logger, now: time.Now}
}

func (h *PortalHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/me", requireSession(h.Me))
	mux.Handle("GET /api/v1/areas", requireSession(h.Areas))
	mux.Handle("GET /api/v1/areas/{id}/grid", requireSession(h.Grid))
	mux.Handle("GET /api/v1/areas/{id}/month", requireSession(h.Month))
	mux.Handle("GET /api/v1/areas/{id}/rules", requireSession(h.Rules))
	mux.Handle("POST /api/v1/areas/{id}/rules", requireSession(h.CreateRule))
	mux.Handle("PATCH /api/v1/areas/{id}/rules/{rid}", requireSession(h.UpdateRule))
	mux.Handle("DELETE /api/v1/areas/{id}/rules/{rid}", requireSession(h.DeleteRule))
	mux.Handle("POST /api/v1/reservations", requireSession(h.Reserve))
	mux.Handle("POST /api/v1/reservations/{id}/cancel", requireSession(h.Cancel))
}

// requireSession rejects requests without a usable Authorization header and passes
// the session on through the request context.
func requireSession(next func(http.ResponseWriter, *http.Request, auth.Session)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := auth.ParseAuthorization(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Token realm="portal"`)
			httpx.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r.WithContext(auth.WithSession(r.Context(), sess)), sess)
	})
}

func (h *PortalHandler) Me(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	v, err := h.svc.Viewer(r.Context(), sess)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *PortalHandler) Areas(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areas, err := h.svc.Areas(r.Context(), sess)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if areas == nil {
		areas = []condoapi.Area{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": areas})
}

func (h *PortalHandler) Grid(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areaID, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	step := int(availability.DefaultStep / time.Minute)
	if raw := strings.TrimSpace(q.Get("step")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "step must be a whole number of minutes")
			return
		}
		step = n
	}
	date := strings.TrimSpace(q.Get("date"))
	if date == "" {
		date = h.now().In(h.svc.Location()).Format("2006-01-02")
	}

	view, err := h.svc.Grid(r.Context(), sess, portal.GridQuery{
		AreaID:      areaID,
		Date:        date,
		StepMinutes: step,
		From:        strings.TrimSpace(q.Get("from")),
		To:          strings.TrimSpace(q.Get("to")),
		View:        strings.TrimSpace(q.Get("view")),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *PortalHandler) Month(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areaID, ok := pathID(w, r)
	if !ok {
		return
	}
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if month == "" {
		month = h.now().In(h.svc.Location()).Format("2006-01")
	}
	days, err := h.svc.Month(r.Context(), sess, areaID, month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"month": month, "days": days})
}

func (h *PortalHandler) Rules(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areaID, ok := pathID(w, r)
	if !ok {
		return
	}
	rules, err := h.svc.Rules(r.Context(), sess, areaID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []condoapi.Rule{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": rules})
}

func (h *PortalHandler) CreateRule(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areaID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req portal.RuleRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	req.AreaID = areaID

	rule, err := h.svc.CreateRule(r.Context(), sess, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rule)
}

func (h *PortalHandler) UpdateRule(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areaID, ok := pathID(w, r)
	if !ok {
		return
	}
	ruleID, ok := pathInt(w, r, "rid")
	if !ok {
		return
	}
	var req portal.RuleUpdate
	if !decodeStrict(w, r, &req) {
		return
	}
	req.AreaID, req.RuleID = areaID, ruleID

	rule, err := h.svc.UpdateRule(r.Context(), sess, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rule)
}

func (h *PortalHandler) DeleteRule(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	areaID, ok := pathID(w, r)
	if !ok {
		return
	}
	ruleID, ok := pathInt(w, r, "rid")
	if !ok {
		return
	}
	if err := h.svc.DeleteRule(r.Context(), sess, areaID, ruleID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PortalHandler) Reserve(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var req portal.ReserveRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(condoapi.IdempotencyKeyHeader))
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	}

	res, err := h.svc.Reserve(r.Context(), sess, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *PortalHandler) Cancel(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Cancel(r.Context(), sess, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return pathInt(w, r, "id")
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeStrict rejects unknown fields so typos in client payloads surface as 400s.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// writeServiceError maps portal and backend errors onto HTTP statuses. Backend bodies
// are never relayed; only the backend's detail message is.
func (h *PortalHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *portal.ValidationError
	var apiErr *condoapi.APIError
	switch {
	case errors.As(err, &verr):
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "fields": verr.Fields})
	case errors.Is(err, portal.ErrSuperseded):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portal.ErrForbidden), errors.Is(err, condoapi.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, condoapi.ErrUnauthorized):
		httpx.WriteError(w, http.StatusUnauthorized, "session expired or invalid")
	case errors.Is(err, condoapi.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, condoapi.ErrRejected):
		msg := "rejected by backend"
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			msg = apiErr.Detail
		}
		httpx.WriteError(w, http.StatusUnprocessableEntity, msg)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, http.StatusGatewayTimeout, "backend timed out")
	default:
		h.logger.Error("backend request failed",
			"err", err,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
		)
		httpx.WriteError(w, http.StatusBadGateway, "backend unavailable")
	}
}
