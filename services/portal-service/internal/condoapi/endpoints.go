package condoapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
)

type Area struct {
	ID                 int64       `json:"id"`
	Nombre             string      `json:"nombre"`
	Descripcion        string      `json:"descripcion,omitempty"`
	Ubicacion          string      `json:"ubicacion,omitempty"`
	Capacidad          int         `json:"capacidad"`
	CostoPorHora       json.Number `json:"costo_por_hora,omitempty"`
	Activa             bool        `json:"activa"`
	RequiereAprobacion bool        `json:"requiere_aprobacion"`
}

// Rule is a weekly opening window; DiaSemana is 0 for Monday through 6 for Sunday.
type Rule struct {
	ID                 int64  `json:"id"`
	Area               int64  `json:"area"`
	DiaSemana          int    `json:"dia_semana"`
	HoraInicio         string `json:"hora_inicio"`
	HoraFin            string `json:"hora_fin"`
	MaxHorasPorReserva int    `json:"max_horas_por_reserva"`
}

type RuleInput struct {
	Area               int64  `json:"area"`
	DiaSemana          int    `json:"dia_semana"`
	HoraInicio         string `json:"hora_inicio"`
	HoraFin            string `json:"hora_fin"`
	MaxHorasPorReserva int    `json:"max_horas_por_reserva,omitempty"`
}

// RulePatch carries only the fields being changed.
type RulePatch struct {
	DiaSemana          *int    `json:"dia_semana,omitempty"`
	HoraInicio         *string `json:"hora_inicio,omitempty"`
	HoraFin            *string `json:"hora_fin,omitempty"`
	MaxHorasPorReserva *int    `json:"max_horas_por_reserva,omitempty"`
}

type AvailabilityQuery struct {
	Date        string // YYYY-MM-DD
	SlotMinutes int
	From        string // HH:MM, optional
	To          string // HH:MM, optional
}

type NewReservation struct {
	Area        int64     `json:"area"`
	Unidad      *int64    `json:"unidad,omitempty"`
	FechaInicio time.Time `json:"fecha_inicio"`
	FechaFin    time.Time `json:"fecha_fin"`
	Nota        string    `json:"nota,omitempty"`
}

type Reservation struct {
	ID          int64       `json:"id"`
	Area        int64       `json:"area"`
	Unidad      *int64      `json:"unidad,omitempty"`
	FechaInicio string      `json:"fecha_inicio"`
	FechaFin    string      `json:"fecha_fin"`
	Estado      string      `json:"estado"`
	MontoTotal  json.Number `json:"monto_total,omitempty"`
	Nota        string      `json:"nota,omitempty"`
}

func (c *Client) Me(ctx context.Context, sess auth.Session) (auth.Viewer, error) {
	var v auth.Viewer
	err := c.get(ctx, sess, "auth/me/", nil, &v)
	return v, err
}

func (c *Client) Areas(ctx context.Context, sess auth.Session) ([]Area, error) {
	var raw json.RawMessage
	if err := c.get(ctx, sess, "areas-comunes/", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Area](raw)
}

// Availability fetches the windows and free slots for one area and day. Missing
// fields in the response fall back to the query values.
func (c *Client) Availability(ctx context.Context, sess auth.Session, areaID int64, q AvailabilityQuery) (availability.Payload, error) {
	params := url.Values{}
	params.Set("date", q.Date)
	if q.SlotMinutes > 0 {
		params.Set("slot", strconv.Itoa(q.SlotMinutes))
	}
	if q.From != "" {
		params.Set("from", q.From)
	}
	if q.To != "" {
		params.Set("to", q.To)
	}

	var p availability.Payload
	if err := c.get(ctx, sess, "areas-comunes/"+strconv.FormatInt(areaID, 10)+"/disponibilidad/", params, &p); err != nil {
		return availability.Payload{}, err
	}
	if p.AreaID == "" {
		p.AreaID = json.Number(strconv.FormatInt(areaID, 10))
	}
	if p.Date == "" {
		p.Date = q.Date
	}
	if p.SlotMinutes <= 0 {
		p.SlotMinutes = q.SlotMinutes
	}
	return p, nil
}

func (c *Client) Rules(ctx context.Context, sess auth.Session, areaID int64) ([]Rule, error) {
	var raw json.RawMessage
	params := url.Values{"area": {strconv.FormatInt(areaID, 10)}}
	if err := c.get(ctx, sess, "areas-disponibilidad/", params, &raw); err != nil {
		return nil, err
	}
	return decodeList[Rule](raw)
}

func (c *Client) CreateRule(ctx context.Context, sess auth.Session, in RuleInput) (Rule, error) {
	var out Rule
	err := c.post(ctx, sess, "areas-disponibilidad/", in, uuid.NewString(), &out)
	return out, err
}

func (c *Client) UpdateRule(ctx context.Context, sess auth.Session, ruleID int64, patch RulePatch) (Rule, error) {
	var out Rule
	err := c.patch(ctx, sess, rulePath(ruleID), patch, &out)
	return out, err
}

func (c *Client) DeleteRule(ctx context.Context, sess auth.Session, ruleID int64) error {
	return c.delete(ctx, sess, rulePath(ruleID))
}

func rulePath(ruleID int64) string {
	return "areas-disponibilidad/" + strconv.FormatInt(ruleID, 10) + "/"
}

// Reservations lists the area's reservations between two dates (YYYY-MM-DD, inclusive).
func (c *Client) Reservations(ctx context.Context, sess auth.Session, areaID int64, dateFrom, dateTo string) ([]availability.ReservationRecord, error) {
	params := url.Values{"area": {strconv.FormatInt(areaID, 10)}}
	if dateFrom != "" {
		params.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		params.Set("date_to", dateTo)
	}
	var raw json.RawMessage
	if err := c.get(ctx, sess, "reservas-area/", params, &raw); err != nil {
		return nil, err
	}
	return decodeList[availability.ReservationRecord](raw)
}

// CreateReservation submits a reservation. An empty idempotencyKey gets a fresh one.
func (c *Client) CreateReservation(ctx context.Context, sess auth.Session, in NewReservation, idempotencyKey string) (Reservation, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	var out Reservation
	err := c.post(ctx, sess, "reservas-area/", in, idempotencyKey, &out)
	return out, err
}

func (c *Client) CancelReservation(ctx context.Context, sess auth.Session, reservationID int64) (Reservation, error) {
	var out Reservation
	path := "reservas-area/" + strconv.FormatInt(reservationID, 10) + "/cancelar/"
	err := c.post(ctx, sess, path, nil, uuid.NewString(), &out)
	return out, err
}
