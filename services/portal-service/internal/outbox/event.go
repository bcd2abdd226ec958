package outbox

import "encoding/json"

const (
	TopicReservationCreated   = "portal.reservation.created.v1"
	TopicReservationCancelled = "portal.reservation.cancelled.v1"
)

// Event is one row of outbox_events. The Kafka topic is the event type.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// ReservationEvent is the payload of both reservation topics.
type ReservationEvent struct {
	ReservationID int64  `json:"reservation_id"`
	AreaID        int64  `json:"area_id"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
	Estado        string `json:"estado,omitempty"`
	Actor         string `json:"actor"`
	RequestID     string `json:"request_id,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

func (e ReservationEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
