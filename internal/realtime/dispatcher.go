package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/messaging"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

type EventType string

const (
	EventCalled      EventType = "CALLED"
	EventCompleted   EventType = "COMPLETED"
	EventSkipped     EventType = "SKIPPED"
	EventNoShow      EventType = "NO_SHOW"
	EventQueueUpdate EventType = "QUEUE_UPDATE"
)

// Event is the payload pushed to subscribed clients. Push is a freshness hint;
// REST reads stay authoritative and clients re-fetch on reconnect.
type Event struct {
	Type         EventType `json:"type"`
	TokenID      uuid.UUID `json:"token_id"`
	TokenNumber  int       `json:"token_number"`
	DepartmentID uuid.UUID `json:"department_id"`
	PatientName  string    `json:"patient_name,omitempty"`
	WaitingCount *int      `json:"waiting_count,omitempty"`
}

// DepartmentChannel scopes events to a department dashboard.
func DepartmentChannel(departmentID uuid.UUID) string {
	return fmt.Sprintf("queue:department:%s", departmentID)
}

// PatientChannel scopes events to a single patient. Subscription to it is
// gated on the caller's own identity, never a client-supplied one.
func PatientChannel(patientID uuid.UUID) string {
	return fmt.Sprintf("queue:patient:%s", patientID)
}

// Dispatcher publishes queue state changes to department and patient channels.
// Delivery is at-most-once: publish failures are counted and dropped.
type Dispatcher struct {
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(broker messaging.Broker, logger *logger.Logger, metrics *metrics.Metrics) *Dispatcher {
	return &Dispatcher{broker: broker, logger: logger, metrics: metrics}
}

// NotifyToken pushes a lifecycle event for a token to the patient's own
// channel and to the department channel.
func (d *Dispatcher) NotifyToken(ctx context.Context, token *model.Token, eventType EventType) {
	event := &Event{
		Type:         eventType,
		TokenID:      token.ID,
		TokenNumber:  token.TokenNumber,
		DepartmentID: token.DepartmentID,
		PatientName:  token.PatientName,
	}

	d.publish(ctx, PatientChannel(token.PatientID), event)
	d.publish(ctx, DepartmentChannel(token.DepartmentID), event)
}

// NotifyQueueUpdate tells department subscribers the waiting count changed.
func (d *Dispatcher) NotifyQueueUpdate(ctx context.Context, departmentID uuid.UUID, waiting int) {
	event := &Event{
		Type:         EventQueueUpdate,
		DepartmentID: departmentID,
		WaitingCount: &waiting,
	}
	d.publish(ctx, DepartmentChannel(departmentID), event)
}

func (d *Dispatcher) publish(ctx context.Context, channel string, event *Event) {
	if err := d.broker.Publish(ctx, channel, event); err != nil {
		// Best-effort push: drop and count, clients reconcile via polling.
		d.metrics.EventsDropped.Inc()
		d.logger.Warn("dropped realtime event", "channel", channel, "type", string(event.Type))
		return
	}
	d.metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
}

// Subscribe exposes the underlying broker subscription for stream handlers.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return d.broker.Subscribe(ctx, channel)
}
