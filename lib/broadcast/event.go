// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"strings"
	"time"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// EventType names a queue event.
type EventType string

const (
	EventStudentJoined     EventType = "STUDENT_JOINED"
	EventTicketCalled      EventType = "TICKET_CALLED"
	EventServiceStarted    EventType = "SERVICE_STARTED"
	EventServiceCompleted  EventType = "SERVICE_COMPLETED"
	EventTicketCancelled   EventType = "TICKET_CANCELLED"
	EventTicketNoShow      EventType = "TICKET_NO_SHOW"
	EventStudentLeft       EventType = "STUDENT_LEFT"
	EventQueueUpdated      EventType = "QUEUE_UPDATED"
	EventPositionChanged   EventType = "POSITION_CHANGED"
	EventStatisticsUpdated EventType = "STATISTICS_UPDATED"
)

// Topic names shared by every service.
const (
	TopicAdmin = "admin"
	TopicQueue = "queue"
)

const (
	servicePrefix = "service:"
	userPrefix    = "user:"
)

// ServiceTopic returns the topic for one service's queue.
func ServiceTopic(serviceID string) string { return servicePrefix + serviceID }

// UserTopic returns the topic for one student.
func UserTopic(studentID string) string { return userPrefix + studentID }

// TopicKind returns "service", "user", "admin", "queue" or "other".
// Metrics label topics by kind to keep cardinality bounded.
func TopicKind(topic string) string {
	switch {
	case strings.HasPrefix(topic, servicePrefix):
		return "service"
	case strings.HasPrefix(topic, userPrefix):
		return "user"
	case topic == TopicAdmin:
		return "admin"
	case topic == TopicQueue:
		return "queue"
	}
	return "other"
}

// ValidTopic reports whether topic is one of the known forms with a
// non-empty identifier.
func ValidTopic(topic string) bool {
	switch {
	case topic == TopicAdmin, topic == TopicQueue:
		return true
	case strings.HasPrefix(topic, servicePrefix):
		return len(topic) > len(servicePrefix)
	case strings.HasPrefix(topic, userPrefix):
		return len(topic) > len(userPrefix)
	}
	return false
}

// Event is a single queue notification. Which payload fields are set
// depends on Type: lifecycle events carry Ticket, QUEUE_UPDATED
// carries Snapshot, POSITION_CHANGED carries Position and
// STATISTICS_UPDATED carries Statistics.
type Event struct {
	Type      EventType `json:"type"`
	ServiceID string    `json:"service_id,omitempty"`
	StudentID string    `json:"student_id,omitempty"`
	TicketID  string    `json:"ticket_id,omitempty"`
	At        time.Time `json:"at"`

	Ticket     *queueschema.Ticket     `json:"ticket,omitempty"`
	Snapshot   *queueschema.Snapshot   `json:"snapshot,omitempty"`
	Position   *queueschema.Position   `json:"position,omitempty"`
	Statistics *queueschema.Statistics `json:"statistics,omitempty"`
}

// TicketEvent builds a lifecycle event for ticket.
func TicketEvent(eventType EventType, ticket queueschema.Ticket, at time.Time) Event {
	return Event{
		Type:      eventType,
		ServiceID: ticket.ServiceID,
		StudentID: ticket.StudentID,
		TicketID:  ticket.ID,
		At:        at,
		Ticket:    &ticket,
	}
}

// LifecycleEvent returns the event type announcing a ticket's move
// into status, or false for statuses that are not announced.
// Cancellation by the student and by staff are told apart by byStaff.
func LifecycleEvent(status queueschema.Status, byStaff bool) (EventType, bool) {
	switch status {
	case queueschema.StatusWaiting:
		return EventStudentJoined, true
	case queueschema.StatusCalled:
		return EventTicketCalled, true
	case queueschema.StatusInProgress:
		return EventServiceStarted, true
	case queueschema.StatusCompleted:
		return EventServiceCompleted, true
	case queueschema.StatusNoShow:
		return EventTicketNoShow, true
	case queueschema.StatusCancelled:
		if byStaff {
			return EventTicketCancelled, true
		}
		return EventStudentLeft, true
	}
	return "", false
}
