package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TopicPrefix is the prefix for every topic the storefront writes to.
const TopicPrefix = "storefront"

// SchemaVersion is stamped on every envelope. Bump it when Data changes
// incompatibly.
const SchemaVersion = 1

// Topic constructs a fully-qualified topic name.
func Topic(subject, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, subject, action)
}

// Event is the envelope shared by all analytics messages. Key doubles as the
// partition key, so every event for one cart or order is ordered.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Key           string          `json:"key"`
	Source        string          `json:"source"`
	Schema        int             `json:"schema"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// EventOption sets an optional envelope field.
type EventOption func(*Event)

// Correlated tags the event with the request correlation id.
func Correlated(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

// Actor records the browser session and, when signed in, the user.
func Actor(sessionID, userID string) EventOption {
	return func(e *Event) {
		e.SessionID = sessionID
		e.UserID = userID
	}
}

// NewEvent wraps data in an envelope with a fresh id and the current time.
func NewEvent(eventType, key, source string, data any, opts ...EventOption) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		Source:     source,
		Schema:     SchemaVersion,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decode unmarshals the payload into target.
func (e *Event) Decode(target any) error {
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
