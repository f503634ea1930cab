// Package notify hands safety intents to the notification collaborator.
// The core records that an alert or a tracking start should happen; delivery
// belongs to whoever consumes the SAFETY_INTENTS stream.
package notify

import (
	"context"
	"time"
)

type Kind string

const (
	KindAlertFanout    Kind = "alert.fanout"
	KindTrackingStart  Kind = "tracking.start"
	KindSessionStarted Kind = "session.started"
	KindShareCreated   Kind = "share.created"
)

const (
	StreamName    = "SAFETY_INTENTS"
	subjectPrefix = "safety.intents."
)

type Recipient struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type Intent struct {
	Kind      Kind           `json:"kind"`
	OwnerID   string         `json:"owner_id"`
	EventID   string         `json:"event_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Recipient *Recipient     `json:"recipient,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Subject is the JetStream subject an intent is published on.
func (i Intent) Subject() string {
	return subjectPrefix + string(i.Kind)
}

// Publisher accepts intents without blocking the caller. Delivery failures
// are logged by the implementation and never reach the caller.
type Publisher interface {
	Publish(ctx context.Context, intent Intent)
	Close()
}

// Nop drops every intent. It is used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Intent) {}
func (Nop) Close()                          {}
