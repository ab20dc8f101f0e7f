// Package events publishes engine lifecycle events for external
// subscribers (the conversational orchestrator, audit tooling). Publishing
// is fire-and-forget and optional: the engine is fully functional with the
// no-op publisher.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind. Types double as NATS subject suffixes.
type Type string

const (
	// TypeEvidenceAppended fires after an evidence append commits.
	TypeEvidenceAppended Type = "evidence.appended"

	// TypeInstanceSynthesized fires when a generic parent is synthesized
	// from sibling instances.
	TypeInstanceSynthesized Type = "instance.synthesized"

	// TypeInstanceContested fires when an append leaves an instance with
	// strong tier-qualified disagreement.
	TypeInstanceContested Type = "instance.contested"
)

// Event is one published engine event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type identifies the event kind.
	Type Type `json:"type"`

	// FactorID is the factor the event concerns.
	FactorID string `json:"factor_id"`

	// InstanceID is the affected instance.
	InstanceID string `json:"instance_id"`

	// Scope is the instance's canonical scope string.
	Scope string `json:"scope"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event with a generated id and current timestamp.
func New(t Type, factorID, instanceID, canonicalScope string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		FactorID:   factorID,
		InstanceID: instanceID,
		Scope:      canonicalScope,
		Timestamp:  time.Now().UTC(),
	}
}

// Publisher delivers events to subscribers. Implementations must be safe
// for concurrent use. Publish failures are the publisher's problem to log;
// the engine never fails an operation because an event could not be sent.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(ctx context.Context, evt Event) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }

var _ Publisher = NopPublisher{}
