package rules

import (
	"time"

	"github.com/ahrav/vulnguard/internal/domain/events"
)

// EventTypeCatalogReloaded is published whenever a new catalog replaces the
// current one.
const EventTypeCatalogReloaded events.EventType = "CatalogReloaded"

// CatalogReloadedEvent signals that the active rule catalog changed.
type CatalogReloadedEvent struct {
	occurredAt          time.Time
	Fingerprint         string
	PreviousFingerprint string
	RuleCount           int
	Warnings            int
}

// NewCatalogReloadedEvent creates a new CatalogReloadedEvent, setting the occurrence time to now.
func NewCatalogReloadedEvent(fingerprint, previous string, ruleCount, warnings int) CatalogReloadedEvent {
	return CatalogReloadedEvent{
		occurredAt:          time.Now(),
		Fingerprint:         fingerprint,
		PreviousFingerprint: previous,
		RuleCount:           ruleCount,
		Warnings:            warnings,
	}
}

// EventType satisfies the events.DomainEvent interface.
func (e CatalogReloadedEvent) EventType() events.EventType { return EventTypeCatalogReloaded }

// OccurredAt satisfies the events.DomainEvent interface.
func (e CatalogReloadedEvent) OccurredAt() time.Time { return e.occurredAt }

// Changed reports whether the reload actually altered the catalog content.
func (e CatalogReloadedEvent) Changed() bool { return e.Fingerprint != e.PreviousFingerprint }
