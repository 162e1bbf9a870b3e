package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/vulnguard/internal/domain/events"
)

// EventTypeScanCompleted is published once per finished scan.
const EventTypeScanCompleted events.EventType = "ScanCompleted"

// ScanCompletedEvent reports the outcome of a scan.
type ScanCompletedEvent struct {
	occurredAt   time.Time
	ScanID       uuid.UUID
	Fingerprint  string
	FilesScanned int
	Findings     int
	Score        int
	Partial      bool
}

// NewScanCompletedEvent creates a ScanCompletedEvent from a result.
func NewScanCompletedEvent(r *ScanResult) ScanCompletedEvent {
	return ScanCompletedEvent{
		occurredAt:   time.Now(),
		ScanID:       r.ScanID,
		Fingerprint:  r.CatalogFingerprint,
		FilesScanned: r.FilesScanned,
		Findings:     len(r.Findings),
		Score:        r.Score,
		Partial:      r.Partial,
	}
}

func (e ScanCompletedEvent) EventType() events.EventType { return EventTypeScanCompleted }
func (e ScanCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }
