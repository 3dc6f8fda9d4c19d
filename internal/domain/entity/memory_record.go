package entity

import "time"

// MemoryKind classifies what a MemoryRecord represents.
type MemoryKind string

const (
	MemoryKindFact         MemoryKind = "fact"
	MemoryKindPreference   MemoryKind = "preference"
	MemoryKindEvent        MemoryKind = "event"
	MemoryKindRelationship MemoryKind = "relationship"
)

// MemoryStatus tracks a record's lifecycle. Records are never deleted
// in place; a superseding write flips the old record's status.
type MemoryStatus string

const (
	MemoryStatusActive     MemoryStatus = "active"
	MemoryStatusSuperseded MemoryStatus = "superseded"
)

// MemoryRecord is a single fact/preference/event extracted from
// conversation (or entered explicitly) and retained for later recall.
type MemoryRecord struct {
	ID               string
	Kind             MemoryKind
	Status           MemoryStatus
	Text             string
	Confidence       float64
	SourceTurnID     string
	Tags             []string
	Supersedes       string // id of the record this one replaces, if any
	Importance       *float64
	StaleAfterSeconds *int64
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewMemoryRecord validates and constructs a record in the active
// state. Embedding storage is keyed separately by ID.
func NewMemoryRecord(id string, kind MemoryKind, text string, confidence float64) (*MemoryRecord, error) {
	if id == "" {
		return nil, ErrInvalidMemoryID
	}
	if !validMemoryKind(kind) {
		return nil, ErrInvalidMemoryKind
	}
	if confidence < 0.0 || confidence > 1.0 {
		confidence = clamp01(confidence)
	}
	now := time.Now()
	return &MemoryRecord{
		ID:         id,
		Kind:       kind,
		Status:     MemoryStatusActive,
		Text:       text,
		Confidence: confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Supersede marks the record superseded by newID. The link lives on the
// replacing record, whose Supersedes field names this one; this record
// changes only in its status and updated timestamp.
func (m *MemoryRecord) Supersede(newID string) {
	m.Status = MemoryStatusSuperseded
	m.UpdatedAt = time.Now()
}

// IsStale reports whether the record's stale-after window has elapsed
// relative to now.
func (m *MemoryRecord) IsStale(now time.Time) bool {
	if m.StaleAfterSeconds == nil {
		return false
	}
	deadline := m.UpdatedAt.Add(time.Duration(*m.StaleAfterSeconds) * time.Second)
	return now.After(deadline)
}

func validMemoryKind(k MemoryKind) bool {
	switch k {
	case MemoryKindFact, MemoryKindPreference, MemoryKindEvent, MemoryKindRelationship:
		return true
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
