// Package retention enforces per-tenant data lifecycle policies. Records
// move Active -> Archived -> Anonymized -> Purged on a schedule, or jump
// straight to Purged when consent revocation demands immediate deletion.
package retention

import (
	"time"

	id "custos/pkg/domain"
)

// State is a record's position in the lifecycle.
type State string

const (
	StateActive     State = "active"
	StateArchived   State = "archived"
	StateAnonymized State = "anonymized"
	StatePurged     State = "purged"
)

// forward lists the legal next states. The lifecycle only moves forward;
// skipping intermediate states is allowed, reviving a record is not.
var forward = map[State][]State{
	StateActive:     {StateArchived, StateAnonymized, StatePurged},
	StateArchived:   {StateAnonymized, StatePurged},
	StateAnonymized: {StatePurged},
}

// CanTransition reports whether the lifecycle permits from -> to.
func CanTransition(from, to State) bool {
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action is what a retention policy does to a record past its period.
type Action string

const (
	ActionArchive   Action = "archive"
	ActionAnonymize Action = "anonymize"
	ActionPurge     Action = "purge"
)

// TargetState maps a policy action to the state it drives records into.
func (a Action) TargetState() (State, bool) {
	switch a {
	case ActionArchive:
		return StateArchived, true
	case ActionAnonymize:
		return StateAnonymized, true
	case ActionPurge:
		return StatePurged, true
	default:
		return "", false
	}
}

// Policy is one tenant's retention rule for one data class.
type Policy struct {
	TenantID        id.TenantID
	DataClass       string
	RetentionPeriod time.Duration
	ActionOnExpiry  Action
	UpdatedAt       time.Time
}

// DataRecord is the lifecycle ledger entry for one business record. The
// surrounding application registers records here; the sweeper only ever
// moves their state and scrubs their vault tokens, never touches the
// business rows themselves.
type DataRecord struct {
	ID             id.ResourceID
	TenantID       id.TenantID
	SubjectID      id.SubjectID
	ResourceType   string
	DataClass      string
	State          State
	Tokens         []string
	CreatedAt      time.Time
	StateChangedAt time.Time
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Examined   int
	Archived   int
	Anonymized int
	Purged     int
	Skipped    int
	Failed     int
}

func (r *SweepReport) count(to State) {
	switch to {
	case StateArchived:
		r.Archived++
	case StateAnonymized:
		r.Anonymized++
	case StatePurged:
		r.Purged++
	}
}

// Transitions is the total number of state changes the sweep committed.
func (r SweepReport) Transitions() int {
	return r.Archived + r.Anonymized + r.Purged
}
