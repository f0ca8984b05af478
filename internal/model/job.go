package model

import (
	"time"
)

// JobState is the lifecycle state of a research job. States advance in the
// order of JobStates; VALIDATION_FAILED and ERROR may follow any in-progress state.
type JobState string

const (
	JobStateQueued           JobState = "QUEUED"
	JobStateAssembling       JobState = "ASSEMBLING"
	JobStatePassA            JobState = "PASS_A"
	JobStatePassB            JobState = "PASS_B"
	JobStateValidating       JobState = "VALIDATING"
	JobStateResolving        JobState = "RESOLVING"
	JobStateCrossReferencing JobState = "CROSS_REFERENCING"
	JobStateWritingBack      JobState = "WRITING_BACK"
	JobStateComplete         JobState = "COMPLETE"
	JobStateValidationFailed JobState = "VALIDATION_FAILED"
	JobStateError            JobState = "ERROR"
)

// linearStates is the happy path. WRITING_BACK may be skipped when
// write-back is disabled; nothing else may be.
var linearStates = []JobState{
	JobStateQueued,
	JobStateAssembling,
	JobStatePassA,
	JobStatePassB,
	JobStateValidating,
	JobStateResolving,
	JobStateCrossReferencing,
	JobStateWritingBack,
	JobStateComplete,
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateAssembling, JobStatePassA, JobStatePassB,
		JobStateValidating, JobStateResolving, JobStateCrossReferencing,
		JobStateWritingBack, JobStateComplete, JobStateValidationFailed, JobStateError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateComplete, JobStateValidationFailed, JobStateError:
		return true
	case JobStateQueued, JobStateAssembling, JobStatePassA, JobStatePassB,
		JobStateValidating, JobStateResolving, JobStateCrossReferencing, JobStateWritingBack:
		return false
	}
	return false
}

// Failed reports whether s is a failing terminal state.
func (s JobState) Failed() bool {
	return s == JobStateValidationFailed || s == JobStateError
}

func stateIndex(s JobState) int {
	for i, ls := range linearStates {
		if ls == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether a job in state from may move to state to.
func CanTransition(from, to JobState) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to.Failed() {
		return true
	}
	fi, ti := stateIndex(from), stateIndex(to)
	if fi < 0 || ti < 0 {
		return false
	}
	if ti == fi+1 {
		return true
	}
	// CROSS_REFERENCING -> COMPLETE when write-back is off.
	return from == JobStateCrossReferencing && to == JobStateComplete
}

// TriggerKind describes what started a job.
type TriggerKind string

const (
	TriggerScheduled      TriggerKind = "scheduled"
	TriggerContentRefresh TriggerKind = "content_refresh"
	TriggerManual         TriggerKind = "manual"
	TriggerManualOverride TriggerKind = "manual_override"
)

// Valid reports whether t is a known trigger.
func (t TriggerKind) Valid() bool {
	switch t {
	case TriggerScheduled, TriggerContentRefresh, TriggerManual, TriggerManualOverride:
		return true
	}
	return false
}

// Privileged reports whether the trigger bypasses the pre-run gates.
func (t TriggerKind) Privileged() bool {
	switch t {
	case TriggerManualOverride:
		return true
	case TriggerScheduled, TriggerContentRefresh, TriggerManual:
		return false
	}
	return false
}

// BlockReason names the gate that stopped a run before it was queued.
type BlockReason string

const (
	BlockBudget   BlockReason = "budget"
	BlockCooldown BlockReason = "cooldown"
	BlockBreaker  BlockReason = "breaker"
)

// ResearchJob is one research run for one place.
type ResearchJob struct {
	ID         string      `json:"id"`
	PlaceID    string      `json:"place_id"`
	Trigger    TriggerKind `json:"trigger"`
	WriteBack  bool        `json:"write_back"`
	State      JobState    `json:"state"`
	Usage      TokenUsage  `json:"usage"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// JobTransition is one recorded state change.
type JobTransition struct {
	JobID string    `json:"job_id"`
	From  JobState  `json:"from"`
	To    JobState  `json:"to"`
	At    time.Time `json:"at"`
}

// JobResult is returned by the orchestrator for every run, blocked or not.
type JobResult struct {
	Job             *ResearchJob           `json:"job,omitempty"`
	Blocked         bool                   `json:"blocked"`
	BlockReason     BlockReason            `json:"block_reason,omitempty"`
	CitySynthesis   *CitySynthesis         `json:"city_synthesis,omitempty"`
	Validation      *ValidationReport      `json:"validation,omitempty"`
	Resolved        []ResolvedVenueSignal  `json:"resolved,omitempty"`
	Unresolved      []UnresolvedSignal     `json:"unresolved,omitempty"`
	CrossReferences []CrossReferenceResult `json:"cross_references,omitempty"`
	ReviewFlagged   int                    `json:"review_flagged"`
	WrittenBack     int                    `json:"written_back"`
}
