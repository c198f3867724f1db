package models

import "time"

// Device statuses as last observed from the RustDesk server. The status is a
// point-in-time snapshot, not a locally owned field — the server is the sole
// source of truth between runs.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Device represents a remote-managed endpoint known to the RustDesk server.
type Device struct {
	ID         string     `json:"id"`                // human-facing device ID, shown in logs and reports
	GUID       string     `json:"guid"`              // opaque server-assigned key; all mutations address the GUID
	DeviceName string     `json:"device_name"`
	UserName   string     `json:"user_name"`
	GroupName  string     `json:"group_name"`        // user group, server-side search only
	Group      string     `json:"device_group_name"` // empty means "ungrouped"
	LastOnline *time.Time `json:"last_online,omitempty"` // nil for never-connected Quick Support clients
	Status     string     `json:"status"`
}

// Ungrouped reports whether the device has no device group assigned.
func (d Device) Ungrouped() bool { return d.Group == "" }

// SearchFilter contains the server-side search criteria for a device listing.
// Non-empty values are wrapped in SQL-style % wildcards by the adapter unless
// already wildcarded or the literal "-".
type SearchFilter struct {
	ID              string
	DeviceName      string
	UserName        string
	GroupName       string
	DeviceGroupName string
}

// Policy is the eligibility configuration for a reconciliation run.
type Policy struct {
	// All targets every device the search filter matched, bypassing the
	// ungrouped and stale rules. Malformed records are still refused.
	All bool

	// Ungrouped targets devices with no device group, regardless of when
	// they were last online.
	Ungrouped bool

	// StaleAfterDays targets devices whose last contact is at least this
	// many days ago (boundary inclusive). Zero or negative disables the
	// stale rule.
	StaleAfterDays int
}

// Eligibility reasons produced by the classifier.
const (
	ReasonMatched    = "matched"
	ReasonUngrouped  = "ungrouped"
	ReasonStale      = "stale"
	ReasonIneligible = "ineligible"
)

// Verdict is the classifier's decision for a single device. Derived and
// ephemeral; never persisted.
type Verdict struct {
	DeviceID string
	Eligible bool
	Reason   string
}

// Lifecycle steps a device can be driven through.
const (
	StepDisable = "disable"
	StepEnable  = "enable"
	StepDelete  = "delete"
	StepAssign  = "assign"
)

// Transition outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeAlreadyInState = "already_in_state"
	OutcomeWould          = "would" // dry-run: recorded, nothing sent
	OutcomeFailed         = "failed"
)

// TransitionRecord is one attempted lifecycle step for one device in one run.
type TransitionRecord struct {
	DeviceID string `json:"device_id"`
	Step     string `json:"step"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the transition ended in failure.
func (r TransitionRecord) Failed() bool { return r.Outcome == OutcomeFailed }

// RunReport aggregates the outcome of one reconciliation run. Created fresh
// each invocation and discarded after being surfaced to the operator.
type RunReport struct {
	Command    string             `json:"command"`
	DryRun     bool               `json:"dry_run"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Scanned    int                `json:"scanned"`
	Eligible   int                `json:"eligible"`
	Disabled   int                `json:"disabled"`
	Enabled    int                `json:"enabled"`
	Deleted    int                `json:"deleted"`
	Assigned   int                `json:"assigned"`
	Failed     int                `json:"failed"`
	Records    []TransitionRecord `json:"records"`
}

// Add appends a transition record and updates the aggregate counters.
func (r *RunReport) Add(rec TransitionRecord) {
	r.Records = append(r.Records, rec)

	switch rec.Outcome {
	case OutcomeFailed:
		r.Failed++
		return
	case OutcomeSuccess, OutcomeAlreadyInState, OutcomeWould:
	default:
		return
	}

	switch rec.Step {
	case StepDisable:
		r.Disabled++
	case StepEnable:
		r.Enabled++
	case StepDelete:
		r.Deleted++
	case StepAssign:
		r.Assigned++
	}
}

// Merge appends all records from a per-device batch.
func (r *RunReport) Merge(recs []TransitionRecord) {
	for _, rec := range recs {
		r.Add(rec)
	}
}

// OK reports whether the run completed without any failed transition. The
// process exit status is derived from this.
func (r *RunReport) OK() bool { return r.Failed == 0 }
