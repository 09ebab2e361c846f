package domain

import "time"

type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// Reason is a stable code explaining an outcome. It is safe to log and to
// use as a metric label.
type Reason string

const (
	ReasonGranted         Reason = "role_granted"
	ReasonInsufficient    Reason = "role_insufficient"
	ReasonNotVisible      Reason = "not_visible"
	ReasonMissing         Reason = "resource_missing"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonNoRule          Reason = "no_rule"
	ReasonInvalidRequest  Reason = "invalid_request"
	ReasonIntegrity       Reason = "hierarchy_integrity"
	ReasonStoreFailure    Reason = "store_failure"
)

// Decision is the append-only record of one authorization check.
type Decision struct {
	ID           string       `json:"id"`
	SubjectID    string       `json:"subject_id,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceType ResourceType `json:"resource_type,omitempty"`
	Action       Action       `json:"action"`
	Role         Role         `json:"role,omitempty"`
	Outcome      Outcome      `json:"outcome"`
	Reason       Reason       `json:"reason"`
	Timestamp    time.Time    `json:"timestamp"`
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }
