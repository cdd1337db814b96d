package audit

import (
	"time"

	"github.com/theapemachine/indexpilot/advisor"
)

// Outcome is the terminal state of a decision after the safety envelope
type Outcome string

const (
	// OutcomeApplied means the index was built
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed means the build was attempted and failed
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the engine chose not to act
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBypassed means the bypass switch vetoed the build
	OutcomeBypassed Outcome = "bypassed"
	// OutcomeRateLimited means the token bucket was empty
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomePendingApproval means a human has to approve the build
	OutcomePendingApproval Outcome = "pending_approval"
	// OutcomeRejected means a human declined the build
	OutcomeRejected Outcome = "rejected"
)

// Terminal reports whether the outcome ends the decision's lifecycle.
// PendingApproval is the only non-terminal outcome; it resolves later to
// Applied, Failed, or Rejected.
func (o Outcome) Terminal() bool {
	return o != OutcomePendingApproval
}

/*
MutationLogEntry is the system of record: every Decision ever produced,
whether acted upon or not, yields exactly one entry. Entries are append-only
and never updated.
*/
type MutationLogEntry struct {
	ID          string           `json:"id"`
	Decision    advisor.Decision `json:"decision"`
	Outcome     Outcome          `json:"outcome"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	AppliedAt   *time.Time       `json:"applied_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
