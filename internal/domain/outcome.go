package domain

import "time"

// RunState is a state of the automation worker's state machine
type RunState string

const (
	RunStateStarted     RunState = "STARTED"
	RunStateValidating  RunState = "VALIDATING"
	RunStateExecuting   RunState = "EXECUTING"
	RunStateCommitted   RunState = "COMMITTED"
	RunStateRetryQueued RunState = "RETRY_QUEUED"
	RunStateFailed      RunState = "FAILED"
)

// Terminal reports whether no further attempt follows this state
func (s RunState) Terminal() bool {
	return s == RunStateCommitted || s == RunStateFailed
}

// RunOutcome is the result of a transfer attempt or an automation run.
// It has exactly three implementations: Success, RetryableFailure and
// PermanentFailure. Callers are expected to type-switch on it.
type RunOutcome interface {
	State() RunState
	isRunOutcome()
}

// Success means the transfer is committed. Duplicate is set when the
// idempotency key had already committed and nothing moved this time.
type Success struct {
	Records   []TransactionRecord
	Duplicate bool
}

// RetryableFailure means the same (rule, period) should be re-attempted
// after RetryAfter.
type RetryableFailure struct {
	Reason     ErrorKind
	Err        error
	RetryAfter time.Duration
	Attempt    int
}

// PermanentFailure means no retry will help for this period.
// Exhausted is set when a retryable failure ran out of attempts.
type PermanentFailure struct {
	Reason    ErrorKind
	Err       error
	Exhausted bool
}

func (Success) State() RunState          { return RunStateCommitted }
func (RetryableFailure) State() RunState { return RunStateRetryQueued }
func (PermanentFailure) State() RunState { return RunStateFailed }

func (Success) isRunOutcome()          {}
func (RetryableFailure) isRunOutcome() {}
func (PermanentFailure) isRunOutcome() {}

// Retryable builds a RetryableFailure from a classified error
func Retryable(err error) RetryableFailure {
	return RetryableFailure{Reason: KindOf(err), Err: err}
}

// Permanent builds a PermanentFailure from a classified error
func Permanent(err error) PermanentFailure {
	return PermanentFailure{Reason: KindOf(err), Err: err}
}

// OutcomeOf maps an error onto the matching failure variant
func OutcomeOf(err error) RunOutcome {
	if KindOf(err).Retryable() {
		return Retryable(err)
	}
	return Permanent(err)
}
