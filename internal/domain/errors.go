package domain

import (
	"errors"
	"fmt"
)

// Denial codes surfaced to clients. Every denial carries enough structured
// detail to render an actionable message without a second round-trip.
const (
	CodeSeatLimitReached         = "SEAT_LIMIT_REACHED"
	CodePatientLimitReached      = "PATIENT_LIMIT_REACHED"
	CodeStorageLimitReached      = "STORAGE_LIMIT_REACHED"
	CodeNotificationLimitReached = "NOTIFICATION_LIMIT_REACHED"
	CodeSubscriptionInactive     = "SUBSCRIPTION_INACTIVE"
	CodeScheduleConflict         = "SCHEDULE_CONFLICT"
	CodeOutsideWorkingHours      = "OUTSIDE_WORKING_HOURS"
	CodeNotWorkingDay            = "NOT_A_WORKING_DAY"
	CodeStartTimeInPast          = "START_TIME_IN_PAST"
	CodeAppointmentImmutable     = "APPOINTMENT_IMMUTABLE"
	CodeIllegalPlanChange        = "ILLEGAL_PLAN_CHANGE"
	CodeDowngradeBlocked         = "DOWNGRADE_BLOCKED"
)

// Denial is a terminal business-rule rejection. It is never retried: the
// transaction runner rolls back and returns it to the caller as-is.
type Denial struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (d *Denial) Error() string {
	return d.Code + ": " + d.Message
}

func NewDenial(code, message string, details map[string]any) *Denial {
	return &Denial{Code: code, Message: message, Details: details}
}

// AsDenial unwraps err into a *Denial if one is in the chain.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

var (
	// ErrContention is returned after the transaction runner exhausts its
	// serialization-conflict retries. Transient: the caller may retry.
	ErrContention = errors.New("transaction contention, retries exhausted")

	// ErrNotFound marks an absent tenant, subscription, appointment or user.
	ErrNotFound = errors.New("not found")

	// ErrTimeout marks a deadline expiry; the in-flight transaction was
	// rolled back, nothing was committed.
	ErrTimeout = errors.New("operation timed out")
)

func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

func IsContention(err error) bool { return errors.Is(err, ErrContention) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsTimeout(err error) bool    { return errors.Is(err, ErrTimeout) }
