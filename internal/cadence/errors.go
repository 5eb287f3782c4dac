package cadence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrTickInProgress is returned when another tick of the same cadence holds its lock.
	ErrTickInProgress = errors.New("cadence tick already in progress")
	// ErrUnknownStrategy is returned for a cadence whose strategy name has no registered variant.
	ErrUnknownStrategy = errors.New("unknown cadence strategy")
)

// ConfigurationError is a fatal, non-retryable misconfiguration of a cadence:
// a missing or invalid parameter, or a reference to a target or instrument
// that does not exist.
type ConfigurationError struct {
	CadenceID int64
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("cadence %d misconfigured: %s", e.CadenceID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(cadenceID int64, err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{CadenceID: cadenceID, Reason: fmt.Sprintf(format, args...), Err: err}
}

// ValidationError carries the field-level detail of a payload rejected by a facility.
type ValidationError struct {
	CadenceID int64
	Target    string
	Fields    map[string][]string
	Err       error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "payload for cadence %d is invalid", e.CadenceID)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientFacilityError is a network or HTTP failure while polling a facility.
// It is never fatal; the stored status is used instead.
type TransientFacilityError struct {
	Facility      string
	ObservationID string
	Err           error
}

func (e *TransientFacilityError) Error() string {
	return fmt.Sprintf("facility %q status of %s: %v", e.Facility, e.ObservationID, e.Err)
}

func (e *TransientFacilityError) Unwrap() error { return e.Err }

// SubmissionError aborts a tick after the payload was built: the facility
// rejected the payload or failed to accept the submission.
type SubmissionError struct {
	CadenceID int64
	Facility  string
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit cadence %d to %q: %v", e.CadenceID, e.Facility, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PersistenceError reports observation ids accepted by the facility that could
// not be recorded locally. The observations exist at the facility.
type PersistenceError struct {
	CadenceID      int64
	ObservationIDs []string
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cadence %d: %d submitted observation(s) not recorded [%s]: %v",
		e.CadenceID, len(e.ObservationIDs), strings.Join(e.ObservationIDs, ", "), e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
