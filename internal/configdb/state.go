package configdb

import "strings"

// State is the scheduling state of an instrument.
type State string

const (
	StateDisabled      State = "DISABLED"
	StateManual        State = "MANUAL"
	StateCommissioning State = "COMMISSIONING"
	StateStandby       State = "STANDBY"
	StateSchedulable   State = "SCHEDULABLE"
	StateEnabled       State = "ENABLED"
)

// ParseState normalises a ConfigDB state string. Unknown values are DISABLED.
func ParseState(s string) State {
	switch st := State(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateManual, StateCommissioning, StateStandby, StateSchedulable, StateEnabled:
		return st
	default:
		return StateDisabled
	}
}

// ShouldInclude decides whether an instrument in state counts as active.
// SCHEDULABLE and STANDBY always do, COMMISSIONING only when asked for,
// everything else only when everything is requested.
func ShouldInclude(state State, everything, commissioning bool) bool {
	return everything ||
		state == StateSchedulable ||
		state == StateStandby ||
		(commissioning && state == StateCommissioning)
}
