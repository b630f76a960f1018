package calls

// TelCallState is the fine-grained lifecycle state of a single call leg.
type TelCallState int

const (
	StateIdle TelCallState = iota
	StateDialing
	StateAlerting
	StateIncoming
	StateWaiting
	StateActive
	StateHolding
	StateDisconnecting
	StateDisconnected
)

func (s TelCallState) String() string {
	names := []string{
		"Idle", "Dialing", "Alerting", "Incoming", "Waiting",
		"Active", "Holding", "Disconnecting", "Disconnected",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// RunningState is the coarse grouping of TelCallState exposed to observers.
type RunningState int

const (
	RunningCreate RunningState = iota
	RunningDialing
	RunningConnecting
	RunningRinging
	RunningActive
	RunningHold
	RunningEnding
	RunningEnded
)

func (s RunningState) String() string {
	names := []string{
		"Create", "Dialing", "Connecting", "Ringing",
		"Active", "Hold", "Ending", "Ended",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// runningStateOf maps a call state to its coarse running state.
func runningStateOf(s TelCallState) RunningState {
	switch s {
	case StateIdle:
		return RunningCreate
	case StateDialing:
		return RunningDialing
	case StateAlerting:
		return RunningConnecting
	case StateIncoming, StateWaiting:
		return RunningRinging
	case StateActive:
		return RunningActive
	case StateHolding:
		return RunningHold
	case StateDisconnecting:
		return RunningEnding
	default:
		return RunningEnded
	}
}

// legalTransition reports whether moving from prior to next is a valid
// state-machine edge. Hang-up and failure may take any live call straight
// to Disconnecting/Disconnected.
func legalTransition(prior, next TelCallState) bool {
	if prior == next {
		return true
	}
	if next == StateDisconnecting || next == StateDisconnected {
		return prior != StateDisconnected
	}
	switch prior {
	case StateIdle:
		return next == StateDialing || next == StateIncoming || next == StateWaiting
	case StateDialing:
		return next == StateAlerting || next == StateActive
	case StateAlerting:
		return next == StateActive
	case StateIncoming, StateWaiting:
		return next == StateActive
	case StateActive:
		return next == StateHolding
	case StateHolding:
		return next == StateActive
	case StateDisconnecting:
		return false
	default:
		return false
	}
}

// ConferenceState is the lifecycle of a per-kind conference group.
type ConferenceState int

const (
	ConferenceIdle ConferenceState = iota
	ConferenceCreating
	ConferenceActive
	ConferenceHolding
	ConferenceLeaving
)

func (s ConferenceState) String() string {
	names := []string{"Idle", "Creating", "Active", "Holding", "Leaving"}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// ConferenceRole is a call's role within its kind's conference group.
type ConferenceRole int

const (
	ConferenceNone ConferenceRole = iota
	ConferenceMain
	ConferenceSub
)
