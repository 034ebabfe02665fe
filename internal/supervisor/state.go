package supervisor

// State of a run.
type State string

const (
	Idle            State = "Idle"
	LoggingIn       State = "LoggingIn"
	DismissingPopup State = "DismissingPopup"
	Exporting       State = "Exporting"
	Polling         State = "Polling"
	Retrieving      State = "Retrieving"
	Publishing      State = "Publishing"
	Done            State = "Done"
	Failed          State = "Failed"
)

// Sequence is the success path, in order.
var Sequence = []State{Idle, LoggingIn, DismissingPopup, Exporting, Polling, Retrieving, Publishing, Done}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// CanTransition reports whether from -> to is a legal edge: the next state
// on the success path, or Failed from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for i, s := range Sequence[:len(Sequence)-1] {
		if s == from {
			return Sequence[i+1] == to
		}
	}
	return false
}
