package modelinstance

// State is the lifecycle state of an Instance.
type State int

const (
	StateStart State = iota
	StateLoading
	StateAvailable
	StateUnloading
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateLoading:
		return "LOADING"
	case StateAvailable:
		return "AVAILABLE"
	case StateUnloading:
		return "UNLOADING"
	case StateEnd:
		return "END"
	}
	return "UNKNOWN"
}

// Transition is delivered to subscribers on every state change.
type Transition struct {
	Name    string
	Version int64
	From    State
	To      State
	// Err is set when the transition was caused by a failed load.
	Err error
}
