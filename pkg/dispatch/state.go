package dispatch

import "fmt"

// State is the position of one run in the pipeline.
type State int

const (
	Idle State = iota
	DevicesDiscovered
	ContextReady
	BuffersAllocated
	DataUploaded
	ProgramBuilt
	KernelBound
	Dispatched
	Finished
	ResultsRead
	Released
	Failed
)

var stateNames = [...]string{
	Idle:              "Idle",
	DevicesDiscovered: "DevicesDiscovered",
	ContextReady:      "ContextReady",
	BuffersAllocated:  "BuffersAllocated",
	DataUploaded:      "DataUploaded",
	ProgramBuilt:      "ProgramBuilt",
	KernelBound:       "KernelBound",
	Dispatched:        "Dispatched",
	Finished:          "Finished",
	ResultsRead:       "ResultsRead",
	Released:          "Released",
	Failed:            "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Released || s == Failed
}

// canAdvance reports whether from → to is a legal transition. Runs move
// forward one step at a time and any non-terminal state may fail. A failed
// run stays Failed; only teardown follows it.
func canAdvance(from, to State) bool {
	switch {
	case from.Terminal():
		return false
	case to == Failed:
		return true
	default:
		return to == from+1
	}
}

// machine tracks one run and notifies the observer of each transition.
type machine struct {
	state    State
	observer Observer
}

func (m *machine) advance(to State) error {
	if !canAdvance(m.state, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, m.state, to)
	}
	from := m.state
	m.state = to
	if m.observer != nil {
		m.observer.StateChanged(from, to)
	}
	return nil
}
