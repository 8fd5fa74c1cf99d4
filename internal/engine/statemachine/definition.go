package statemachine

// State is one named node of a definition. Metadata is opaque to the
// engine; scripts and tools read it.
type State struct {
	ID       string
	Name     string
	Metadata map[string]any
}

// TransitionDef is a directed edge between two states. Declaration order is
// semantically significant: it breaks priority ties.
type TransitionDef struct {
	From      string
	To        string
	Condition Condition
	Priority  int
	Name      string
}

// Definition is a complete authored state machine.
type Definition struct {
	ID           string
	Name         string
	InitialState string
	States       []State
	Transitions  []TransitionDef
}

// HasState reports whether id names a member state.
func (d Definition) HasState(id string) bool {
	for _, s := range d.States {
		if s.ID == id {
			return true
		}
	}
	return false
}

// State returns the member state with the given id.
func (d Definition) State(id string) (State, bool) {
	for _, s := range d.States {
		if s.ID == id {
			return s, true
		}
	}
	return State{}, false
}
