package statemachine

import (
	"fmt"
	"log"

	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/platform/errors"
)

// Transition describes a state change produced by an update. A synthetic
// transition with an empty From reports self-healing after a definition
// changed underneath an instance.
type Transition struct {
	From           string
	To             string
	TimeInPrevious float64
}

// Engine evaluates instances against their definitions. Definitions are
// read from the registry on every update, so hot reloads take effect on
// the next update without an engine restart.
type Engine struct {
	defs *content.Registry[Definition]
}

// NewEngine creates an engine reading definitions from defs.
func NewEngine(defs *content.Registry[Definition]) (*Engine, error) {
	if defs == nil {
		return nil, fmt.Errorf("definition registry is required")
	}
	return &Engine{defs: defs}, nil
}

// Definitions returns the registry the engine reads from.
func (e *Engine) Definitions() *content.Registry[Definition] {
	return e.defs
}

// Update advances one instance by dt seconds and returns the transition to
// apply, if any. The engine never mutates CurrentState of shared state
// beyond the instance passed in; callers route the returned transition
// through the command bus so the change is journaled.
//
// Time in state accrues before conditions are evaluated, so a 1.0s update
// satisfies After{1.0}. If the current state no longer exists in the
// definition, the instance self-heals to the initial state and evaluation
// stops for this update. At most one transition fires per update: the
// eligible transition with the highest priority, declaration order breaking
// ties.
func (e *Engine) Update(inst *Instance, dt float64) (*Transition, error) {
	if inst == nil {
		return nil, fmt.Errorf("instance is required")
	}
	if inst.Context == nil {
		inst.Context = NewContext()
	}

	entry, ok := e.defs.Get(inst.DefinitionID)
	if !ok {
		return nil, errors.WithMetadata(errors.CodeDefinitionMissing,
			fmt.Sprintf("definition %q not found", inst.DefinitionID),
			map[string]string{"definition": inst.DefinitionID, "instance": inst.ID})
	}
	def := entry.Data

	inst.Context.TimeInState += dt

	if !def.HasState(inst.CurrentState) {
		// The definition changed underneath the instance, likely a hot
		// reload. Reset to the initial state rather than evaluating
		// transitions from a state that no longer exists.
		log.Printf("instance %s: state %q missing from definition %s, resetting to %q",
			inst.ID, inst.CurrentState, def.ID, def.InitialState)
		healed := &Transition{
			From:           "",
			To:             def.InitialState,
			TimeInPrevious: inst.Context.TimeInState,
		}
		inst.CurrentState = def.InitialState
		inst.Context.TimeInState = 0
		return healed, nil
	}

	var best *TransitionDef
	for i := range def.Transitions {
		tr := &def.Transitions[i]
		if tr.From != inst.CurrentState {
			continue
		}
		if !Eval(tr.Condition, inst.Context) {
			continue
		}
		// Strictly-greater keeps the earliest declared transition on ties.
		if best == nil || tr.Priority > best.Priority {
			best = tr
		}
	}
	if best == nil {
		return nil, nil
	}

	fired := &Transition{
		From:           best.From,
		To:             best.To,
		TimeInPrevious: inst.Context.TimeInState,
	}
	inst.CurrentState = best.To
	inst.Context.TimeInState = 0
	return fired, nil
}
