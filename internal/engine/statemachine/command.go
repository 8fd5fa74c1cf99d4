package statemachine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roguebench/roguebench/internal/engine/command"
	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/platform/errors"
)

// KindTransition is the command kind that applies a state transition.
// Routing transitions through the bus keeps every state change journaled
// and replayable.
const KindTransition = "state.transition"

// TransitionPayload is the state.transition command payload.
type TransitionPayload struct {
	InstanceID     string  `json:"instance_id"`
	From           string  `json:"from,omitempty"`
	To             string  `json:"to"`
	TimeInPrevious float64 `json:"time_in_previous,omitempty"`
}

// RegisterTransitionCommand wires the state.transition kind onto the bus:
// a validator checking the instance and target state, an idempotent
// executor, and a payload decoder for replay.
//
// The executor is idempotent so that the live path (where Engine.Update
// already moved the instance) and the replay path (where it did not)
// converge on the same state.
func RegisterTransitionCommand(bus *command.Bus, instances *InstanceSet, defs *content.Registry[Definition]) error {
	if bus == nil {
		return fmt.Errorf("bus is required")
	}
	if instances == nil {
		return fmt.Errorf("instance set is required")
	}
	if defs == nil {
		return fmt.Errorf("definition registry is required")
	}

	err := bus.RegisterValidator(KindTransition, func(ctx context.Context, cmd command.Command) error {
		payload, ok := cmd.Payload.(TransitionPayload)
		if !ok {
			return fmt.Errorf("payload must be a TransitionPayload, got %T", cmd.Payload)
		}
		inst, ok := instances.Get(payload.InstanceID)
		if !ok {
			return errors.WithMetadata(errors.CodeInstanceMissing,
				fmt.Sprintf("instance %q not found", payload.InstanceID),
				map[string]string{"instance": payload.InstanceID})
		}
		entry, ok := defs.Get(inst.DefinitionID)
		if !ok {
			return errors.WithMetadata(errors.CodeDefinitionMissing,
				fmt.Sprintf("definition %q not found", inst.DefinitionID),
				map[string]string{"definition": inst.DefinitionID})
		}
		if !entry.Data.HasState(payload.To) {
			return errors.WithMetadata(errors.CodeStateNotInDefinition,
				fmt.Sprintf("state %q is not in definition %q", payload.To, inst.DefinitionID),
				map[string]string{"state": payload.To, "definition": inst.DefinitionID})
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = bus.RegisterExecutor(KindTransition, func(ctx context.Context, cmd command.Command) (any, error) {
		payload := cmd.Payload.(TransitionPayload)
		inst, ok := instances.Get(payload.InstanceID)
		if !ok {
			return nil, fmt.Errorf("instance %q vanished after validation", payload.InstanceID)
		}
		if inst.CurrentState != payload.To {
			inst.CurrentState = payload.To
			inst.Context.TimeInState = 0
		}
		return payload, nil
	})
	if err != nil {
		return err
	}

	return bus.RegisterDecoder(KindTransition, func(raw json.RawMessage) (any, error) {
		var payload TransitionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	})
}
