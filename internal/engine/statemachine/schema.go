package statemachine

import (
	"encoding/json"
	"fmt"

	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/platform/errors"
)

// Persisted definition schema. Conditions are a tagged union keyed by
// variant name, with positional arguments:
//
//	{"flag": ["player_spotted", true]}
//	{"threshold": ["health_percent", "<", 50]}
//	{"after": [2.0]}
//	{"and": [c, c]}  {"or": [c, c]}  {"not": [c]}
type definitionDoc struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name,omitempty" yaml:"name,omitempty"`
	InitialState string          `json:"initial_state" yaml:"initial_state"`
	States       []stateDoc      `json:"states" yaml:"states"`
	Transitions  []transitionDoc `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

type stateDoc struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type transitionDoc struct {
	From      string        `json:"from" yaml:"from"`
	To        string        `json:"to" yaml:"to"`
	Condition *conditionDoc `json:"condition" yaml:"condition"`
	Priority  int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Name      string        `json:"name,omitempty" yaml:"name,omitempty"`
}

type conditionDoc struct {
	Flag      []any          `json:"flag,omitempty" yaml:"flag,omitempty"`
	Threshold []any          `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	After     []float64      `json:"after,omitempty" yaml:"after,omitempty"`
	And       []conditionDoc `json:"and,omitempty" yaml:"and,omitempty"`
	Or        []conditionDoc `json:"or,omitempty" yaml:"or,omitempty"`
	Not       []conditionDoc `json:"not,omitempty" yaml:"not,omitempty"`
}

func invalid(field, reason string) error {
	return errors.WithMetadata(errors.CodeDefinitionInvalid, reason,
		map[string]string{"field": field, "reason": reason})
}

// DecodeDefinition decodes and validates one stored definition record. It
// is the DecodeFunc for a content.Registry[Definition].
func DecodeDefinition(rec content.Record) (Definition, error) {
	var doc definitionDoc
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return Definition{}, fmt.Errorf("unmarshal definition: %w", err)
	}

	if doc.ID == "" {
		doc.ID = rec.ID
	}
	if doc.ID != rec.ID {
		return Definition{}, invalid("id",
			fmt.Sprintf("document id %q does not match record id %q", doc.ID, rec.ID))
	}
	if len(doc.States) == 0 {
		return Definition{}, invalid("states", "definition has no states")
	}
	if doc.InitialState == "" {
		return Definition{}, invalid("initial_state", "initial state is required")
	}

	def := Definition{
		ID:           doc.ID,
		Name:         doc.Name,
		InitialState: doc.InitialState,
	}

	seen := map[string]bool{}
	for _, s := range doc.States {
		if s.ID == "" {
			return Definition{}, invalid("states", "state id is required")
		}
		if seen[s.ID] {
			return Definition{}, invalid("states", fmt.Sprintf("duplicate state id %q", s.ID))
		}
		seen[s.ID] = true
		name := s.Name
		if name == "" {
			name = s.ID
		}
		def.States = append(def.States, State{ID: s.ID, Name: name, Metadata: s.Metadata})
	}

	if !seen[doc.InitialState] {
		return Definition{}, invalid("initial_state",
			fmt.Sprintf("initial state %q is not a member state", doc.InitialState))
	}

	for i, tr := range doc.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		if !seen[tr.From] {
			return Definition{}, invalid(field, fmt.Sprintf("from state %q is not a member state", tr.From))
		}
		if !seen[tr.To] {
			return Definition{}, invalid(field, fmt.Sprintf("to state %q is not a member state", tr.To))
		}
		if tr.Condition == nil {
			return Definition{}, invalid(field, "transition condition is required")
		}
		cond, err := decodeCondition(*tr.Condition, field+".condition")
		if err != nil {
			return Definition{}, err
		}
		def.Transitions = append(def.Transitions, TransitionDef{
			From:      tr.From,
			To:        tr.To,
			Condition: cond,
			Priority:  tr.Priority,
			Name:      tr.Name,
		})
	}

	return def, nil
}

func decodeCondition(doc conditionDoc, field string) (Condition, error) {
	variants := 0
	if doc.Flag != nil {
		variants++
	}
	if doc.Threshold != nil {
		variants++
	}
	if doc.After != nil {
		variants++
	}
	if doc.And != nil {
		variants++
	}
	if doc.Or != nil {
		variants++
	}
	if doc.Not != nil {
		variants++
	}
	if variants != 1 {
		return nil, invalid(field, "condition must have exactly one variant")
	}

	switch {
	case doc.Flag != nil:
		if len(doc.Flag) != 2 {
			return nil, invalid(field, "flag takes [name, value]")
		}
		name, okName := doc.Flag[0].(string)
		value, okValue := doc.Flag[1].(bool)
		if !okName || !okValue {
			return nil, invalid(field, "flag takes a string name and a boolean value")
		}
		return Flag{Name: name, Value: value}, nil

	case doc.Threshold != nil:
		if len(doc.Threshold) != 3 {
			return nil, invalid(field, "threshold takes [name, op, value]")
		}
		name, okName := doc.Threshold[0].(string)
		opStr, okOp := doc.Threshold[1].(string)
		value, okValue := toFloat(doc.Threshold[2])
		if !okName || !okOp || !okValue {
			return nil, invalid(field, "threshold takes a string name, a string op, and a numeric value")
		}
		op := CompareOp(opStr)
		if !ValidOp(op) {
			return nil, invalid(field, fmt.Sprintf("unknown comparison op %q", opStr))
		}
		return Threshold{Name: name, Op: op, Value: value}, nil

	case doc.After != nil:
		if len(doc.After) != 1 {
			return nil, invalid(field, "after takes [seconds]")
		}
		return After{Seconds: doc.After[0]}, nil

	case doc.And != nil:
		if len(doc.And) != 2 {
			return nil, invalid(field, "and takes two conditions")
		}
		a, err := decodeCondition(doc.And[0], field+".and[0]")
		if err != nil {
			return nil, err
		}
		b, err := decodeCondition(doc.And[1], field+".and[1]")
		if err != nil {
			return nil, err
		}
		return And{A: a, B: b}, nil

	case doc.Or != nil:
		if len(doc.Or) != 2 {
			return nil, invalid(field, "or takes two conditions")
		}
		a, err := decodeCondition(doc.Or[0], field+".or[0]")
		if err != nil {
			return nil, err
		}
		b, err := decodeCondition(doc.Or[1], field+".or[1]")
		if err != nil {
			return nil, err
		}
		return Or{A: a, B: b}, nil

	default:
		if len(doc.Not) != 1 {
			return nil, invalid(field, "not takes one condition")
		}
		inner, err := decodeCondition(doc.Not[0], field+".not[0]")
		if err != nil {
			return nil, err
		}
		return Not{C: inner}, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
