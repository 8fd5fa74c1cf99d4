// Package command routes every state mutation through a single bus so that
// mutations are observable, journaled, and replayable.
package command

import (
	"context"
	"time"
)

// Well-known command sources.
const (
	SourcePlayer = "player"
	SourceSystem = "system"
	SourceScript = "script"
	SourceReplay = "replay"
)

// Command is a request to mutate runtime state. It is immutable once
// submitted; the payload type is owned by whoever registers the kind.
type Command struct {
	Kind    string
	Payload any
	Source  string
}

// Result is returned from a successful submission.
type Result struct {
	Seq    uint64
	Output any
}

// Event describes a completed execution. Events are dispatched to
// subscribers synchronously, after the executor has run.
type Event struct {
	Seq       uint64
	Command   Command
	Output    any
	Timestamp time.Time
}

// ExecutorFunc applies a command. Executors are the only place state
// mutation is allowed to happen.
type ExecutorFunc func(ctx context.Context, cmd Command) (any, error)

// ValidatorFunc checks a command before execution. A non-nil error rejects
// the command with no state change and no event.
type ValidatorFunc func(ctx context.Context, cmd Command) error

// SubscriberFunc observes executed commands. Subscribers must not mutate
// state directly; they enqueue follow-up commands instead.
type SubscriberFunc func(ctx context.Context, ev Event)
