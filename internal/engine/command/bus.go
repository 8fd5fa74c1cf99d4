package command

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roguebench/roguebench/internal/platform/errors"
)

type processingKey struct{}

// Bus serializes command processing into a single total order. Concurrent
// producers may call Submit; a mutex decides the order and every submission
// observes it. Executors and subscribers run inside that critical section
// and must use Enqueue for follow-up commands.
type Bus struct {
	mu         sync.Mutex
	executors  map[string]ExecutorFunc
	validators map[string][]ValidatorFunc
	subs       map[string][]SubscriberFunc
	allSubs    []SubscriberFunc
	nextSeq    uint64

	// decoders has its own lock so DecodePayload stays callable from
	// inside executors and subscribers, where mu is already held.
	decodeMu sync.Mutex
	decoders map[string]DecodeFunc

	pendingMu sync.Mutex
	pending   []Command

	journal *Journal
	now     func() time.Time
}

// NewBus creates a bus with an empty journal.
func NewBus() *Bus {
	return &Bus{
		executors:  map[string]ExecutorFunc{},
		validators: map[string][]ValidatorFunc{},
		subs:       map[string][]SubscriberFunc{},
		decoders:   map[string]DecodeFunc{},
		nextSeq:    1,
		journal:    NewJournal(),
		now:        time.Now,
	}
}

// Journal returns the bus journal.
func (b *Bus) Journal() *Journal {
	return b.journal
}

// RegisterExecutor binds the single executor for a command kind.
// Registering a second executor for the same kind is an error.
func (b *Bus) RegisterExecutor(kind string, exec ExecutorFunc) error {
	if kind == "" {
		return fmt.Errorf("command kind is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.executors[kind]; exists {
		return errors.WithMetadata(errors.CodeExecutorDuplicate,
			fmt.Sprintf("executor already registered for %q", kind),
			map[string]string{"kind": kind})
	}
	b.executors[kind] = exec
	return nil
}

// RegisterValidator appends a validator for a command kind. Validators run
// in registration order; the first failure rejects the command.
func (b *Bus) RegisterValidator(kind string, validate ValidatorFunc) error {
	if kind == "" {
		return fmt.Errorf("command kind is required")
	}
	if validate == nil {
		return fmt.Errorf("validator is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validators[kind] = append(b.validators[kind], validate)
	return nil
}

// Subscribe registers a subscriber for one command kind. Subscribers are
// notified synchronously, in subscription order, after execution succeeds.
func (b *Bus) Subscribe(kind string, sub SubscriberFunc) error {
	if kind == "" {
		return fmt.Errorf("command kind is required")
	}
	if sub == nil {
		return fmt.Errorf("subscriber is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], sub)
	return nil
}

// SubscribeAll registers a subscriber for every command kind. Catch-all
// subscribers run after kind-specific ones.
func (b *Bus) SubscribeAll(sub SubscriberFunc) error {
	if sub == nil {
		return fmt.Errorf("subscriber is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
	return nil
}

// Submit validates, executes, and journals one command, then drains any
// commands enqueued during processing, in FIFO order, before returning.
//
// Submit must not be called from inside an executor or subscriber; those
// call Enqueue. A re-entrant Submit is rejected.
func (b *Bus) Submit(ctx context.Context, cmd Command) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(processingKey{}) != nil {
		return Result{}, errors.WithMetadata(errors.CodeBusReentrantSubmit,
			"submit called during command processing; use Enqueue",
			map[string]string{"kind": cmd.Kind})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	result, err := b.process(ctx, cmd)
	b.drainPending(ctx)
	return result, err
}

// Enqueue defers a command until the current submission finishes. Safe to
// call from executors and subscribers. Commands enqueued outside of a
// submission are drained by the next Submit or Drain call.
func (b *Bus) Enqueue(cmd Command) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	b.pending = append(b.pending, cmd)
}

// Drain processes all currently enqueued commands in FIFO order. Failures
// are journaled and logged, not returned; the journal is the record.
func (b *Bus) Drain(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainPending(ctx)
}

func (b *Bus) drainPending(ctx context.Context) {
	for {
		b.pendingMu.Lock()
		if len(b.pending) == 0 {
			b.pendingMu.Unlock()
			return
		}
		cmd := b.pending[0]
		b.pending = b.pending[1:]
		b.pendingMu.Unlock()

		if _, err := b.process(ctx, cmd); err != nil {
			log.Printf("deferred command %s: %v", cmd.Kind, err)
		}
	}
}

// process runs one command end to end. Caller holds b.mu.
func (b *Bus) process(ctx context.Context, cmd Command) (Result, error) {
	ctx, span := otel.Tracer("command").Start(ctx, "bus.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("command.kind", cmd.Kind),
		attribute.String("command.source", cmd.Source),
	)

	seq := b.nextSeq
	b.nextSeq++
	now := b.now()

	if cmd.Kind == "" {
		b.journal.record(seq, cmd, StatusRejected, "command kind is empty", now)
		span.SetAttributes(attribute.String("command.outcome", "rejected"))
		return Result{}, errors.New(errors.CodeCommandKindEmpty, "command kind is empty")
	}

	exec, ok := b.executors[cmd.Kind]
	if !ok {
		b.journal.record(seq, cmd, StatusRejected, "no executor registered", now)
		span.SetAttributes(attribute.String("command.outcome", "rejected"))
		return Result{}, errors.WithMetadata(errors.CodeCommandKindUnknown,
			fmt.Sprintf("no executor registered for %q", cmd.Kind),
			map[string]string{"kind": cmd.Kind})
	}

	for _, validate := range b.validators[cmd.Kind] {
		if err := validate(ctx, cmd); err != nil {
			b.journal.record(seq, cmd, StatusRejected, err.Error(), now)
			span.SetAttributes(attribute.String("command.outcome", "rejected"))
			return Result{}, errors.WrapWithMetadata(errors.CodeCommandRejected,
				fmt.Sprintf("command %s rejected", cmd.Kind),
				map[string]string{"kind": cmd.Kind, "reason": err.Error()}, err)
		}
	}

	execCtx := context.WithValue(ctx, processingKey{}, struct{}{})
	output, err := exec(execCtx, cmd)
	if err != nil {
		b.journal.record(seq, cmd, StatusFailed, err.Error(), now)
		span.SetAttributes(attribute.String("command.outcome", "failed"))
		return Result{}, errors.WrapWithMetadata(errors.CodeExecutionFailed,
			fmt.Sprintf("command %s failed", cmd.Kind),
			map[string]string{"kind": cmd.Kind}, err)
	}

	b.journal.record(seq, cmd, StatusExecuted, "", now)
	span.SetAttributes(attribute.String("command.outcome", "executed"))

	ev := Event{Seq: seq, Command: cmd, Output: output, Timestamp: now}
	for _, sub := range b.subs[cmd.Kind] {
		sub(execCtx, ev)
	}
	for _, sub := range b.allSubs {
		sub(execCtx, ev)
	}

	return Result{Seq: seq, Output: output}, nil
}
