package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/roguebench/roguebench/internal/platform/errors"
)

// Status records the outcome of a journaled submission.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// JournalEntry is one journaled submission. Seq is the replay identity;
// Timestamp is carried for humans and excluded from replay semantics.
type JournalEntry struct {
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Source    string          `json:"source,omitempty"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Journal is an append-only record of every submission, in drain order.
type Journal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) record(seq uint64, cmd Command, status Status, reason string, at time.Time) {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		log.Printf("journal: marshal %s payload: %v", cmd.Kind, err)
		payload = json.RawMessage("null")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, JournalEntry{
		Seq:       seq,
		Kind:      cmd.Kind,
		Source:    cmd.Source,
		Status:    status,
		Reason:    reason,
		Payload:   payload,
		Timestamp: at,
	})
}

// Entries returns a copy of all journaled submissions in order.
func (j *Journal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Len returns the number of journaled submissions.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// SaveFile writes the journal as JSONL, one entry per line.
func (j *Journal) SaveFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create journal file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, entry := range j.Entries() {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry %d: %w", entry.Seq, err)
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write journal entry %d: %w", entry.Seq, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

// LoadJournal reads a JSONL journal file.
func LoadJournal(path string) (*Journal, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	defer file.Close()

	journal := NewJournal()
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, errors.WrapWithMetadata(errors.CodeJournalCorrupt,
				fmt.Sprintf("journal line %d is not valid JSON", line),
				map[string]string{"line": fmt.Sprintf("%d", line)}, err)
		}
		journal.entries = append(journal.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}
	return journal, nil
}

// DecodeFunc re-materializes a journaled payload for replay.
type DecodeFunc func(json.RawMessage) (any, error)

// RegisterDecoder binds a payload decoder for one command kind, used by
// Replay. Kinds without a decoder fall back to generic JSON decoding.
func (b *Bus) RegisterDecoder(kind string, decode DecodeFunc) error {
	if kind == "" {
		return fmt.Errorf("command kind is required")
	}
	if decode == nil {
		return fmt.Errorf("decoder is required")
	}
	b.decodeMu.Lock()
	defer b.decodeMu.Unlock()
	b.decoders[kind] = decode
	return nil
}

// DecodePayload re-materializes a raw JSON payload as the typed payload for
// kind. Kinds without a registered decoder fall back to generic JSON.
func (b *Bus) DecodePayload(kind string, raw json.RawMessage) (any, error) {
	b.decodeMu.Lock()
	decode, hasDecoder := b.decoders[kind]
	b.decodeMu.Unlock()

	if hasDecoder {
		return decode(raw)
	}
	var payload any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// Replay re-submits the executed entries of a journal in order. Running a
// replay against a fresh bus with the same executors must produce the same
// final state; rejected and failed entries never mutated state and are
// skipped.
func (b *Bus) Replay(ctx context.Context, entries []JournalEntry) error {
	for _, entry := range entries {
		if entry.Status != StatusExecuted {
			continue
		}

		payload, err := b.DecodePayload(entry.Kind, entry.Payload)
		if err != nil {
			return errors.WrapWithMetadata(errors.CodeJournalCorrupt,
				fmt.Sprintf("decode journaled %s payload", entry.Kind),
				map[string]string{"kind": entry.Kind, "seq": fmt.Sprintf("%d", entry.Seq)}, err)
		}

		cmd := Command{Kind: entry.Kind, Payload: payload, Source: entry.Source}
		if _, err := b.Submit(ctx, cmd); err != nil {
			return fmt.Errorf("replay entry %d (%s): %w", entry.Seq, entry.Kind, err)
		}
	}
	return nil
}
