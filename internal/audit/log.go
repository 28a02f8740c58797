// Package audit keeps the append-only trail of every extraction, flag and
// resolution so each final number can be traced back to its source page.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/model"
)

// ErrInvalidStage is returned for entries carrying an unknown stage.
var ErrInvalidStage = errors.New("invalid audit stage")

// ErrChainBroken is returned by Verify when entries were altered, dropped or reordered.
var ErrChainBroken = errors.New("audit chain broken")

// Recorder is the write side of the log used by pipeline stages.
type Recorder interface {
	Record(boxID string, stage model.Stage, detail string) error
}

// Sink persists entries as they are appended.
type Sink interface {
	AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error
}

// Option configures a Log.
type Option func(*Log)

// WithSink mirrors every appended entry to s. An entry is only visible in
// the log once the sink accepted it.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is safe for concurrent writers. Each entry is appended atomically and
// chained to its predecessor by hash.
type Log struct {
	sink     Sink
	now      func() time.Time
	err      error
	byBox    map[string][]int
	lastHash string
	entries  []model.AuditEntry
	mu       sync.RWMutex
}

// NewLog creates an empty log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		now:   func() time.Time { return time.Now().UTC() },
		byBox: make(map[string][]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry for boxID at stage.
func (l *Log) Record(boxID string, stage model.Stage, detail string) error {
	_, err := l.Append(model.AuditEntry{BoxID: boxID, Stage: stage, Detail: detail})
	return err
}

// Append assigns the sequence number, timestamp and hash to entry and stores it.
// A sink failure is also kept as the log's sticky error, see Err.
func (l *Log) Append(entry model.AuditEntry) (model.AuditEntry, error) {
	if !entry.Stage.Valid() {
		return model.AuditEntry{}, fmt.Errorf("%w: %q", ErrInvalidStage, entry.Stage)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Seq = int64(len(l.entries)) + 1
	entry.PrevHash = l.lastHash
	entry.Hash = HashEntry(entry)

	if l.sink != nil {
		if err := l.sink.AppendAuditEntry(context.Background(), entry); err != nil {
			err = fmt.Errorf("failed to persist audit entry %d: %w", entry.Seq, err)
			if l.err == nil {
				l.err = err
			}
			return model.AuditEntry{}, err
		}
	}

	l.entries = append(l.entries, entry)
	l.byBox[entry.BoxID] = append(l.byBox[entry.BoxID], len(l.entries)-1)
	l.lastHash = entry.Hash
	return entry, nil
}

// Entries returns a copy of the whole trail in append order.
func (l *Log) Entries() []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ForBox returns the entries written for one box, in append order.
func (l *Log) ForBox(boxID string) []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.byBox[boxID]
	out := make([]model.AuditEntry, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Err returns the first sink failure, if any.
func (l *Log) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// HashEntry computes the chain hash of entry over its predecessor's hash.
func HashEntry(e model.AuditEntry) string {
	h := sha256.New()
	for _, part := range []string{
		e.PrevHash,
		strconv.FormatInt(e.Seq, 10),
		e.BoxID,
		string(e.Stage),
		e.Detail,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks that entries form an unbroken chain starting at sequence 1.
func Verify(entries []model.AuditEntry) error {
	prev := ""
	for i, e := range entries {
		if want := int64(i) + 1; e.Seq != want {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, want, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d does not link to its predecessor", ErrChainBroken, e.Seq)
		}
		if HashEntry(e) != e.Hash {
			return fmt.Errorf("%w: entry %d content does not match its hash", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

// Verify checks the chain held by the log.
func (l *Log) Verify() error {
	return Verify(l.Entries())
}
