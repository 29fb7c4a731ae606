// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/dockvault/dockpilot/internal/domain/journal"
)

const defaultRecentCap = 1000

// JournalStore implements journal.Store with a bounded in-memory ring buffer.
// When a writer is set, every record is also written to it as a JSON line.
type JournalStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []journal.Record
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewJournalStore creates a journal store that only keeps records in memory.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewJournalStore(capacity ...int) *JournalStore {
	return NewJournalStoreWithWriter(nil, capacity...)
}

// NewJournalStoreWithWriter creates a journal store that also writes JSON
// lines to w. A nil w disables writing.
func NewJournalStoreWithWriter(w io.Writer, capacity ...int) *JournalStore {
	c := resolveCapacity(capacity...)
	s := &JournalStore{
		writer: w,
		recent: make([]journal.Record, 0, c),
		cap:    c,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records to the output, if any, and keeps them in the ring buffer.
func (s *JournalStore) Append(_ context.Context, records ...journal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Flush is a no-op; records are written synchronously.
func (s *JournalStore) Flush(context.Context) error {
	return nil
}

// Close closes the output if it is a file other than stdout/stderr.
func (s *JournalStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query returns records matching filter from the ring buffer, newest first.
func (s *JournalStore) Query(_ context.Context, filter journal.Filter) ([]journal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	var result []journal.Record
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Match(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Compile-time interface verification.
var (
	_ journal.Store      = (*JournalStore)(nil)
	_ journal.QueryStore = (*JournalStore)(nil)
)
