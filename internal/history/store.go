// Package history is the durable set of (identifier, serial) pairs that have
// already been saved. It is backed by an append-only text log, one record per
// line: "<identifier>,<serial>,<RFC3339 timestamp>".
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

// Record is one committed pair with the time it was first seen.
type Record struct {
	Pair
	SeenAt time.Time `json:"seen_at"`
}

// Store holds the whole log in memory. The monitor loop is its only writer;
// readers may call Contains, Len and Records concurrently.
type Store struct {
	path    string
	mu      sync.RWMutex
	f       logFile
	set     map[Pair]struct{}
	records []Record
}

// logFile is the slice of *os.File the store writes through.
type logFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// Open loads the log at path, creating it (and its directory) if absent.
// Any unreadable or malformed line fails with DEDUP_CORRUPT. A last line
// missing its newline is terminated so the next commit starts a new line.
func Open(path string) (*Store, error) {
	records, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, set: make(map[Pair]struct{}, len(records))}
	for _, rec := range records {
		s.set[rec.Pair] = struct{}{}
	}
	s.records = records

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.PersistFailed, "create history dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.DedupCorrupt, "open history %s", path)
	}
	if err := terminate(f); err != nil {
		f.Close()
		return nil, apperrors.Wrapf(err, apperrors.PersistFailed, "repair history %s", path)
	}
	s.f = f
	return s, nil
}

// terminate appends a newline when the file is non-empty and does not end
// with one.
func terminate(f *os.File) error {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

// ReadFile parses the log at path without opening it for writing. Duplicate
// lines are collapsed to the first. A missing file yields no records.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.DedupCorrupt, "read history %s", path)
	}
	defer f.Close()

	var out []Record
	seen := make(map[Pair]struct{})
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.DedupCorrupt, "history %s line %d", path, n).
				WithMetadata("line", line)
		}
		if _, dup := seen[rec.Pair]; dup {
			continue
		}
		seen[rec.Pair] = struct{}{}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.DedupCorrupt, "read history %s", path)
	}
	return out, nil
}

func parseRecord(line string) (Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("want 3 fields, got %d", len(parts))
	}
	p := Pair{Identifier: strings.TrimSpace(parts[0]), Serial: strings.TrimSpace(parts[1])}
	if !p.Valid() {
		return Record{}, errors.New("empty identifier or serial")
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}
	return Record{Pair: p, SeenAt: ts}, nil
}

func formatRecord(r Record) string {
	return fmt.Sprintf("%s,%s,%s\n", r.Identifier, r.Serial, r.SeenAt.Format(time.RFC3339))
}

// Contains reports whether p has been committed.
func (s *Store) Contains(p Pair) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[p]
	return ok
}

// Commit durably records p. The line is appended and fsynced before Commit
// returns; the in-memory set changes only after that succeeds. Committing a
// pair that is already present is a no-op.
func (s *Store) Commit(p Pair, seenAt time.Time) error {
	if !p.Valid() {
		return apperrors.Newf(apperrors.Internal, "refusing to commit incomplete pair %q", p.String())
	}
	if strings.ContainsAny(p.Identifier+p.Serial, ",\n") {
		return apperrors.Newf(apperrors.Internal, "pair %q contains a separator", p.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[p]; ok {
		return nil
	}
	if s.f == nil {
		return apperrors.New(apperrors.PersistFailed, "history store is closed")
	}

	fi, err := s.f.Stat()
	if err != nil {
		return apperrors.Wrapf(err, apperrors.PersistFailed, "stat history %s", s.path)
	}
	rec := Record{Pair: p, SeenAt: seenAt}
	if err := s.append(formatRecord(rec)); err != nil {
		// Drop any partial line so the next commit starts clean.
		if terr := s.f.Truncate(fi.Size()); terr != nil {
			err = errors.Join(err, terr)
		}
		return apperrors.Wrapf(err, apperrors.PersistFailed, "append history %s", s.path)
	}
	s.set[p] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) append(line string) error {
	if _, err := s.f.Write([]byte(line)); err != nil {
		return err
	}
	return s.f.Sync()
}

// Len returns the number of committed pairs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns committed records in commit order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Close releases the log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
