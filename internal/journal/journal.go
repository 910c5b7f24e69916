// Package journal records settled mutations in an append-only JSONL file.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one settled mutation.
type Entry struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	TableID  string    `json:"tableId"`
	TempID   string    `json:"tempId,omitempty"`
	ID       string    `json:"id,omitempty"`
	State    string    `json:"state"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	// Inconsistent is set when part of the rollback was skipped.
	Inconsistent bool `json:"inconsistent,omitempty"`
}

// Log handles storage and in-memory caching of the journal.
//
// A nil *Log records nothing.
type Log struct {
	path string
	// max is the number of entries kept by Compact.
	max int

	mu   sync.RWMutex
	rows []Entry
}

// Open loads the journal at path. maxEntries bounds the entries kept when the file
// is compacted; 0 keeps everything.
func Open(path string, maxEntries int) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	l := &Log{path: path, max: maxEntries}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open journal %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	var rows []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("failed to unmarshal entry in %s: %w", l.path, err)
		}
		rows = append(rows, e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read journal %s: %w", l.path, err)
	}
	l.rows = rows
	return nil
}

// Append adds an entry and persists it. The journal is compacted once it
// holds twice its maximum.
func (l *Log) Append(e Entry) error {
	if l == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal for append: %w", err)
	}
	_, err = f.Write(data)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	l.rows = append(l.rows, e)
	if l.max > 0 && len(l.rows) >= 2*l.max {
		return l.replaceLocked(l.rows[len(l.rows)-l.max:])
	}
	return nil
}

// Recent returns up to n of the latest entries, newest first. n <= 0
// returns every entry.
func (l *Log) Recent(n int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.rows) {
		n = len(l.rows)
	}
	out := make([]Entry, 0, n)
	for i := len(l.rows) - 1; i >= len(l.rows)-n; i-- {
		out = append(out, l.rows[i])
	}
	return out
}

// Compact rewrites the file keeping only the latest entries.
func (l *Log) Compact() error {
	if l == nil || l.max <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rows) <= l.max {
		return nil
	}
	return l.replaceLocked(l.rows[len(l.rows)-l.max:])
}

// replaceLocked replaces all entries with rows through a temporary file.
func (l *Log) replaceLocked(rows []Entry) error {
	tmp := l.path + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // G304: path is constructed from the data dir
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range rows {
		data, err := json.Marshal(e)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		_, _ = w.Write(data)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	l.rows = append([]Entry(nil), rows...)
	return nil
}
