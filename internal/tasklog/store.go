package tasklog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store appends entries to per-task JSONL files plus a raw text mirror used
// by the terminal view. Sequence numbers are strictly increasing and gap-free
// per task; counters are rebuilt from disk on first touch after a restart.
type Store struct {
	dir  string
	mu   sync.Mutex
	seqs map[string]uint64 // taskID -> last assigned seq
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	return &Store{dir: dir, seqs: make(map[string]uint64)}, nil
}

func (s *Store) entriesPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".jsonl")
}

// Path returns the raw terminal log file for a task. The file may not exist
// yet if the task never ran.
func (s *Store) Path(taskID string) string {
	return filepath.Join(s.dir, taskID+".log")
}

// Append records one entry and returns it with its assigned sequence number.
func (s *Store) Append(taskID string, kind Kind, message string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSeqLocked(taskID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		TaskID:    taskID,
		Seq:       seq,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if err := appendLine(s.entriesPath(taskID), line); err != nil {
		return nil, err
	}

	// Raw mirror: output is verbatim, lifecycle notes are tagged.
	raw := message
	if kind == KindSystem || kind == KindStatus {
		raw = fmt.Sprintf("[%s] %s", kind, message)
	}
	if err := appendLine(s.Path(taskID), []byte(raw)); err != nil {
		return nil, err
	}

	s.seqs[taskID] = seq
	return entry, nil
}

// nextSeqLocked returns the next sequence number, scanning the existing file
// once per task after a restart.
func (s *Store) nextSeqLocked(taskID string) (uint64, error) {
	if last, ok := s.seqs[taskID]; ok {
		return last + 1, nil
	}
	entries, err := s.readAll(taskID)
	if err != nil {
		return 0, err
	}
	var last uint64
	if n := len(entries); n > 0 {
		last = entries[n-1].Seq
	}
	s.seqs[taskID] = last
	return last + 1, nil
}

// Tail returns the last n entries for a task in sequence order. n <= 0
// returns everything.
func (s *Store) Tail(taskID string, n int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll(taskID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// TailText returns the last n lines of the raw terminal log.
func (s *Store) TailText(taskID string, n int) (string, error) {
	data, err := os.ReadFile(s.Path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read terminal log: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

// Exists reports whether a task has any log output.
func (s *Store) Exists(taskID string) bool {
	_, err := os.Stat(s.Path(taskID))
	return err == nil
}

func (s *Store) readAll(taskID string) ([]*Entry, error) {
	f, err := os.Open(s.entriesPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log entries: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A torn trailing line from a crash is skipped, not fatal.
			continue
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log entries: %w", err)
	}
	return entries, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}
