// Package journal persists run events as append-only JSONL files, one file per run.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const journalFileExt = ".jsonl"

// MaxFieldBytes bounds Entry.Content and Entry.Data as written to disk.
const MaxFieldBytes = 64 * 1024

// Entry types written by the run engine.
const (
	TypeStatus    = "status"
	TypeStep      = "step"
	TypeMessage   = "message"
	TypeToolCall  = "tool_call"
	TypeToolError = "tool_error"
)

var (
	ErrJournalDirRequired = errors.New("journal directory is required")
	ErrRunIDRequired      = errors.New("run id is required")
	ErrInvalidRunID       = errors.New("invalid run id")
	ErrEntryTypeRequired  = errors.New("entry type is required")
	ErrRunNotFound        = errors.New("run journal not found")
)

// Entry is one append-only record in a run journal.
type Entry struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	StepID    string          `json:"step_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
	TS        int64           `json:"ts"`
}

// Info describes one journal file on disk.
type Info struct {
	RunID     string
	Path      string
	UpdatedAt time.Time
	SizeBytes int64
}

// Store appends journal entries under dir.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore constructs a journal store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrJournalDirRequired
	}
	return &Store{dir: root}, nil
}

// Append appends one entry to the run's journal.
func (s *Store) Append(ctx context.Context, runID string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.journalPath(runID)
	if err != nil {
		return err
	}

	entry.Type = strings.TrimSpace(entry.Type)
	if entry.Type == "" {
		return ErrEntryTypeRequired
	}
	if entry.TS <= 0 {
		entry.TS = time.Now().UnixMilli()
	}

	raw, err := json.Marshal(capFields(entry))
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir %s: %w", s.dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(raw); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Load reads every entry of one run journal in append order.
func (s *Store) Load(ctx context.Context, runID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.journalPath(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, strings.TrimSpace(runID))
	}
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	dec := json.NewDecoder(file)
	for {
		var entry Entry
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode journal entry %d of run %s: %w", len(entries)+1, runID, err)
		}
		entries = append(entries, entry)
	}
}

// List returns known journals, most recently written first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+journalFileExt))
	if err != nil {
		return nil, fmt.Errorf("list journals in %s: %w", s.dir, err)
	}

	infos := make([]Info, 0, len(paths))
	for _, path := range paths {
		stat, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat journal %s: %w", path, err)
		}
		if !stat.Mode().IsRegular() {
			continue
		}
		infos = append(infos, Info{
			RunID:     strings.TrimSuffix(filepath.Base(path), journalFileExt),
			Path:      path,
			UpdatedAt: stat.ModTime(),
			SizeBytes: stat.Size(),
		})
	}

	slices.SortFunc(infos, func(a, b Info) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.RunID, a.RunID)
	})
	return infos, nil
}

// capFields bounds the payload an entry can carry. Oversized Content keeps its
// prefix; oversized Data is dropped since a prefix of it is not valid JSON.
func capFields(entry Entry) Entry {
	if len(entry.Content) > MaxFieldBytes {
		cut := MaxFieldBytes
		for cut > 0 && !utf8.RuneStart(entry.Content[cut]) {
			cut--
		}
		entry.Content = entry.Content[:cut]
		entry.Truncated = true
	}
	if len(entry.Data) > MaxFieldBytes {
		entry.Data = nil
		entry.Truncated = true
	}
	return entry
}

func (s *Store) journalPath(runID string) (string, error) {
	id := strings.TrimSpace(runID)
	if id == "" {
		return "", ErrRunIDRequired
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidRunID, id)
	}
	return filepath.Join(s.dir, id+journalFileExt), nil
}
