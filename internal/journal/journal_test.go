package journal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestStoreAppendAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Append(ctx, "run_1", Entry{Type: TypeStatus, From: "queued", To: "in_progress", TS: 1}); err != nil {
		t.Fatalf("Append(status) error = %v", err)
	}
	if err := store.Append(ctx, "run_1", Entry{Type: TypeToolCall, StepID: "step_1", Tool: "save_snippet", Content: "ok", TS: 2}); err != nil {
		t.Fatalf("Append(tool_call) error = %v", err)
	}

	entries, err := store.Load(ctx, "run_1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Load() entries = %d, want 2", len(entries))
	}
	if entries[0].Type != TypeStatus || entries[0].To != "in_progress" {
		t.Fatalf("first entry = %#v, want status to in_progress", entries[0])
	}
	if entries[1].Tool != "save_snippet" || entries[1].StepID != "step_1" {
		t.Fatalf("second entry = %#v, want save_snippet tool call", entries[1])
	}
}

func TestStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Load() error = %v, want ErrRunNotFound", err)
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewStore(" "); !errors.Is(err, ErrJournalDirRequired) {
		t.Fatalf("NewStore(blank) error = %v, want ErrJournalDirRequired", err)
	}
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Append(ctx, "", Entry{Type: TypeStatus}); !errors.Is(err, ErrRunIDRequired) {
		t.Fatalf("Append(no id) error = %v, want ErrRunIDRequired", err)
	}
	if err := store.Append(ctx, "../x", Entry{Type: TypeStatus}); !errors.Is(err, ErrInvalidRunID) {
		t.Fatalf("Append(../x) error = %v, want ErrInvalidRunID", err)
	}
	if err := store.Append(ctx, "run", Entry{}); !errors.Is(err, ErrEntryTypeRequired) {
		t.Fatalf("Append(no type) error = %v, want ErrEntryTypeRequired", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if got, err := store.List(context.Background()); err != nil || len(got) != 0 {
		t.Fatalf("List() on missing dir = %v, %v; want empty, nil", got, err)
	}

	if err := store.Append(context.Background(), "r1", Entry{Type: TypeStatus}); err != nil {
		t.Fatalf("Append(r1) error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := store.Append(context.Background(), "r2", Entry{Type: TypeStatus}); err != nil {
		t.Fatalf("Append(r2) error = %v", err)
	}

	got, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].RunID != "r2" || got[1].RunID != "r1" {
		t.Fatalf("List() = %#v, want [r2 r1]", got)
	}
	if _, err := os.Stat(got[0].Path); err != nil {
		t.Fatalf("journal file path not found: %v", err)
	}
}

func TestStoreAppendFillsTimestamp(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.Append(context.Background(), "ts", Entry{Type: TypeMessage}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	entries, err := store.Load(context.Background(), "ts")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 1 || entries[0].TS <= 0 {
		t.Fatalf("entries = %#v, want one entry with TS > 0", entries)
	}
}

func TestStoreLargeEntriesStayReadable(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	big := strings.Repeat("é", 2*1024*1024)
	args, err := json.Marshal(map[string]string{"snippetname": "big", "snippet": big})
	if err != nil {
		t.Fatalf("marshal arguments: %v", err)
	}
	if err := store.Append(ctx, "big", Entry{Type: TypeToolCall, Tool: "save_snippet", Content: big, Data: args}); err != nil {
		t.Fatalf("Append(big) error = %v", err)
	}
	if err := store.Append(ctx, "big", Entry{Type: TypeStatus, To: "completed"}); err != nil {
		t.Fatalf("Append(status) error = %v", err)
	}

	entries, err := store.Load(ctx, "big")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Load() entries = %d, want 2", len(entries))
	}
	first := entries[0]
	if !first.Truncated || first.Data != nil {
		t.Fatalf("first entry truncated = %v, data bytes = %d; want truncated without data", first.Truncated, len(first.Data))
	}
	if len(first.Content) > MaxFieldBytes || !utf8.ValidString(first.Content) || !strings.HasPrefix(big, first.Content) {
		t.Fatalf("content = %d bytes, want a valid prefix of at most %d", len(first.Content), MaxFieldBytes)
	}
	if entries[1].To != "completed" || entries[1].Truncated {
		t.Fatalf("second entry = %#v, want untouched status", entries[1])
	}
}
