package operator

import (
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	store := NewMemoryStore(0, nil, discardLogger())

	a := store.GetOrCreate("chat1")
	b := store.GetOrCreate("chat1")
	if a != b {
		t.Error("same id must return the same session instance")
	}
	if store.GetOrCreate("chat2") == a {
		t.Error("different ids must return different sessions")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	store := NewMemoryStore(0, nil, discardLogger())

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = store.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(sessions); i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent GetOrCreate returned distinct sessions for one id")
		}
	}
}

func TestTrimHistoryBounds(t *testing.T) {
	messages := make([]chatMessage, 0, 50)
	for i := 0; i < 50; i++ {
		messages = append(messages, chatMessage{Role: "user", Content: strconv.Itoa(i)})
	}

	trimmed := trimHistory(messages, 40)
	if len(trimmed) != 40 {
		t.Fatalf("trimmed length = %d, want 40", len(trimmed))
	}
	if trimmed[0].Content != "10" {
		t.Errorf("oldest messages must be dropped first, got %v", trimmed[0].Content)
	}

	if got := trimHistory(messages[:5], 40); len(got) != 5 {
		t.Errorf("under the bound nothing is trimmed, got %d", len(got))
	}
}

func TestTrimHistoryNeverStartsWithToolResult(t *testing.T) {
	// An orphaned tool result at the head of history would violate the
	// request/result pairing on resubmission.
	messages := []chatMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", ToolCalls: []ToolCall{makeCall("x", "run_command", "{}")}},
		{Role: "tool", ToolCallID: "x", Content: `{"success":true}`},
		{Role: "tool", ToolCallID: "y", Content: `{"success":true}`},
		{Role: "assistant", Content: "done"},
		{Role: "user", Content: "b"},
	}

	trimmed := trimHistory(messages, 4)
	if trimmed[0].Role == "tool" {
		t.Fatalf("trimmed history starts with a tool result: %+v", trimmed[0])
	}
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	p, err := NewSQLitePersister(path)
	if err != nil {
		t.Fatalf("opening persister: %v", err)
	}
	defer p.Close()

	messages := []chatMessage{
		{Role: "user", Content: "check disk"},
		{Role: "assistant", ToolCalls: []ToolCall{makeCall("c1", "run_command", `{"command":"dir"}`)}},
		{Role: "tool", ToolCallID: "c1", Content: `{"success":true,"output":"ok"}`},
		{Role: "assistant", Content: "40GB free"},
	}
	if err := p.Save("chat1", messages, "/tmp/last.png"); err != nil {
		t.Fatalf("saving: %v", err)
	}

	got, attachment, err := p.Load("chat1")
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if len(got) != len(messages) {
		t.Fatalf("loaded %d messages, want %d", len(got), len(messages))
	}
	if got[2].ToolCallID != "c1" {
		t.Errorf("tool call id lost in round trip: %q", got[2].ToolCallID)
	}
	if attachment != "/tmp/last.png" {
		t.Errorf("attachment = %q", attachment)
	}

	// Missing row is empty, not an error.
	none, _, err := p.Load("unknown")
	if err != nil || none != nil {
		t.Errorf("missing session should load empty, got %v, %v", none, err)
	}

	// Upsert replaces history.
	if err := p.Save("chat1", messages[:1], ""); err != nil {
		t.Fatalf("resaving: %v", err)
	}
	got, _, _ = p.Load("chat1")
	if len(got) != 1 {
		t.Errorf("upsert did not replace history, got %d messages", len(got))
	}
}

func TestMemoryStoreRestoresFromPersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	p, err := NewSQLitePersister(path)
	if err != nil {
		t.Fatalf("opening persister: %v", err)
	}
	defer p.Close()

	if err := p.Save("chat1", []chatMessage{{Role: "user", Content: "hello"}}, ""); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	store := NewMemoryStore(0, p, discardLogger())
	s := store.GetOrCreate("chat1")
	if len(s.messages) != 1 {
		t.Fatalf("restored %d messages, want 1", len(s.messages))
	}
}
