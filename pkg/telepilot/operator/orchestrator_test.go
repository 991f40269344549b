package operator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedLLM replays a fixed sequence of responses, repeating the last one
// when the sequence runs out.
type scriptedLLM struct {
	responses []*LLMResponse
	err       error
	calls     int
	received  [][]chatMessage
}

func (f *scriptedLLM) CompleteWithTools(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	f.calls++
	f.received = append(f.received, messages)
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

// recordingInvoker records invocations and returns canned envelopes.
type recordingInvoker struct {
	calls   []string
	results map[string]ResultEnvelope
}

func (r *recordingInvoker) Invoke(ctx context.Context, name, argsJSON string) ResultEnvelope {
	r.calls = append(r.calls, name)
	if env, ok := r.results[name]; ok {
		return env
	}
	return ResultEnvelope{Success: true, Output: "ok"}
}

func makeCall(id, name, args string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

func textResponse(text string) *LLMResponse {
	return &LLMResponse{Content: text, FinishReason: "stop"}
}

func toolResponse(calls ...ToolCall) *LLMResponse {
	return &LLMResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}

func newTestOrchestrator(llm LLMCaller, invoker ToolInvoker) (*Orchestrator, *MemoryStore) {
	store := NewMemoryStore(0, nil, discardLogger())
	return NewOrchestrator(llm, invoker, store, "you operate a machine", discardLogger()), store
}

func TestRunPlainTextResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{textResponse("the disk has 40GB free")}}
	inv := &recordingInvoker{}
	o, store := newTestOrchestrator(llm, inv)

	res, err := o.Run(context.Background(), "chat1", "how much disk space?", Policy{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalText != "the disk has 40GB free" {
		t.Errorf("final text = %q", res.FinalText)
	}
	if len(inv.calls) != 0 {
		t.Errorf("no tools should have run, got %v", inv.calls)
	}

	s := store.GetOrCreate("chat1")
	if len(s.messages) != 2 {
		t.Fatalf("history length = %d, want 2 (user + assistant)", len(s.messages))
	}
	if s.messages[0].Role != "user" || s.messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", s.messages[0].Role, s.messages[1].Role)
	}
}

func TestStepConfirmDefersSecondCall(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolResponse(
			makeCall("call_1", "run_command", `{"command":"dir"}`),
			makeCall("call_2", "run_command", `{"command":"tasklist"}`),
		),
		textResponse("done"),
	}}
	inv := &recordingInvoker{}
	o, store := newTestOrchestrator(llm, inv)

	if _, err := o.Run(context.Background(), "chat1", "list files then processes", Policy{StepConfirm: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(inv.calls) != 1 {
		t.Fatalf("exactly one call should execute for real, got %d", len(inv.calls))
	}

	results := toolResults(t, store.GetOrCreate("chat1").messages)
	if len(results) != 2 {
		t.Fatalf("expected 2 tool result records, got %d", len(results))
	}
	if results["call_1"].Deferred {
		t.Error("first call should have executed, not deferred")
	}
	if !results["call_2"].Deferred {
		t.Error("second call should be deferred")
	}
	if !results["call_2"].Success {
		t.Error("deferred result should be a successful no-op")
	}
}

func TestFingerprintDedupSkipsSecondBrowse(t *testing.T) {
	browseArgs := `{"url":"https://example.com","task":"read the headline"}`
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolResponse(
			makeCall("call_1", "browse_site", browseArgs),
			makeCall("call_2", "browse_site", browseArgs),
		),
		textResponse("done"),
	}}
	inv := &recordingInvoker{results: map[string]ResultEnvelope{
		"browse_site": {Success: true, Output: "headline: example"},
	}}
	o, store := newTestOrchestrator(llm, inv)

	if _, err := o.Run(context.Background(), "chat1", "read example.com", Policy{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(inv.calls) != 1 {
		t.Fatalf("identical browse should execute once, got %d executions", len(inv.calls))
	}
	results := toolResults(t, store.GetOrCreate("chat1").messages)
	if !results["call_2"].Deduplicated {
		t.Error("second identical browse should be marked deduplicated")
	}
	if !results["call_2"].Success {
		t.Error("deduplicated result should report success")
	}
}

func TestMaxIterationsTerminatesRun(t *testing.T) {
	// The service always requests another tool call.
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolResponse(makeCall("call_x", "run_command", `{"command":"dir"}`)),
	}}
	inv := &recordingInvoker{}
	o, _ := newTestOrchestrator(llm, inv)

	res, err := o.Run(context.Background(), "chat1", "loop forever", Policy{MaxIterations: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 3 {
		t.Errorf("reasoning service called %d times, want 3", llm.calls)
	}
	if len(inv.calls) != 3 {
		t.Errorf("tool executed %d times, want 3", len(inv.calls))
	}
	if strings.TrimSpace(res.FinalText) == "" {
		t.Error("final text must be non-empty at the iteration cap")
	}
}

func TestStopAfterBrowseEndsRunWithFixedMessage(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolResponse(makeCall("call_1", "browse_site", `{"url":"https://example.com","task":"check"}`)),
		toolResponse(makeCall("call_2", "run_command", `{"command":"dir"}`)),
	}}
	inv := &recordingInvoker{results: map[string]ResultEnvelope{
		"browse_site": {Success: true, Output: "checked"},
	}}
	o, _ := newTestOrchestrator(llm, inv)

	res, err := o.Run(context.Background(), "chat1", "check example.com", Policy{StopAfterBrowse: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalText != browseCompletionMessage {
		t.Errorf("final text = %q, want the fixed completion message", res.FinalText)
	}
	if llm.calls != 1 {
		t.Errorf("run should not resubmit after the successful browse, llm calls = %d", llm.calls)
	}
	if len(inv.calls) != 1 {
		t.Errorf("only the browse should have executed, got %v", inv.calls)
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	calls := []ToolCall{
		makeCall("id_a", "run_command", `{"command":"dir"}`),
		makeCall("id_b", "capture_screen", `{}`),
		makeCall("id_c", "run_command", `{"command":"tasklist"}`),
	}
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolResponse(calls...),
		textResponse("all done"),
	}}
	o, store := newTestOrchestrator(llm, &recordingInvoker{})

	if _, err := o.Run(context.Background(), "chat1", "do three things", Policy{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	messages := store.GetOrCreate("chat1").messages
	// Locate the assistant turn, then verify the following messages are
	// exactly one tool result per request, in order, with matching ids.
	var idx int
	for i, m := range messages {
		if m.Role == "assistant" && len(m.ToolCalls) == 3 {
			idx = i + 1
			break
		}
	}
	if idx == 0 {
		t.Fatal("assistant turn with tool calls not found in history")
	}

	seen := map[string]bool{}
	for i, call := range calls {
		m := messages[idx+i]
		if m.Role != "tool" {
			t.Fatalf("message %d after assistant turn has role %q, want tool", i, m.Role)
		}
		if m.ToolCallID != call.ID {
			t.Errorf("result %d has call_id %q, want %q (order must match)", i, m.ToolCallID, call.ID)
		}
		if seen[m.ToolCallID] {
			t.Errorf("duplicate tool result for %q", m.ToolCallID)
		}
		seen[m.ToolCallID] = true
	}
	if len(seen) != len(calls) {
		t.Errorf("got %d distinct results, want %d", len(seen), len(calls))
	}
}

func TestRunCollectsMediaOutputs(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		toolResponse(makeCall("call_1", "capture_screen", `{"caption":"desktop"}`)),
		textResponse("screenshot taken"),
	}}
	inv := &recordingInvoker{results: map[string]ResultEnvelope{
		"capture_screen": {Success: true, FilePath: "/tmp/shot.png", Caption: "desktop"},
	}}
	o, _ := newTestOrchestrator(llm, inv)

	res, err := o.Run(context.Background(), "chat1", "show me the screen", Policy{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Media) != 1 {
		t.Fatalf("media outputs = %d, want 1", len(res.Media))
	}
	if res.Media[0].FilePath != "/tmp/shot.png" || res.Media[0].Caption != "desktop" {
		t.Errorf("media = %+v", res.Media[0])
	}
}

func TestLLMFailureDoesNotMutateSession(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("connection reset")}
	o, store := newTestOrchestrator(llm, &recordingInvoker{})

	s := store.GetOrCreate("chat1")
	s.messages = []chatMessage{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	_, err := o.Run(context.Background(), "chat1", "new question", Policy{})
	if err == nil {
		t.Fatal("expected error from failed reasoning call")
	}
	if len(s.messages) != 2 {
		t.Errorf("session history mutated on failure: %d messages", len(s.messages))
	}
}

func TestContinuationPromptsStripped(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		textResponse("Cleaned 300MB of temp files.\nDo you want me to continue with the cache?\nProceed?"),
	}}
	o, _ := newTestOrchestrator(llm, &recordingInvoker{})

	res, err := o.Run(context.Background(), "chat1", "clean temp files", Policy{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.FinalText, "Do you want") || strings.Contains(res.FinalText, "Proceed?") {
		t.Errorf("continuation prompts leaked into final text: %q", res.FinalText)
	}
	if !strings.Contains(res.FinalText, "Cleaned 300MB") {
		t.Errorf("real content was lost: %q", res.FinalText)
	}
}

func TestStripContinuationPrompts(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"All done.", "All done."},
		{"All done.\nShould I keep going?", "All done."},
		{"Would you like me to restart the service?", ""},
		{"Let me know if I should continue.", ""},
		{"The value is 42. Do you want fries with that?", "The value is 42. Do you want fries with that?"},
	}
	for i, tc := range cases {
		if got := stripContinuationPrompts(tc.in); got != tc.want {
			t.Errorf("case %d: stripContinuationPrompts(%q) = %q, want %q", i, tc.in, got, tc.want)
		}
	}
}

// toolResults decodes every tool-role message in history, keyed by call id.
func toolResults(t *testing.T, messages []chatMessage) map[string]ResultEnvelope {
	t.Helper()
	out := map[string]ResultEnvelope{}
	for _, m := range messages {
		if m.Role != "tool" {
			continue
		}
		content, ok := m.Content.(string)
		if !ok {
			t.Fatalf("tool message content is %T, want string", m.Content)
		}
		var env ResultEnvelope
		if err := json.Unmarshal([]byte(content), &env); err != nil {
			t.Fatalf("decoding tool result %q: %v", m.ToolCallID, err)
		}
		if _, dup := out[m.ToolCallID]; dup {
			t.Fatalf("duplicate tool result for call id %q", m.ToolCallID)
		}
		out[m.ToolCallID] = env
	}
	return out
}
