// orchestrator.go drives the multi-turn tool-use protocol with the reasoning
// service: send history, execute requested tool calls under policy, fold the
// results back in, resubmit until the service answers in plain text or a stop
// condition fires.
package operator

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Policy controls how an orchestration run executes tool calls.
type Policy struct {
	// StepConfirm limits execution to one real tool call per reasoning turn;
	// further calls in the same turn are deferred with an explanatory result.
	StepConfirm bool

	// StopAfterBrowse ends the run immediately after the first successful
	// browse_site call, with a fixed completion message.
	StopAfterBrowse bool

	// MaxIterations bounds the number of tool-execution rounds in one run.
	// Zero uses DefaultMaxIterations.
	MaxIterations int
}

// DefaultMaxIterations bounds tool-execution rounds when the policy does not
// set a limit.
const DefaultMaxIterations = 8

func (p Policy) withDefaults() Policy {
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	return p
}

// Fixed terminal messages. The reasoning service's own text is preferred
// where available; these cover the paths where no usable text exists.
const (
	browseCompletionMessage  = "Browsing task completed. Stopping here as configured."
	iterationLimitMessage    = "Reached the action limit for this request. Ask again to continue."
	defaultCompletionMessage = "Done."
)

// continuationPromptRes matches assistant lines that ask the end user whether
// to continue. Continuation is the orchestrator's decision, so these lines
// never surface.
var continuationPromptRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(do you want|would you like|should i|shall i)\b.*\?\s*$`),
	regexp.MustCompile(`(?i)^\s*let me know (if|whether|when)\b.*\b(continue|proceed)\b.*$`),
	regexp.MustCompile(`(?i)^\s*(continue|proceed)\?\s*$`),
}

// MediaOutput is a file produced by a tool during a run, delivered to the
// operator chat alongside the final text.
type MediaOutput struct {
	FilePath string
	Caption  string
}

// RunResult is the outcome of one orchestration run.
type RunResult struct {
	FinalText string
	Media     []MediaOutput
}

// LLMCaller is the reasoning-service contract the orchestrator depends on.
type LLMCaller interface {
	CompleteWithTools(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error)
}

// ToolInvoker executes one named tool call into a result envelope.
type ToolInvoker interface {
	Invoke(ctx context.Context, name, argsJSON string) ResultEnvelope
}

// Orchestrator runs the agentic loop for one conversation at a time per
// session; different conversations run concurrently.
type Orchestrator struct {
	llm          LLMCaller
	tools        ToolInvoker
	store        SessionStore
	systemPrompt string
	maxMessages  int
	logger       *slog.Logger
}

// NewOrchestrator wires the orchestrator over its collaborators.
func NewOrchestrator(llm LLMCaller, tools ToolInvoker, store SessionStore, systemPrompt string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	maxMessages := DefaultMaxSessionMessages
	if ms, ok := store.(*MemoryStore); ok {
		maxMessages = ms.MaxMessages()
	}
	return &Orchestrator{
		llm:          llm,
		tools:        tools,
		store:        store,
		systemPrompt: systemPrompt,
		maxMessages:  maxMessages,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Run executes one orchestration run: append the user content, loop with the
// reasoning service until plain text, a stop condition, or the iteration cap,
// and persist the updated history. On reasoning-service failure the session
// is left unmodified so the request can be retried with the original input.
func (o *Orchestrator) Run(ctx context.Context, conversationID string, userContent any, policy Policy) (*RunResult, error) {
	policy = policy.withDefaults()

	session := o.store.GetOrCreate(conversationID)
	session.mu.Lock()
	defer session.mu.Unlock()

	// Work on a copy; the session is mutated only at turn boundaries.
	history := make([]chatMessage, 0, len(session.messages)+2)
	history = append(history, session.messages...)
	history = append(history, chatMessage{Role: "user", Content: userContent})

	executedFingerprints := make(map[string]bool)
	var media []MediaOutput
	finalText := ""
	iteration := 0

	for {
		resp, err := o.llm.CompleteWithTools(ctx, o.withSystem(history), toolDefinitions())
		if err != nil {
			o.logger.Error("reasoning service call failed",
				"session", conversationID,
				"iteration", iteration,
				"error", err,
			)
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Content
			history = append(history, chatMessage{Role: "assistant", Content: resp.Content})
			break
		}

		history = append(history, chatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		stop := false
		executedThisTurn := false
		for _, call := range resp.ToolCalls {
			fp := actionFingerprint(call)

			var env ResultEnvelope
			switch {
			case policy.StepConfirm && executedThisTurn:
				env = ResultEnvelope{
					Success:  true,
					Deferred: true,
					Output:   "Deferred: step confirmation allows one action per turn. Request this action again in your next turn if it is still needed.",
				}
			case fp != "" && executedFingerprints[fp]:
				env = ResultEnvelope{
					Success:      true,
					Deduplicated: true,
					Output:       "Skipped: an identical action already completed successfully in this run.",
				}
			default:
				env = o.tools.Invoke(ctx, call.Function.Name, call.Function.Arguments)
				executedThisTurn = true
				if env.Success && env.FilePath != "" {
					media = append(media, MediaOutput{FilePath: env.FilePath, Caption: env.Caption})
				}
				if env.Success && fp != "" {
					executedFingerprints[fp] = true
				}
				if policy.StopAfterBrowse && env.Success && call.Function.Name == "browse_site" {
					stop = true
				}
			}

			// Every requested call gets exactly one matching result record,
			// executed or not; partial coverage is a protocol violation.
			payload, err := json.Marshal(env)
			if err != nil {
				payload = []byte(`{"success":false,"error":"result serialization failed"}`)
			}
			history = append(history, chatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}

		if stop {
			finalText = browseCompletionMessage
			break
		}

		iteration++
		if iteration >= policy.MaxIterations {
			o.logger.Warn("iteration cap reached",
				"session", conversationID,
				"max_iterations", policy.MaxIterations,
			)
			finalText = resp.Content
			if strings.TrimSpace(finalText) == "" {
				finalText = iterationLimitMessage
			}
			break
		}
	}

	finalText = stripContinuationPrompts(finalText)
	if strings.TrimSpace(finalText) == "" {
		finalText = defaultCompletionMessage
	}

	session.messages = trimHistory(history, o.maxMessages)
	o.store.Persist(session)

	return &RunResult{FinalText: finalText, Media: media}, nil
}

// withSystem prepends the system prompt without storing it in history.
func (o *Orchestrator) withSystem(history []chatMessage) []chatMessage {
	if o.systemPrompt == "" {
		return history
	}
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: "system", Content: o.systemPrompt})
	return append(messages, history...)
}

// stripContinuationPrompts removes lines that ask the end user whether to
// continue.
func stripContinuationPrompts(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		drop := false
		for _, re := range continuationPromptRes {
			if re.MatchString(line) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
