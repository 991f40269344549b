// Package operator – llm.go implements the reasoning-service client for chat
// completions with function calling / tool use support.
// Uses the OpenAI-compatible API format, which works with OpenAI, Anthropic
// proxies, and any compatible endpoint.
package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// ---------- Client ----------

// LLMClient handles communication with the reasoning-service API.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger

	// reasoningEffort enables the provider's extended reasoning mode when set
	// ("low", "medium", "high"). Providers that reject the field get a
	// transparent per-call fallback to the standard mode.
	reasoningEffort string
}

// LLMConfig holds the reasoning-service connection settings.
type LLMConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	ReasoningEffort string `yaml:"reasoning_effort"`

	// VisionModel overrides the model for image analysis (empty = main model).
	VisionModel string `yaml:"vision_model"`

	// TranscriptionModel is the Whisper-compatible model (default "whisper-1").
	TranscriptionModel string `yaml:"transcription_model"`
}

// NewLLMClient creates a new reasoning-service client from config.
func NewLLMClient(cfg LLMConfig, logger *slog.Logger) *LLMClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &LLMClient{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		reasoningEffort: cfg.ReasoningEffort,
		httpClient: &http.Client{
			// No global timeout here — each call uses context.WithTimeout for
			// per-call control. Large tool-result contexts can take minutes.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 180 * time.Second,
			},
		},
		logger: logger.With("component", "llm"),
	}
}

// resolveAPIKey returns the API key to use for this client.
/// Priority: explicitly set key, OPENAI_API_KEY, generic API_KEY.
func (c *LLMClient) resolveAPIKey() string {
	if c.apiKey != "" {
		return c.apiKey
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("API_KEY")
}

// ---------- Wire Types (OpenAI-compatible) ----------

// contentPart represents a single part of multimodal message content.
// Used for vision: {"type":"text","text":"..."} and {"type":"image_url",...}.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

// imageURL holds the URL (including data:...) and optional detail for vision.
type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "auto", "low", "high"
}

// chatMessage represents a message in the OpenAI chat format.
// Supports user, system, assistant (with optional tool_calls), and tool
// result messages. Content is either a string or []contentPart (multimodal).
type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"` // string or []contentPart
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model           string           `json:"model"`
	Messages        []chatMessage    `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	MaxTokens       *int             `json:"max_tokens,omitempty"`
	ReasoningEffort string           `json:"reasoning_effort,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Tool Calling Types ----------

// ToolDefinition is an OpenAI-compatible tool definition for function calling.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the reasoning service.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the reasoning service.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ---------- Response Types ----------

// LLMResponse holds the parsed response from a chat completion.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        LLMUsage
}

// LLMUsage holds token usage information from the API response.
type LLMUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// apiError captures HTTP status and body for classification by the caller.
type apiError struct {
	statusCode int
	body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.statusCode, truncateText(e.body, 200))
}

// rejectsReasoningEffort reports whether a 400 response names the
// reasoning_effort field as the problem, meaning the provider does not
// support extended reasoning and the call should be retried without it.
func rejectsReasoningEffort(err error) bool {
	apierr, ok := err.(*apiError)
	if !ok || apierr.statusCode != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(apierr.body)
	return strings.Contains(body, "reasoning_effort") || strings.Contains(body, "reasoning")
}

// ---------- Public Methods ----------

// CompleteWithTools sends a chat completion request with tool definitions and
// returns the parsed response. When extended reasoning is enabled and the
// provider rejects it, the call is retried once without it, for this call only.
func (c *LLMClient) CompleteWithTools(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	resp, err := c.completeOnce(ctx, messages, tools, c.reasoningEffort)
	if err != nil && c.reasoningEffort != "" && rejectsReasoningEffort(err) {
		c.logger.Warn("provider rejected extended reasoning, retrying in standard mode",
			"model", c.model,
			"reasoning_effort", c.reasoningEffort,
		)
		return c.completeOnce(ctx, messages, tools, "")
	}
	return resp, err
}

// CompleteWithVision sends an image plus an optional prompt to the model and
// returns its description. imageBase64 is raw base64 bytes without the data
// URL prefix; mimeType is e.g. "image/jpeg".
func (c *LLMClient) CompleteWithVision(ctx context.Context, imageBase64, mimeType, prompt, visionModel string) (string, error) {
	parts := []contentPart{}
	if prompt != "" {
		parts = append(parts, contentPart{Type: "text", Text: prompt})
	}
	parts = append(parts, contentPart{
		Type: "image_url",
		ImageURL: &imageURL{
			URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, imageBase64),
			Detail: "auto",
		},
	})

	messages := []chatMessage{{Role: "user", Content: parts}}

	model := visionModel
	if model == "" {
		model = c.model
	}
	resp, err := c.completeModel(ctx, model, messages, nil, "")
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// TranscribeAudio sends audio data to a Whisper-compatible endpoint and
// returns the transcript. model defaults to "whisper-1" when empty.
func (c *LLMClient) TranscribeAudio(ctx context.Context, audioData []byte, filename, model string) (string, error) {
	if filename == "" {
		filename = "audio.ogg"
	}
	if model == "" {
		model = "whisper-1"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := w.WriteField("model", model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	endpoint := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.resolveAPIKey())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API returned %d: %s", resp.StatusCode, truncateText(string(respBody), 200))
	}

	// Response is either plain text or JSON with a "text" field.
	text := string(respBody)
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		var j struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(respBody, &j); err == nil && j.Text != "" {
			text = j.Text
		}
	}
	return strings.TrimSpace(text), nil
}

// completeOnce performs a single chat completion using the configured model.
func (c *LLMClient) completeOnce(ctx context.Context, messages []chatMessage, tools []ToolDefinition, reasoningEffort string) (*LLMResponse, error) {
	return c.completeModel(ctx, c.model, messages, tools, reasoningEffort)
}

// completeModel performs a single chat completion request. Returns *apiError
// on HTTP errors so the caller can classify and decide on a retry.
func (c *LLMClient) completeModel(ctx context.Context, model string, messages []chatMessage, tools []ToolDefinition, reasoningEffort string) (*LLMResponse, error) {
	reqBody := chatRequest{
		Model:           model,
		Messages:        messages,
		Tools:           tools,
		ReasoningEffort: reasoningEffort,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.resolveAPIKey())

	c.logger.Debug("sending chat completion",
		"model", model,
		"messages", len(messages),
		"tools", len(tools),
		"reasoning_effort", reasoningEffort,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	bodyStr := string(respBody)
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error",
			"model", model,
			"status", resp.StatusCode,
			"body", truncateText(bodyStr, 500),
		)
		return nil, &apiError{statusCode: resp.StatusCode, body: bodyStr}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w (body: %s)", err, truncateText(bodyStr, 200))
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("API returned no choices (body: %s)", truncateText(bodyStr, 200))
	}

	choice := parsed.Choices[0]
	result := &LLMResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage: LLMUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}

	c.logger.Info("chat completion done",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"finish_reason", result.FinishReason,
		"tool_calls", len(result.ToolCalls),
	)

	return result, nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
