// Package telegram implements the Telegram transport using the Bot API
// directly via HTTP — no external dependencies.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Send/receive text, photos, documents, voice notes
//   - Typing indicators (sendChatAction)
//   - Media download via getFile
package telegram

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
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/telepilotdev/telepilot/pkg/telepilot/channels"
)

// Config holds Telegram transport configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// AllowedChats restricts which chat IDs the bot responds to.
	// Empty means respond to all chats. For a machine-control bot this
	// should always be set.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`

	// PollTimeoutSeconds is the long-poll timeout (default 30).
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendTyping:         true,
		PollTimeoutSeconds: 30,
	}
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is https://api.telegram.org/bot<token>.
	baseURL string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Telegram transport.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = 30
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: 90 * time.Second},
		baseURL:  "https://api.telegram.org/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe()
	if err != nil {
		return fmt.Errorf("telegram: verifying token: %w", err)
	}
	t.logger.Info("telegram connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram disconnected")
	return nil
}

// Send delivers a text message, retrying transient network failures.
func (t *Telegram) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}

	payload := map[string]any{
		"chat_id": cid,
		"text":    msg.Content,
	}
	if msg.ReplyTo != "" {
		if msgID, e := strconv.ParseInt(msg.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{"message_id": msgID}
		}
	}

	return channels.WithRetry(ctx, func() error {
		_, err := t.apiCall("sendMessage", payload)
		return err
	})
}

// SendMedia uploads a photo or document from disk.
func (t *Telegram) SendMedia(ctx context.Context, chatID string, media *channels.MediaMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}

	method, field := "sendDocument", "document"
	if media.Type == channels.MessageImage {
		method, field = "sendPhoto", "photo"
	}

	return channels.WithRetry(ctx, func() error {
		return t.uploadFile(method, cid, field, media)
	})
}

// SendTyping sends a "typing..." chat action. Failures are non-fatal.
func (t *Telegram) SendTyping(ctx context.Context, chatID string) {
	if !t.connected.Load() || !t.cfg.SendTyping {
		return
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return
	}
	if _, err := t.apiCall("sendChatAction", map[string]any{"chat_id": cid, "action": "typing"}); err != nil {
		t.logger.Debug("typing indicator failed", "error", err)
	}
}

// DownloadMedia resolves a file_id through getFile and downloads the bytes.
func (t *Telegram) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.FileID == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}

	info, err := t.getFile(msg.Media.FileID)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: getFile: %w", err)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.cfg.Token, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: reading media: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

// Receive returns the incoming message stream.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// Health reports transport liveness.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// ---------- Wire Types ----------

type botUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	From      *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Photo []struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size"`
	} `json:"photo"`
	Voice *struct {
		FileID   string `json:"file_id"`
		MimeType string `json:"mime_type"`
	} `json:"voice"`
	Document *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		MimeType string `json:"mime_type"`
	} `json:"document"`
}

type fileInfo struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// ---------- Internal ----------

// getMe verifies the bot token.
func (t *Telegram) getMe() (*botUser, error) {
	raw, err := t.apiCall("getMe", nil)
	if err != nil {
		return nil, err
	}
	var me botUser
	if err := json.Unmarshal(raw, &me); err != nil {
		return nil, fmt.Errorf("parsing getMe: %w", err)
	}
	return &me, nil
}

// getFile resolves a file_id to a downloadable path.
func (t *Telegram) getFile(fileID string) (*fileInfo, error) {
	raw, err := t.apiCall("getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var info fileInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("parsing getFile: %w", err)
	}
	return &info, nil
}

// pollLoop long-polls getUpdates until the context is cancelled. Transient
// poll failures back off and continue; the loop never brings the process down.
func (t *Telegram) pollLoop() {
	backoff := time.Second
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		updates, err := t.getUpdates()
		if err != nil {
			t.errorCount.Add(1)
			t.logger.Warn("getUpdates failed", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-t.ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			t.handleMessage(u.Message)
		}
	}
}

// getUpdates performs one long-poll request.
func (t *Telegram) getUpdates() ([]update, error) {
	raw, err := t.apiCall("getUpdates", map[string]any{
		"offset":          t.offset,
		"timeout":         t.cfg.PollTimeoutSeconds,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("parsing updates: %w", err)
	}
	return updates, nil
}

// handleMessage converts one Telegram message into an IncomingMessage and
// forwards it, dropping chats outside the allow list.
func (t *Telegram) handleMessage(m *message) {
	if !t.chatAllowed(m.Chat.ID) {
		t.logger.Warn("message from disallowed chat dropped", "chat_id", m.Chat.ID)
		return
	}

	incoming := &channels.IncomingMessage{
		ID:         strconv.FormatInt(m.MessageID, 10),
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Type:       channels.MessageText,
		Content:    m.Text,
		ReceivedAt: time.Now(),
	}
	if m.From != nil {
		incoming.Sender = m.From.Username
	}

	switch {
	case len(m.Photo) > 0:
		// Telegram sends multiple sizes; the last entry is the largest.
		largest := m.Photo[len(m.Photo)-1]
		incoming.Type = channels.MessageImage
		incoming.Content = m.Caption
		incoming.Media = &channels.MediaRef{FileID: largest.FileID, MimeType: "image/jpeg"}
	case m.Voice != nil:
		incoming.Type = channels.MessageVoice
		incoming.Media = &channels.MediaRef{FileID: m.Voice.FileID, MimeType: m.Voice.MimeType}
	case m.Document != nil:
		incoming.Type = channels.MessageDocument
		incoming.Content = m.Caption
		incoming.Media = &channels.MediaRef{
			FileID:   m.Document.FileID,
			MimeType: m.Document.MimeType,
			FileName: m.Document.FileName,
		}
	}

	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("incoming message queue full, dropping message", "chat_id", incoming.ChatID)
	}
}

// chatAllowed checks the allow list. Empty list allows everything.
func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// apiCall performs one Bot API method call and returns the raw result field.
func (t *Telegram) apiCall(method string, payload map[string]any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/"+method, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	return t.parseAPIResponse(method, resp)
}

// uploadFile sends a file from disk as multipart form data.
func (t *Telegram) uploadFile(method string, chatID int64, field string, media *channels.MediaMessage) error {
	file, err := os.Open(media.FilePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", media.FilePath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("writing chat_id: %w", err)
	}
	if media.Caption != "" {
		if err := w.WriteField("caption", media.Caption); err != nil {
			return fmt.Errorf("writing caption: %w", err)
		}
	}
	part, err := w.CreateFormFile(field, filepath.Base(media.FilePath))
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copying file: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/"+method, &buf)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	_, err = t.parseAPIResponse(method, resp)
	return err
}

// parseAPIResponse decodes the Bot API envelope {ok, result, description}.
func (t *Telegram) parseAPIResponse(method string, resp *http.Response) (json.RawMessage, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("%s failed: %s", method, envelope.Description)
	}
	return envelope.Result, nil
}
