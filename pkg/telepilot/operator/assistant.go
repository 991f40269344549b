// assistant.go connects the chat transport to the orchestrator: receive a
// message, enrich non-text content (photos through vision, voice through
// transcription), run the agentic loop, deliver the answer and any produced
// files back to the chat.
package operator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/telepilotdev/telepilot/pkg/telepilot/channels"
)

// Enricher turns non-text attachments into text the reasoning service can use.
type Enricher interface {
	CompleteWithVision(ctx context.Context, imageBase64, mimeType, prompt, visionModel string) (string, error)
	TranscribeAudio(ctx context.Context, audioData []byte, filename, model string) (string, error)
}

// AssistantConfig tunes the assistant's behavior.
type AssistantConfig struct {
	Policy             Policy
	VisionModel        string
	TranscriptionModel string

	// AttachmentDir is where incoming attachments are saved. Defaults to the
	// system temp directory.
	AttachmentDir string
}

// Assistant is the top-level message handler for one transport.
type Assistant struct {
	channel  channels.Channel
	orch     *Orchestrator
	enricher Enricher
	store    SessionStore
	cfg      AssistantConfig
	logger   *slog.Logger
}

// NewAssistant wires the assistant over its collaborators.
func NewAssistant(channel channels.Channel, orch *Orchestrator, enricher Enricher, store SessionStore, cfg AssistantConfig, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		channel:  channel,
		orch:     orch,
		enricher: enricher,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "assistant"),
	}
}

// Start connects the transport and processes messages until the context ends.
// Each message is handled on its own goroutine; runs for the same conversation
// serialize on the session, different conversations proceed concurrently.
func (a *Assistant) Start(ctx context.Context) error {
	if err := a.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s: %w", a.channel.Name(), err)
	}

	for {
		select {
		case <-ctx.Done():
			return a.channel.Disconnect()
		case msg, ok := <-a.channel.Receive():
			if !ok {
				return nil
			}
			go a.handle(ctx, msg)
		}
	}
}

// handle processes one incoming message end to end. Faults in per-conversation
// work are recovered and logged; they must never take the process down.
func (a *Assistant) handle(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic handling message", "chat_id", msg.ChatID, "panic", r)
		}
	}()

	if typer, ok := a.channel.(interface{ SendTyping(context.Context, string) }); ok {
		typer.SendTyping(ctx, msg.ChatID)
	}

	content, err := a.enrich(ctx, msg)
	if err != nil {
		a.logger.Error("enriching message failed", "chat_id", msg.ChatID, "error", err)
		a.sendText(ctx, msg.ChatID, "Could not process the attachment: "+err.Error())
		return
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	res, err := a.orch.Run(ctx, msg.ChatID, content, a.cfg.Policy)
	if err != nil {
		a.sendText(ctx, msg.ChatID, "Request failed: "+err.Error())
		return
	}

	a.sendText(ctx, msg.ChatID, res.FinalText)
	for _, m := range res.Media {
		if err := a.channel.SendMedia(ctx, msg.ChatID, &channels.MediaMessage{
			Type:     channels.MessageImage,
			FilePath: m.FilePath,
			Caption:  m.Caption,
		}); err != nil {
			a.logger.Error("delivering media failed", "chat_id", msg.ChatID, "path", m.FilePath, "error", err)
		}
	}
}

// enrich converts the incoming message into text content for the orchestrator.
// Photos are described through vision, voice notes are transcribed, and the
// attachment itself is saved and remembered as the session's most recent one.
func (a *Assistant) enrich(ctx context.Context, msg *channels.IncomingMessage) (string, error) {
	switch msg.Type {
	case channels.MessageText:
		return msg.Content, nil

	case channels.MessageImage:
		data, mimeType, err := a.channel.DownloadMedia(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("downloading photo: %w", err)
		}
		path := a.saveAttachment(msg.ChatID, data, ".jpg")
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		description, err := a.enricher.CompleteWithVision(ctx,
			base64.StdEncoding.EncodeToString(data), mimeType,
			"Describe this image for an operator controlling a machine over chat.",
			a.cfg.VisionModel)
		if err != nil {
			return "", fmt.Errorf("analyzing photo: %w", err)
		}
		content := fmt.Sprintf("[The user sent a photo, saved at %s. Description: %s]", path, description)
		if msg.Content != "" {
			content += "\n" + msg.Content
		}
		return content, nil

	case channels.MessageVoice:
		data, _, err := a.channel.DownloadMedia(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("downloading voice note: %w", err)
		}
		transcript, err := a.enricher.TranscribeAudio(ctx, data, "voice.ogg", a.cfg.TranscriptionModel)
		if err != nil {
			return "", fmt.Errorf("transcribing voice note: %w", err)
		}
		return transcript, nil

	case channels.MessageDocument:
		data, _, err := a.channel.DownloadMedia(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("downloading document: %w", err)
		}
		ext := filepath.Ext(msg.Media.FileName)
		path := a.saveAttachment(msg.ChatID, data, ext)
		content := fmt.Sprintf("[The user sent a file %q, saved at %s]", msg.Media.FileName, path)
		if msg.Content != "" {
			content += "\n" + msg.Content
		}
		return content, nil
	}
	return msg.Content, nil
}

// saveAttachment writes attachment bytes to disk and records the path as the
// session's most recent attachment. Save failures degrade to an empty path.
func (a *Assistant) saveAttachment(chatID string, data []byte, ext string) string {
	dir := a.cfg.AttachmentDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "telepilot-in-"+uuid.New().String()[:8]+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		a.logger.Error("saving attachment failed", "path", path, "error", err)
		return ""
	}
	a.store.GetOrCreate(chatID).SetLastAttachment(path)
	return path
}

// sendText delivers the final text, logging delivery failures.
func (a *Assistant) sendText(ctx context.Context, chatID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := a.channel.Send(ctx, chatID, &channels.OutgoingMessage{Content: text}); err != nil {
		a.logger.Error("sending reply failed", "chat_id", chatID, "error", err)
	}
}
