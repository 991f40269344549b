// Package channels defines the chat-transport contract the assistant speaks
// through. Implementations retry transient network failures internally and
// never panic into the caller.
package channels

import (
	"context"
	"errors"
	"time"
)

// Common channel errors.
var (
	ErrChannelDisconnected = errors.New("channel disconnected")
	ErrMediaDownloadFailed = errors.New("media download failed")
)

// MessageType classifies incoming and outgoing media.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVoice    MessageType = "voice"
	MessageDocument MessageType = "document"
)

// IncomingMessage is one message received from the transport.
type IncomingMessage struct {
	ID      string
	ChatID  string
	Sender  string
	Type    MessageType
	Content string

	// Media carries the transport's file reference for non-text messages.
	Media *MediaRef

	ReceivedAt time.Time
}

// MediaRef points at a downloadable attachment.
type MediaRef struct {
	// FileID is the transport's opaque file identifier.
	FileID string

	MimeType string
	FileName string
}

// OutgoingMessage is one text message to deliver.
type OutgoingMessage struct {
	Content string
	ReplyTo string
}

// MediaMessage is one media payload to deliver.
type MediaMessage struct {
	Type     MessageType
	FilePath string
	Caption  string
}

// HealthStatus reports transport liveness.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Channel is the transport contract: connect, receive, deliver.
type Channel interface {
	// Name identifies the transport ("telegram").
	Name() string

	// Connect starts receiving; it returns once the transport is live.
	Connect(ctx context.Context) error

	// Disconnect stops the transport.
	Disconnect() error

	// Send delivers a text message to the chat.
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) error

	// SendMedia delivers a photo or document to the chat.
	SendMedia(ctx context.Context, chatID string, media *MediaMessage) error

	// DownloadMedia fetches an incoming attachment's bytes and mime type.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)

	// Receive returns the stream of incoming messages.
	Receive() <-chan *IncomingMessage

	// Health reports transport liveness.
	Health() HealthStatus
}
