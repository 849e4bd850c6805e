package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNotConnected is returned by outbound operations while the chat channel is not open.
	// It is never retried automatically.
	ErrNotConnected = errors.New("not connected")
)

// SystemSender is the sender of messages that have no identifiable author.
const SystemSender = "System"

type MessageKind string

const (
	MessageKindChat   MessageKind = "chat"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindChat, MessageKindFile, MessageKindSystem:
		return true
	}
	return false
}

// Message is the canonical chat record.
// Deleted messages are kept as tombstones; their text must not be displayed.
type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"ts"` // Unix milliseconds
	FileName  string      `json:"fileName,omitempty"`
	FileType  string      `json:"fileType,omitempty"`
	Deleted   bool        `json:"deleted"`
}

type ConnectionState string

const (
	ConnectionClosed     ConnectionState = "closed"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
)

// FrameType is the "type" discriminator of frames on the chat channel.
type FrameType string

const (
	FrameHistory FrameType = "history"
	FrameChat    FrameType = "chat"
	FrameFile    FrameType = "file"
	FrameSystem  FrameType = "system"
	FrameDelete  FrameType = "delete"
	FrameClear   FrameType = "clear"
	FrameError   FrameType = "error"
)

// ChatFrame is sent by the client to post a message.
type ChatFrame struct {
	Type FrameType `json:"type"`
	From string    `json:"from"`
	Text string    `json:"text"`
}

// DeleteFrame asks the server to tombstone a message for everyone.
type DeleteFrame struct {
	Type      FrameType `json:"type"`
	ID        string    `json:"id"`
	Requester string    `json:"requester"`
}

// ClearFrame asks the server to clear the room log.
type ClearFrame struct {
	Type      FrameType `json:"type"`
	Requester string    `json:"requester"`
}

func NewChatFrame(from, text string) ChatFrame {
	return ChatFrame{Type: FrameChat, From: from, Text: text}
}

func NewDeleteFrame(id, requester string) DeleteFrame {
	return DeleteFrame{Type: FrameDelete, ID: id, Requester: requester}
}

func NewClearFrame(requester string) ClearFrame {
	return ClearFrame{Type: FrameClear, Requester: requester}
}

type EventKind string

const (
	EventHistory EventKind = "history"
	EventAppend  EventKind = "append"
	EventDelete  EventKind = "delete"
	EventClear   EventKind = "clear"
	EventNotice  EventKind = "notice"
	EventState   EventKind = "state"
)

// Event is what the chat transport emits for every inbound frame or state change.
type Event struct {
	Kind     EventKind
	Messages []Message       // EventHistory
	Message  Message         // EventAppend
	ID       string          // EventDelete
	Notice   string          // EventNotice
	State    ConnectionState // EventState
}

// DecodeError describes an inbound frame that could not be decoded.
// It is recovered locally and never leaves the codec.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ResourceAttachError is a failure to bind a stream to a surface or to build an audio graph.
type ResourceAttachError struct {
	Resource      string
	ParticipantID string
	Err           error
}

func (e *ResourceAttachError) Error() string {
	return fmt.Sprintf("attach %s for participant %s: %v", e.Resource, e.ParticipantID, e.Err)
}

func (e *ResourceAttachError) Unwrap() error { return e.Err }

// UploadError carries the server-provided reason when there is one.
type UploadError struct {
	Status int
	Reason string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Reason != "" {
		return "upload failed: " + e.Reason
	}
	if e.Err != nil {
		return "upload failed: " + e.Err.Error()
	}
	return fmt.Sprintf("upload failed with status %d", e.Status)
}

func (e *UploadError) Unwrap() error { return e.Err }

// APIResponse is the generic JSON envelope of the HTTP endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	APIResponse
	FileName string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}
