// Package codec turns loosely shaped chat payloads into canonical messages.
//
// Every function here is total: malformed input degrades into a displayable
// System message instead of an error, so the transport is never blocked by
// an unexpected frame.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"huddle/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	senderKeys   = []string{"user", "from", "sender"}
	timeKeys     = []string{"ts", "timestamp"}
	fileNameKeys = []string{"fileName", "filename", "file"}
	fileTypeKeys = []string{"fileType", "filetype", "mime"}
	kindKeys     = []string{"type", "kind"}
)

// Codec normalizes payloads using the given clock for missing timestamps.
type Codec struct {
	Now func() time.Time
}

var std = Codec{Now: time.Now}

// Normalize normalizes raw using the wall clock.
func Normalize(raw map[string]any) models.Message { return std.Normalize(raw) }

// NormalizeAll normalizes a list of loosely typed items using the wall clock.
func NormalizeAll(items []any) []models.Message { return std.NormalizeAll(items) }

// FromRaw wraps an undecodable payload into a System message using the wall clock.
func FromRaw(text string) models.Message { return std.FromRaw(text) }

// Decode turns a frame into a transport event using the wall clock.
func Decode(data []byte) models.Event { return std.Decode(data) }

func (c Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Normalize fills every field of a message with a defined default.
func (c Codec) Normalize(raw map[string]any) models.Message {
	msg := models.Message{
		Sender:    firstString(raw, senderKeys...),
		Text:      stringify(raw["text"]),
		FileName:  firstString(raw, fileNameKeys...),
		FileType:  firstString(raw, fileTypeKeys...),
		Timestamp: firstInt(raw, timeKeys...),
	}

	if msg.Sender == "" {
		msg.Sender = models.SystemSender
	}
	if msg.Timestamp <= 0 {
		msg.Timestamp = c.now().UnixMilli()
	}

	kind := models.MessageKind(firstString(raw, kindKeys...))
	switch {
	case kind.Valid():
		msg.Kind = kind
	case msg.FileName != "":
		msg.Kind = models.MessageKindFile
	default:
		msg.Kind = models.MessageKindChat
	}

	if deleted, ok := raw["deleted"].(bool); ok {
		msg.Deleted = deleted
	}

	msg.ID = idString(raw["id"])
	if msg.ID == "" {
		msg.ID = SyntheticID(msg.Timestamp)
	}

	return msg
}

// NormalizeAll normalizes every item; non-object items become System messages.
func (c Codec) NormalizeAll(items []any) []models.Message {
	out := make([]models.Message, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, c.Normalize(obj))
			continue
		}
		out = append(out, c.FromRaw(stringify(item)))
	}
	return out
}

// FromRaw wraps text into a System message.
func (c Codec) FromRaw(text string) models.Message {
	ts := c.now().UnixMilli()
	return models.Message{
		ID:        SyntheticID(ts),
		Sender:    models.SystemSender,
		Kind:      models.MessageKindSystem,
		Text:      text,
		Timestamp: ts,
	}
}

// Decode converts one inbound frame into exactly one event.
func (c Codec) Decode(data []byte) models.Event {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		derr := &models.DecodeError{Raw: string(data), Err: err}
		log.Warn().Err(derr).Msg("falling back to raw system message")
		return models.Event{Kind: models.EventAppend, Message: c.FromRaw(string(data))}
	}

	frame, ok := payload.(map[string]any)
	if !ok {
		return models.Event{Kind: models.EventAppend, Message: c.FromRaw(string(data))}
	}

	switch models.FrameType(stringify(frame["type"])) {
	case models.FrameHistory:
		items, _ := frame["items"].([]any)
		return models.Event{Kind: models.EventHistory, Messages: c.NormalizeAll(items)}
	case models.FrameDelete:
		return models.Event{Kind: models.EventDelete, ID: idString(frame["id"])}
	case models.FrameClear:
		return models.Event{Kind: models.EventClear}
	case models.FrameError:
		notice := stringify(frame["message"])
		if notice == "" {
			notice = "server error"
		}
		return models.Event{Kind: models.EventNotice, Notice: notice}
	case "", models.FrameChat, models.FrameFile, models.FrameSystem:
		return models.Event{Kind: models.EventAppend, Message: c.Normalize(frame)}
	default:
		log.Debug().Str("type", stringify(frame["type"])).Msg("unknown frame type")
		return models.Event{Kind: models.EventAppend, Message: c.FromRaw(string(data))}
	}
}

// Canonical fills the defaults of an already structured message,
// such as one read back from persistent storage.
func (c Codec) Canonical(m models.Message) models.Message {
	if m.Sender == "" {
		m.Sender = models.SystemSender
	}
	if m.Timestamp <= 0 {
		m.Timestamp = c.now().UnixMilli()
	}
	if !m.Kind.Valid() {
		m.Kind = models.MessageKindChat
		if m.FileName != "" {
			m.Kind = models.MessageKindFile
		}
	}
	if m.ID == "" {
		m.ID = SyntheticID(m.Timestamp)
	}
	return m
}

// SyntheticID builds an id of the form "<timestamp>-<random suffix>".
func SyntheticID(ts int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatInt(ts, 10) + "-" + suffix
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringify(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(raw map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		case int:
			return int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return stringify(id)
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(data)
	}
}
