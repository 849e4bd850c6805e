package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"huddle/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRecords = 200
	clientBuffer      = 256
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrEmptyMessage   = errors.New("message text is required")
	ErrUnknownMessage = errors.New("message not found")
	ErrNotSender      = errors.New("only the sender can delete a message")
)

type historyFrame struct {
	Type  models.FrameType `json:"type"`
	Items []models.Message `json:"items"`
}

type messageFrame struct {
	Type models.FrameType `json:"type"`
	models.Message
}

type errorFrame struct {
	Type    models.FrameType `json:"type"`
	Message string           `json:"message"`
}

// clientFrame is the union of the frames clients send.
type clientFrame struct {
	Type      models.FrameType `json:"type"`
	From      string           `json:"from"`
	Text      string           `json:"text"`
	ID        string           `json:"id"`
	Requester string           `json:"requester"`
}

type HubConfig struct {
	MaxRecords int
	Now        func() time.Time
}

// Client is a connected member of a room.
type Client struct {
	send chan []byte
}

type room struct {
	history *History
	clients map[*Client]struct{}
}

// Hub keeps the history and the connected clients of every room.
type Hub struct {
	cfg   HubConfig
	rooms map[string]*room

	mu sync.Mutex
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:   cfg,
		rooms: make(map[string]*room),
	}
}

// Join registers a client in a room. The history frame is the first
// frame queued on the returned client.
func (h *Hub) Join(roomID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.room(roomID)
	c := &Client{send: make(chan []byte, clientBuffer)}

	data, err := json.Marshal(historyFrame{Type: models.FrameHistory, Items: r.history.All()})
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("encode history")
	} else {
		c.send <- data
	}

	r.clients[c] = struct{}{}
	log.Debug().Str("room", roomID).Int("clients", len(r.clients)).Msg("client joined")
	return c
}

func (h *Hub) Leave(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := r.clients[c]; !ok {
		return
	}
	delete(r.clients, c)
	close(c.send)
	log.Debug().Str("room", roomID).Int("clients", len(r.clients)).Msg("client left")
}

// Dispatch applies one raw client frame to a room.
func (h *Hub) Dispatch(roomID string, data []byte) error {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case models.FrameChat:
		if frame.Text == "" {
			return ErrEmptyMessage
		}
		h.Post(roomID, models.Message{
			Sender: frame.From,
			Kind:   models.MessageKindChat,
			Text:   frame.Text,
		})
		return nil
	case models.FrameDelete:
		return h.Delete(roomID, frame.ID, frame.Requester)
	case models.FrameClear:
		h.Clear(roomID, frame.Requester)
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownFrame, frame.Type)
	}
}

// Post stores a message under a server assigned id and timestamp and
// broadcasts it to the room.
func (h *Hub) Post(roomID string, msg models.Message) models.Message {
	msg.ID = uuid.NewString()
	msg.Timestamp = h.cfg.Now().UnixMilli()
	msg.Deleted = false
	if msg.Sender == "" {
		msg.Sender = models.SystemSender
	}
	if !msg.Kind.Valid() {
		msg.Kind = models.MessageKindChat
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.room(roomID)
	r.history.Add(msg)
	h.broadcast(r, messageFrame{Type: models.FrameType(msg.Kind), Message: msg})
	return msg
}

// Delete tombstones a message for everyone. Only its sender may delete it.
func (h *Hub) Delete(roomID, id, requester string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.room(roomID)
	msg, ok := r.history.Find(id)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Sender != requester {
		return ErrNotSender
	}
	r.history.Tombstone(id)
	h.broadcast(r, models.NewDeleteFrame(id, requester))
	return nil
}

// Clear empties the room history for everyone.
func (h *Hub) Clear(roomID, requester string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.room(roomID)
	r.history.Reset()
	h.broadcast(r, models.NewClearFrame(requester))
	log.Info().Str("room", roomID).Str("requester", requester).Msg("room cleared")
}

// History returns the messages currently held for a room.
func (h *Hub) History(roomID string) []models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		return r.history.All()
	}
	return []models.Message{}
}

func (h *Hub) room(id string) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = &room{
			history: NewHistory(h.cfg.MaxRecords),
			clients: make(map[*Client]struct{}),
		}
		h.rooms[id] = r
	}
	return r
}

func (h *Hub) broadcast(r *room, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("encode frame")
		return
	}
	for c := range r.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Msg("client queue full, dropping frame")
		}
	}
}

func encodeError(err error) []byte {
	data, _ := json.Marshal(errorFrame{Type: models.FrameError, Message: err.Error()})
	return data
}
