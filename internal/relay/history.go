package relay

import (
	"huddle/internal/models"
)

type Seq int64

// History keeps the last MaxRecords messages of a room in a ring buffer.
// It is not safe for concurrent use; the owning room serializes access.
type History struct {
	Records    []models.Message
	FirstSeq   Seq
	LastSeq    Seq
	LastIndex  int
	MaxRecords int
}

func NewHistory(maxRecords int) *History {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &History{
		MaxRecords: maxRecords,
		LastIndex:  -1,
		FirstSeq:   -1,
		LastSeq:    -1,
	}
}

// Add appends a message, evicting the oldest one when the buffer is full.
func (h *History) Add(msg models.Message) Seq {
	h.LastSeq++

	switch {
	case len(h.Records) < h.MaxRecords:
		if h.FirstSeq == -1 {
			h.FirstSeq = h.LastSeq
		}
		h.Records = append(h.Records, msg)
		h.LastIndex++
	default:
		h.FirstSeq++
		i := (h.LastIndex + 1) % h.MaxRecords
		h.Records[i] = msg
		h.LastIndex = i
	}

	return h.LastSeq
}

// Len is the number of messages currently held.
func (h *History) Len() int {
	if h.LastSeq == -1 {
		return 0
	}
	return int(h.LastSeq - h.FirstSeq + 1)
}

// Last returns up to count most recent messages, oldest first.
func (h *History) Last(count int) []models.Message {
	total := h.Len()
	if count > total {
		count = total
	}
	if count <= 0 {
		return []models.Message{}
	}

	from := h.LastSeq - Seq(count) + 1
	result := make([]models.Message, count)

	startIdx := h.index(from)
	if startIdx+count <= len(h.Records) {
		copy(result, h.Records[startIdx:startIdx+count])
	} else {
		n1 := len(h.Records) - startIdx
		copy(result, h.Records[startIdx:])
		copy(result[n1:], h.Records[:count-n1])
	}

	return result
}

// All returns every held message, oldest first.
func (h *History) All() []models.Message {
	return h.Last(h.Len())
}

// Find returns the held message with the given id.
func (h *History) Find(id string) (models.Message, bool) {
	if i := h.position(id); i >= 0 {
		return h.Records[i], true
	}
	return models.Message{}, false
}

// Tombstone marks a message deleted in place and drops its content.
// It reports whether the message was found.
func (h *History) Tombstone(id string) bool {
	i := h.position(id)
	if i < 0 {
		return false
	}
	h.Records[i].Deleted = true
	h.Records[i].Text = ""
	return true
}

// Reset empties the buffer.
func (h *History) Reset() {
	h.Records = nil
	h.LastIndex = -1
	h.FirstSeq = -1
	h.LastSeq = -1
}

// index maps a sequence number to its slot in the buffer.
func (h *History) index(seq Seq) int {
	head := 0
	if len(h.Records) == h.MaxRecords {
		head = (h.LastIndex + 1) % h.MaxRecords
	}
	offset := int(seq - h.FirstSeq)
	return (head + offset) % len(h.Records)
}

func (h *History) position(id string) int {
	for i := range h.Records {
		if h.Records[i].ID == id {
			return i
		}
	}
	return -1
}
