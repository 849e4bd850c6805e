package storage

import (
	"encoding"

	"huddle/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// LogStore persists the full message log of a room under one key.
type LogStore interface {
	SaveLog(room string, messages []models.Message) error
	LoadLog(room string) ([]models.Message, error)
	DeleteLog(room string) error
}

type DBMessage struct {
	ID        string `msgpack:"id"`
	Sender    string `msgpack:"sender"`
	Kind      string `msgpack:"kind"`
	Text      string `msgpack:"text"`
	Timestamp int64  `msgpack:"ts"`
	FileName  string `msgpack:"fileName"`
	FileType  string `msgpack:"fileType"`
	Deleted   bool   `msgpack:"deleted"`
}

// DBLog is the record stored per room.
type DBLog struct {
	Room     string      `msgpack:"room"`
	Messages []DBMessage `msgpack:"messages"`
}

func (l *DBLog) Key() []byte {
	return []byte(l.Room)
}

func (l *DBLog) MarshalBinary() (data []byte, err error) {
	type alias DBLog
	return msgpack.Marshal((*alias)(l))
}

func (l *DBLog) UnmarshalBinary(data []byte) error {
	type alias DBLog
	return msgpack.Unmarshal(data, (*alias)(l))
}

type DBColor struct {
	Name  string `msgpack:"name"`
	Token string `msgpack:"token"`
}

func (c *DBColor) Key() []byte {
	return []byte(c.Name)
}

func (c *DBColor) MarshalBinary() (data []byte, err error) {
	type alias DBColor
	return msgpack.Marshal((*alias)(c))
}

func (c *DBColor) UnmarshalBinary(data []byte) error {
	type alias DBColor
	return msgpack.Unmarshal(data, (*alias)(c))
}

func newDBLog(room string, messages []models.Message) *DBLog {
	dbLog := &DBLog{Room: room, Messages: make([]DBMessage, len(messages))}
	for i, m := range messages {
		dbLog.Messages[i] = DBMessage{
			ID:        m.ID,
			Sender:    m.Sender,
			Kind:      string(m.Kind),
			Text:      m.Text,
			Timestamp: m.Timestamp,
			FileName:  m.FileName,
			FileType:  m.FileType,
			Deleted:   m.Deleted,
		}
	}
	return dbLog
}

func (l *DBLog) messages() []models.Message {
	messages := make([]models.Message, len(l.Messages))
	for i, m := range l.Messages {
		messages[i] = models.Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Kind:      models.MessageKind(m.Kind),
			Text:      m.Text,
			Timestamp: m.Timestamp,
			FileName:  m.FileName,
			FileType:  m.FileType,
			Deleted:   m.Deleted,
		}
	}
	return messages
}
