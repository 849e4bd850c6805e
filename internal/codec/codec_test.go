package codec

import (
	"regexp"
	"testing"
	"time"

	"huddle/internal/models"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func testCodec() Codec {
	return Codec{Now: func() time.Time { return fixedNow }}
}

func TestNormalize_Defaults(t *testing.T) {
	c := testCodec()

	msg := c.Normalize(map[string]any{})
	require.Equal(t, models.SystemSender, msg.Sender)
	require.Equal(t, models.MessageKindChat, msg.Kind)
	require.Equal(t, fixedNow.UnixMilli(), msg.Timestamp)
	require.Regexp(t, regexp.MustCompile(`^1700000000000-[0-9a-f]{8}$`), msg.ID)
	require.False(t, msg.Deleted)
}

func TestNormalize_FieldAliases(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name string
		raw  map[string]any
		want models.Message
	}{
		{
			name: "from",
			raw:  map[string]any{"id": "m1", "from": "Alice", "text": "hi", "ts": float64(1000)},
			want: models.Message{ID: "m1", Sender: "Alice", Kind: models.MessageKindChat, Text: "hi", Timestamp: 1000},
		},
		{
			name: "user",
			raw:  map[string]any{"id": "m2", "user": "Bob", "text": "yo", "timestamp": "2000"},
			want: models.Message{ID: "m2", Sender: "Bob", Kind: models.MessageKindChat, Text: "yo", Timestamp: 2000},
		},
		{
			name: "file inferred",
			raw:  map[string]any{"id": "m3", "sender": "Eve", "filename": "a.png", "mime": "image/png", "ts": float64(3)},
			want: models.Message{ID: "m3", Sender: "Eve", Kind: models.MessageKindFile, Timestamp: 3, FileName: "a.png", FileType: "image/png"},
		},
		{
			name: "explicit system",
			raw:  map[string]any{"id": float64(42), "type": "system", "text": "joined", "ts": float64(5)},
			want: models.Message{ID: "42", Sender: models.SystemSender, Kind: models.MessageKindSystem, Text: "joined", Timestamp: 5},
		},
		{
			name: "kind key",
			raw:  map[string]any{"id": "m5", "kind": "system", "from": "Al", "text": "brb", "ts": float64(6)},
			want: models.Message{ID: "m5", Sender: "Al", Kind: models.MessageKindSystem, Text: "brb", Timestamp: 6},
		},
		{
			name: "tombstone",
			raw:  map[string]any{"id": "m6", "from": "Al", "text": "x", "ts": float64(7), "deleted": true},
			want: models.Message{ID: "m6", Sender: "Al", Kind: models.MessageKindChat, Text: "x", Timestamp: 7, Deleted: true},
		},
		{
			name: "non-string text",
			raw:  map[string]any{"id": "m7", "from": "Al", "text": float64(12), "ts": float64(8)},
			want: models.Message{ID: "m7", Sender: "Al", Kind: models.MessageKindChat, Text: "12", Timestamp: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, c.Normalize(tt.raw))
		})
	}
}

func TestNormalizeAll_NonObjects(t *testing.T) {
	c := testCodec()

	msgs := c.NormalizeAll([]any{map[string]any{"id": "a", "from": "Al", "ts": float64(1)}, "oops", float64(3)})
	require.Len(t, msgs, 3)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, models.MessageKindSystem, msgs[1].Kind)
	require.Equal(t, "oops", msgs[1].Text)
	require.Equal(t, "3", msgs[2].Text)
}

func TestDecode(t *testing.T) {
	c := testCodec()

	t.Run("History", func(t *testing.T) {
		ev := c.Decode([]byte(`{"type":"history","items":[{"id":"m1","from":"Alice","text":"hi","ts":1000},{"from":"Bob","text":"x","ts":2000}]}`))
		require.Equal(t, models.EventHistory, ev.Kind)
		require.Len(t, ev.Messages, 2)
		require.Equal(t, models.Message{ID: "m1", Sender: "Alice", Kind: models.MessageKindChat, Text: "hi", Timestamp: 1000}, ev.Messages[0])
		require.NotEmpty(t, ev.Messages[1].ID)
	})

	t.Run("History without items", func(t *testing.T) {
		ev := c.Decode([]byte(`{"type":"history","items":"nope"}`))
		require.Equal(t, models.EventHistory, ev.Kind)
		require.Empty(t, ev.Messages)
	})

	t.Run("Delete", func(t *testing.T) {
		ev := c.Decode([]byte(`{"type":"delete","id":"m1"}`))
		require.Equal(t, models.Event{Kind: models.EventDelete, ID: "m1"}, ev)
	})

	t.Run("Clear", func(t *testing.T) {
		ev := c.Decode([]byte(`{"type":"clear"}`))
		require.Equal(t, models.EventClear, ev.Kind)
	})

	t.Run("Error", func(t *testing.T) {
		ev := c.Decode([]byte(`{"type":"error","message":"slow down"}`))
		require.Equal(t, models.Event{Kind: models.EventNotice, Notice: "slow down"}, ev)
	})

	t.Run("Chat", func(t *testing.T) {
		ev := c.Decode([]byte(`{"type":"chat","id":"m9","from":"Alice","text":"hey","ts":5}`))
		require.Equal(t, models.EventAppend, ev.Kind)
		require.Equal(t, "hey", ev.Message.Text)
		require.Equal(t, models.MessageKindChat, ev.Message.Kind)
	})

	t.Run("Untyped object", func(t *testing.T) {
		ev := c.Decode([]byte(`{"id":"m10","from":"Bob","filename":"a.png","ts":6}`))
		require.Equal(t, models.EventAppend, ev.Kind)
		require.Equal(t, models.MessageKindFile, ev.Message.Kind)
		require.Equal(t, "Bob", ev.Message.Sender)
	})

	t.Run("Unknown type", func(t *testing.T) {
		raw := `{"type":"typing","user":"Bob"}`
		ev := c.Decode([]byte(raw))
		require.Equal(t, models.EventAppend, ev.Kind)
		require.Equal(t, models.MessageKindSystem, ev.Message.Kind)
		require.Equal(t, models.SystemSender, ev.Message.Sender)
		require.Equal(t, raw, ev.Message.Text)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		ev := c.Decode([]byte(`hello there`))
		require.Equal(t, models.EventAppend, ev.Kind)
		require.Equal(t, models.MessageKindSystem, ev.Message.Kind)
		require.Equal(t, models.SystemSender, ev.Message.Sender)
		require.Equal(t, "hello there", ev.Message.Text)
	})

	t.Run("Non-object JSON", func(t *testing.T) {
		ev := c.Decode([]byte(`"just text"`))
		require.Equal(t, models.EventAppend, ev.Kind)
		require.Equal(t, `"just text"`, ev.Message.Text)
	})
}

func TestSyntheticID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := SyntheticID(1)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCanonical(t *testing.T) {
	c := testCodec()

	msg := c.Canonical(models.Message{FileName: "a.png"})
	require.Equal(t, models.SystemSender, msg.Sender)
	require.Equal(t, models.MessageKindFile, msg.Kind)
	require.Equal(t, fixedNow.UnixMilli(), msg.Timestamp)
	require.NotEmpty(t, msg.ID)

	complete := models.Message{ID: "m1", Sender: "Alice", Kind: models.MessageKindSystem, Text: "x", Timestamp: 10}
	require.Equal(t, complete, c.Canonical(complete))
}
