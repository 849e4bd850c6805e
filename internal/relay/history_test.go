package relay

import (
	"fmt"
	"testing"

	"huddle/internal/models"

	"github.com/stretchr/testify/require"
)

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func fill(h *History, n int) {
	for i := range n {
		h.Add(models.Message{ID: fmt.Sprintf("id%d", i), Sender: "alice", Text: fmt.Sprintf("msg %d", i)})
	}
}

func TestHistory_NoWrap(t *testing.T) {
	h := NewHistory(10)
	require.Empty(t, h.All())

	fill(h, 5)
	require.Equal(t, 5, h.Len())
	require.Equal(t, []string{"msg 3", "msg 4"}, texts(h.Last(2)))
	require.Len(t, h.Last(50), 5)
	require.Empty(t, h.Last(0))
}

func TestHistory_Wrap(t *testing.T) {
	h := NewHistory(3)
	fill(h, 4)

	// msg 0 is evicted
	require.Equal(t, []string{"msg 1", "msg 2", "msg 3"}, texts(h.All()))
	require.Equal(t, Seq(1), h.FirstSeq)
	require.Equal(t, Seq(3), h.LastSeq)

	fill(h, 2)
	require.Equal(t, []string{"msg 3", "msg 0", "msg 1"}, texts(h.All()))
	require.Equal(t, []string{"msg 0", "msg 1"}, texts(h.Last(2)))

	_, ok := h.Find("id2")
	require.False(t, ok)
}

func TestHistory_Tombstone(t *testing.T) {
	h := NewHistory(3)
	fill(h, 3)

	require.True(t, h.Tombstone("id1"))
	require.False(t, h.Tombstone("missing"))

	msg, ok := h.Find("id1")
	require.True(t, ok)
	require.True(t, msg.Deleted)
	require.Empty(t, msg.Text)
	require.Equal(t, 3, h.Len(), "tombstones stay in history")
}

func TestHistory_Reset(t *testing.T) {
	h := NewHistory(3)
	fill(h, 5)

	h.Reset()
	require.Zero(t, h.Len())
	require.Empty(t, h.All())

	fill(h, 1)
	require.Equal(t, []string{"msg 0"}, texts(h.All()))
}
