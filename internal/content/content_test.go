package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"Keeps text", "see you at 5", "see you at 5"},
		{"Keeps formatting", "<em>soon</em>", "<em>soon</em>"},
		{"Drops scripts", "<script>steal()</script>ok", "ok"},
		{"Drops javascript links", "<a href='javascript:void(0)'>x</a>", "x"},
		{"Unicode", "до встречи 👋", "до встречи 👋"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Sanitize(tc.input))
		})
	}
}

func TestEscape(t *testing.T) {
	require.Equal(t, "a &amp; b", Escape("a & b"))
	require.Equal(t, "&lt;i&gt;", Escape("<i>"))
	require.Equal(t, "&#34;q&#34;", Escape(`"q"`))
}

func TestRender(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"Paragraph", "hi", "<p>hi</p>"},
		{"Strong", "**hi**", "<p><strong>hi</strong></p>"},
		{"Inline code", "`go test`", "<p><code>go test</code></p>"},
		{"Raw HTML dropped", "<script>alert(1)</script>", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Render(tc.input))
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	for _, id := range []string{"lobby", "team.sync", "team-sync", "team_sync", "R2"} {
		require.NoError(t, ValidateRoomID(id), id)
	}
	for _, id := range []string{"", "team sync", "team/sync", "lobby?x=1", "чат"} {
		require.Error(t, ValidateRoomID(id), id)
	}
}
