package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func audio(id string, enabled bool) *StaticTrack {
	return NewStaticTrack(id, webrtc.RTPCodecTypeAudio, enabled)
}

func video(id string, enabled bool) *StaticTrack {
	return NewStaticTrack(id, webrtc.RTPCodecTypeVideo, enabled)
}

func TestComputeStatus(t *testing.T) {
	ended := video("v-ended", true)
	ended.End()

	testCases := []struct {
		name   string
		stream Stream
		want   TrackStatus
	}{
		{"Nil stream", nil, TrackStatus{}},
		{"Empty stream", NewStaticStream("s"), TrackStatus{}},
		{
			"Both live",
			NewStaticStream("s", audio("a", true), video("v", true)),
			TrackStatus{VideoOn: true, AudioOn: true, VideoTracks: 1, AudioTracks: 1},
		},
		{
			"Muted audio",
			NewStaticStream("s", audio("a", false), video("v", true)),
			TrackStatus{VideoOn: true, AudioOn: false, VideoTracks: 1, AudioTracks: 1},
		},
		{
			"Ended video counts but is off",
			NewStaticStream("s", ended),
			TrackStatus{VideoOn: false, VideoTracks: 1},
		},
		{
			"Any live track of a kind",
			NewStaticStream("s", video("v1", false), video("v2", true), ended),
			TrackStatus{VideoOn: true, VideoTracks: 3},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ComputeStatus(tc.stream))
		})
	}
}

func TestStaticTrack_Events(t *testing.T) {
	tr := audio("a", true)

	var got []TrackEvent
	unsub := tr.Subscribe(func(ev TrackEvent) { got = append(got, ev) })
	require.Equal(t, 1, tr.Listeners())

	tr.SetEnabled(true) // no change, no event
	tr.SetEnabled(false)
	tr.SetEnabled(true)
	tr.End()
	tr.End()
	tr.SetEnabled(false) // ended tracks stay as they are

	require.Equal(t, []TrackEvent{
		{Kind: TrackMuted, TrackID: "a"},
		{Kind: TrackUnmuted, TrackID: "a"},
		{Kind: TrackEnded, TrackID: "a"},
	}, got)

	unsub()
	unsub()
	require.Zero(t, tr.Listeners())
}

func TestAudioTracks(t *testing.T) {
	s := NewStaticStream("s", video("v", true), audio("a1", true), audio("a2", false))
	tracks := AudioTracks(s)
	require.Len(t, tracks, 2)
	require.Equal(t, "a1", tracks[0].ID())
	require.Nil(t, AudioTracks(nil))
}
