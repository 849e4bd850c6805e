package media

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// quietTrack changes state without emitting events, so only polling can notice.
type quietTrack struct {
	mu      sync.Mutex
	enabled bool
}

func (q *quietTrack) ID() string                        { return "quiet" }
func (q *quietTrack) Kind() webrtc.RTPCodecType         { return webrtc.RTPCodecTypeVideo }
func (q *quietTrack) Ended() bool                       { return false }
func (q *quietTrack) Subscribe(func(TrackEvent)) func() { return func() {} }

func (q *quietTrack) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

func (q *quietTrack) set(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enabled = enabled
}

type statusRecorder struct {
	mu      sync.Mutex
	changes []TrackStatus
}

func (r *statusRecorder) record(s TrackStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, s)
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func TestTrackMonitor_EventsRefresh(t *testing.T) {
	rec := &statusRecorder{}
	m := NewTrackMonitor(clock.NewMock(), rec.record)
	defer m.Close()

	mic := audio("a", true)
	cam := video("v", false)
	m.SetStream(NewStaticStream("s", mic, cam))
	require.Equal(t, TrackStatus{AudioOn: true, AudioTracks: 1, VideoTracks: 1}, m.Status())

	cam.SetEnabled(true)
	require.True(t, m.Status().VideoOn)

	mic.SetEnabled(false)
	require.False(t, m.Status().AudioOn)

	require.Equal(t, 3, rec.count())
}

func TestTrackMonitor_PollingRefresh(t *testing.T) {
	mock := clock.NewMock()
	m := NewTrackMonitor(mock, nil)
	defer m.Close()

	q := &quietTrack{}
	m.SetStream(NewStaticStream("s", q))
	require.False(t, m.Status().VideoOn)

	q.set(true)
	require.False(t, m.Status().VideoOn, "nothing notices before the poll")

	mock.Add(PollInterval)
	require.Eventually(t, func() bool { return m.Status().VideoOn }, time.Second, 5*time.Millisecond)
}

func TestTrackMonitor_StreamSwapDropsListeners(t *testing.T) {
	m := NewTrackMonitor(clock.NewMock(), nil)
	defer m.Close()

	oldMic := audio("old", true)
	m.SetStream(NewStaticStream("old", oldMic))
	require.Equal(t, 1, oldMic.Listeners())

	newMic := audio("new", false)
	m.SetStream(NewStaticStream("new", newMic))
	require.Zero(t, oldMic.Listeners())
	require.Equal(t, 1, newMic.Listeners())
	require.False(t, m.Status().AudioOn)

	// The old stream no longer drives the status
	oldMic.SetEnabled(false)
	oldMic.SetEnabled(true)
	require.False(t, m.Status().AudioOn)

	m.SetStream(nil)
	require.Zero(t, newMic.Listeners())
	require.Equal(t, TrackStatus{}, m.Status())
}

func TestTrackMonitor_Close(t *testing.T) {
	mic := audio("a", true)
	m := NewTrackMonitor(clock.NewMock(), nil)
	m.SetStream(NewStaticStream("s", mic))

	m.Close()
	m.Close()
	require.Zero(t, mic.Listeners())

	// A closed monitor ignores new streams
	m.SetStream(NewStaticStream("s2", mic))
	require.Zero(t, mic.Listeners())
}
