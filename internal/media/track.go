// Package media watches participant streams: track health, surface
// binding and speaking detection. Streams are borrowed; nothing in this
// package ever stops a track it did not create.
package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var ErrNoAudioSource = errors.New("stream has no readable audio track")

type TrackEventKind int

const (
	TrackMuted TrackEventKind = iota
	TrackUnmuted
	TrackEnded
)

type TrackEvent struct {
	Kind    TrackEventKind
	TrackID string
}

// Track is one live audio or video track of a stream.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	Ended() bool
	// Subscribe registers fn for mute, unmute and end events and returns its removal.
	Subscribe(fn func(TrackEvent)) (unsubscribe func())
}

type Stream interface {
	ID() string
	Tracks() []Track
}

// PCMReader yields mono samples in [-1, 1]. Close unblocks a pending ReadPCM.
type PCMReader interface {
	ReadPCM() ([]float64, error)
	Close() error
}

// PCMTrack is an audio track whose samples can be read for analysis.
type PCMTrack interface {
	Track
	NewPCMReader() (PCMReader, error)
}

// TrackStatus is derived from a stream on every poll or track event.
type TrackStatus struct {
	VideoOn     bool
	AudioOn     bool
	VideoTracks int
	AudioTracks int
}

// ComputeStatus reduces a stream to its status. A nil stream has everything off.
func ComputeStatus(s Stream) TrackStatus {
	var status TrackStatus
	if s == nil {
		return status
	}
	for _, t := range s.Tracks() {
		live := t.Enabled() && !t.Ended()
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			status.VideoTracks++
			status.VideoOn = status.VideoOn || live
		case webrtc.RTPCodecTypeAudio:
			status.AudioTracks++
			status.AudioOn = status.AudioOn || live
		}
	}
	return status
}

// AudioTracks returns the audio tracks of s.
func AudioTracks(s Stream) []Track {
	if s == nil {
		return nil
	}
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			out = append(out, t)
		}
	}
	return out
}

type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(TrackEvent)
}

func (l *listeners) add(fn func(TrackEvent)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(TrackEvent))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) emit(ev TrackEvent) {
	l.mu.Lock()
	fns := make([]func(TrackEvent), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (l *listeners) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// StaticTrack is an in-memory track for signaling layers that only report flags.
type StaticTrack struct {
	id   string
	kind webrtc.RTPCodecType

	mu      sync.RWMutex
	enabled bool
	ended   bool

	subs listeners
}

func NewStaticTrack(id string, kind webrtc.RTPCodecType, enabled bool) *StaticTrack {
	return &StaticTrack{id: id, kind: kind, enabled: enabled}
}

func (t *StaticTrack) ID() string                { return t.id }
func (t *StaticTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *StaticTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *StaticTrack) Ended() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ended
}

func (t *StaticTrack) Subscribe(fn func(TrackEvent)) func() {
	return t.subs.add(fn)
}

// Listeners reports how many subscriptions are active.
func (t *StaticTrack) Listeners() int {
	return t.subs.len()
}

// SetEnabled mutes or unmutes the track.
func (t *StaticTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	changed := t.enabled != enabled && !t.ended
	if changed {
		t.enabled = enabled
	}
	t.mu.Unlock()

	if !changed {
		return
	}
	kind := TrackMuted
	if enabled {
		kind = TrackUnmuted
	}
	t.subs.emit(TrackEvent{Kind: kind, TrackID: t.id})
}

// End marks the track ended. Ended tracks never come back.
func (t *StaticTrack) End() {
	t.mu.Lock()
	changed := !t.ended
	t.ended = true
	t.mu.Unlock()

	if changed {
		t.subs.emit(TrackEvent{Kind: TrackEnded, TrackID: t.id})
	}
}

type StaticStream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

func NewStaticStream(id string, tracks ...Track) *StaticStream {
	return &StaticStream{id: id, tracks: tracks}
}

func (s *StaticStream) ID() string { return s.id }

func (s *StaticStream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *StaticStream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}
