package media

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DeviceStream adapts a pion mediadevices stream.
type DeviceStream struct {
	id     string
	tracks []Track
}

// FromMediaStream wraps every track of ms. The tracks stay owned by the caller.
func FromMediaStream(id string, ms mediadevices.MediaStream) *DeviceStream {
	s := &DeviceStream{id: id}
	for _, t := range ms.GetTracks() {
		s.tracks = append(s.tracks, NewDeviceTrack(t))
	}
	return s
}

func (s *DeviceStream) ID() string { return s.id }

func (s *DeviceStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

type DeviceTrack struct {
	track mediadevices.Track

	mu      sync.RWMutex
	enabled bool
	ended   bool

	subs listeners
}

func NewDeviceTrack(t mediadevices.Track) *DeviceTrack {
	dt := &DeviceTrack{track: t, enabled: true}
	t.OnEnded(func(err error) {
		if err != nil && !errors.Is(err, io.EOF) {
			log.Warn().Err(err).Str("track", t.ID()).Msg("device track ended")
		}
		dt.mu.Lock()
		changed := !dt.ended
		dt.ended = true
		dt.mu.Unlock()
		if changed {
			dt.subs.emit(TrackEvent{Kind: TrackEnded, TrackID: t.ID()})
		}
	})
	return dt
}

func (t *DeviceTrack) ID() string                { return t.track.ID() }
func (t *DeviceTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *DeviceTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *DeviceTrack) Ended() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ended
}

func (t *DeviceTrack) Subscribe(fn func(TrackEvent)) func() {
	return t.subs.add(fn)
}

// SetEnabled records a mute or unmute reported by the signaling layer.
func (t *DeviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	changed := t.enabled != enabled && !t.ended
	t.enabled = enabled
	t.mu.Unlock()

	if !changed {
		return
	}
	kind := TrackMuted
	if enabled {
		kind = TrackUnmuted
	}
	t.subs.emit(TrackEvent{Kind: kind, TrackID: t.ID()})
}

// NewPCMReader reads raw samples of an audio track.
func (t *DeviceTrack) NewPCMReader() (PCMReader, error) {
	at, ok := t.track.(*mediadevices.AudioTrack)
	if !ok {
		return nil, fmt.Errorf("track %s is not a readable audio track", t.ID())
	}
	return &wavePCMReader{read: at.NewReader(false).Read, done: make(chan struct{})}, nil
}

type wavePCMReader struct {
	read      func() (wave.Audio, func(), error)
	done      chan struct{}
	closeOnce sync.Once
}

func (r *wavePCMReader) ReadPCM() ([]float64, error) {
	select {
	case <-r.done:
		return nil, io.EOF
	default:
	}

	chunk, release, err := r.read()
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	return monoSamples(chunk), nil
}

// Close makes the next read fail. A read already blocked on the device
// returns with the next chunk.
func (r *wavePCMReader) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

// monoSamples downmixes a chunk to mono floats in [-1, 1].
func monoSamples(chunk wave.Audio) []float64 {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		ch := max(c.Size.Channels, 1)
		n := min(c.Size.Len, len(c.Data)/ch)
		out := make([]float64, n)
		for i := range n {
			var sum float64
			for j := range ch {
				sum += float64(c.Data[i*ch+j]) / 32768
			}
			out[i] = sum / float64(ch)
		}
		return out
	case *wave.Float32Interleaved:
		ch := max(c.Size.Channels, 1)
		n := min(c.Size.Len, len(c.Data)/ch)
		out := make([]float64, n)
		for i := range n {
			var sum float64
			for j := range ch {
				sum += float64(c.Data[i*ch+j])
			}
			out[i] = sum / float64(ch)
		}
		return out
	case *wave.Int16NonInterleaved:
		return downmix(c.Data, func(v int16) float64 { return float64(v) / 32768 })
	case *wave.Float32NonInterleaved:
		return downmix(c.Data, func(v float32) float64 { return float64(v) })
	default:
		return nil
	}
}

func downmix[T int16 | float32](channels [][]T, conv func(T) float64) []float64 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	for _, ch := range channels[1:] {
		n = min(n, len(ch))
	}
	out := make([]float64, n)
	for i := range n {
		var sum float64
		for _, ch := range channels {
			sum += conv(ch[i])
		}
		out[i] = sum / float64(len(channels))
	}
	return out
}
