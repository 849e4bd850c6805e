package media

import (
	"sync"

	"huddle/internal/models"

	"github.com/rs/zerolog/log"
)

// Surface is where a stream is rendered.
type Surface interface {
	Attach(s Stream) error
	// Detach empties the surface. Tracks are left running.
	Detach()
}

// SurfaceBinding attaches a stream to a surface only while the tile is visible.
type SurfaceBinding struct {
	participantID string
	surface       Surface

	mu       sync.Mutex
	attached Stream
}

func NewSurfaceBinding(participantID string, surface Surface) *SurfaceBinding {
	return &SurfaceBinding{participantID: participantID, surface: surface}
}

// Update attaches s when the tile is visible and a stream exists, and detaches otherwise.
// An attach failure leaves the surface detached and is returned as a ResourceAttachError.
func (b *SurfaceBinding) Update(s Stream, visible bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !visible || s == nil {
		b.detach()
		return nil
	}
	if b.attached != nil && b.attached.ID() == s.ID() {
		return nil
	}

	b.detach()
	if err := b.surface.Attach(s); err != nil {
		b.surface.Detach()
		aerr := &models.ResourceAttachError{Resource: "surface", ParticipantID: b.participantID, Err: err}
		log.Warn().Err(aerr).Str("stream", s.ID()).Msg("attach stream")
		return aerr
	}
	b.attached = s
	return nil
}

// Attached returns the stream currently on the surface, if any.
func (b *SurfaceBinding) Attached() Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

func (b *SurfaceBinding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detach()
}

func (b *SurfaceBinding) detach() {
	if b.attached == nil {
		return
	}
	b.surface.Detach()
	b.attached = nil
}
