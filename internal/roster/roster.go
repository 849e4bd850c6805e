// Package roster assembles participants into the frame the call view renders
// and handles the user's intents on it.
package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/layout"
	"huddle/internal/media"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// SearchDebounce is how long the search box has to settle before filtering.
const SearchDebounce = 200 * time.Millisecond

// Participant is one person in the call. Streams are borrowed from the
// signaling layer and never stopped here.
type Participant struct {
	ID            string
	Label         string
	Stream        media.Stream
	IsLocal       bool
	Mic           bool
	Camera        bool
	ScreenSharing bool
}

// Peer is a remote participant as reported by the signaling layer.
// Nil flags are derived from the observed track status.
type Peer struct {
	ID          string
	Label       string
	Stream      media.Stream
	Mic         *bool
	Camera      *bool
	ScreenShare *bool
}

type Local struct {
	ID            string
	Label         string
	Stream        media.Stream
	Mic           bool
	Camera        bool
	ScreenSharing bool
}

type ColorSource interface {
	Color(name string) string
}

type Config struct {
	Local    Local
	Clock    clock.Clock
	Playback bool
	Compact  bool
	Docked   bool
	PageSize int
	Width    int

	// Surfaces provides the rendering surface of a participant; nil disables binding.
	Surfaces  func(participantID string) media.Surface
	Analysers media.AnalyserFactory
	Colors    ColorSource

	// Leave runs the external leave handler of the call.
	Leave    func(ctx context.Context) error
	Navigate func(url string)
	LeaveURL string

	// OnChange is called from a single goroutine whenever the frame may have changed.
	OnChange func()
}

type TileView struct {
	Participant Participant
	Status      media.TrackStatus
	Speaking    bool
	Color       string
	Pinned      bool
}

type View struct {
	Pinned     *TileView
	Tiles      []TileView
	Page       int
	TotalPages int
	HasPrev    bool
	HasNext    bool
	Docked     bool
	Search     string
	Layout     layout.Frame
}

type member struct {
	id      string
	label   string
	local   bool
	stream  media.Stream
	flags   Peer
	own     Local
	monitor *media.TrackMonitor
	speaker *media.SpeakingDetector
	binding *media.SurfaceBinding
}

type Roster struct {
	cfg Config

	mu       sync.Mutex
	order    []string
	members  map[string]*member
	layout   *layout.State
	playback bool
	search   string
	debounce *clock.Timer
	closed   bool

	dirty chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

func New(cfg Config) *Roster {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	r := &Roster{
		cfg:      cfg,
		members:  make(map[string]*member),
		playback: cfg.Playback,
		layout: layout.NewState(layout.Input{
			Compact:  cfg.Compact,
			Docked:   cfg.Docked,
			PageSize: cfg.PageSize,
			Width:    cfg.Width,
			Page:     1,
		}),
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	r.wg.Go(r.notifyLoop)

	r.mu.Lock()
	local := r.newMember(cfg.Local.ID, cfg.Local.Label, true)
	local.own = cfg.Local
	r.setStream(local, cfg.Local.Stream)
	r.order = append(r.order, local.id)
	r.members[local.id] = local
	r.relayout()
	r.mu.Unlock()

	return r
}

// SyncPeers makes the remote set equal to peers. New ids are appended in
// arrival order, missing ids are dropped and their resources released.
func (r *Roster) SyncPeers(peers []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	present := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		if p.ID == "" || p.ID == r.cfg.Local.ID {
			continue
		}
		present[p.ID] = struct{}{}

		m, ok := r.members[p.ID]
		if !ok {
			m = r.newMember(p.ID, p.Label, false)
			r.members[p.ID] = m
			r.order = append(r.order, p.ID)
		}
		m.label = p.Label
		m.flags = p
		r.setStream(m, p.Stream)
	}

	kept := r.order[:0]
	for _, id := range r.order {
		m := r.members[id]
		if _, ok := present[id]; ok || m.local {
			kept = append(kept, id)
			continue
		}
		r.release(m)
		delete(r.members, id)
		if r.layout.PinnedID() == id {
			r.layout.SetPinned("")
		}
	}
	r.order = kept

	r.relayout()
}

// SetLocal updates the local participant's stream and flags.
func (r *Roster) SetLocal(l Local) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	m := r.members[r.cfg.Local.ID]
	m.label = l.Label
	m.own = l
	m.own.ID = r.cfg.Local.ID
	r.setStream(m, l.Stream)
	r.relayout()
}

// Participants lists everyone, local first, then remotes in arrival order.
func (r *Roster) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participant(r.members[id]))
	}
	return out
}

func (r *Roster) PinSelf() {
	r.pin(r.cfg.Local.ID)
}

// PinPeer pins a remote participant, replacing any other pin.
func (r *Roster) PinPeer(id string) {
	r.pin(id)
}

func (r *Roster) Unpin() {
	r.pin("")
}

// TogglePin pins id, or unpins it when it is already pinned.
func (r *Roster) TogglePin(id string) {
	r.update(func() {
		if r.layout.PinnedID() == id {
			r.layout.SetPinned("")
			return
		}
		if _, ok := r.members[id]; ok {
			r.layout.SetPinned(id)
		}
	})
}

func (r *Roster) PinnedID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layout.PinnedID()
}

func (r *Roster) pin(id string) {
	r.update(func() {
		if _, ok := r.members[id]; id != "" && !ok {
			return
		}
		r.layout.SetPinned(id)
	})
}

// SetSearch filters tiles by label once the query has been stable for SearchDebounce.
func (r *Roster) SetSearch(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.search = query
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = r.cfg.Clock.AfterFunc(SearchDebounce, func() {
		r.update(func() {
			// A newer keystroke already rescheduled the filter
			if r.search == query {
				r.layout.SetFilter(query)
			}
		})
	})
}

func (r *Roster) SetPage(page int) {
	r.update(func() { r.layout.SetPage(page) })
}

func (r *Roster) NextPage() {
	r.update(r.layout.NextPage)
}

func (r *Roster) PrevPage() {
	r.update(r.layout.PrevPage)
}

func (r *Roster) ToggleDock() {
	r.update(func() { r.layout.SetDocked(!r.layout.Docked()) })
}

// Resize reports a new measured container width.
func (r *Roster) Resize(width int) {
	r.update(func() { r.layout.SetWidth(width) })
}

// SetPlayback switches local audio playback, which also gates speaking detection.
func (r *Roster) SetPlayback(enabled bool) {
	r.update(func() {
		r.playback = enabled
		for _, m := range r.members {
			if m.speaker != nil {
				m.speaker.SetPlayback(enabled)
			}
		}
	})
}

// EndCall runs the leave handler. A hard navigation to LeaveURL is the fallback
// when there is no handler or it fails in any way; the handler's failure is returned.
func (r *Roster) EndCall(ctx context.Context) error {
	if r.cfg.Leave != nil {
		err := runLeave(ctx, r.cfg.Leave)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Msg("leave handler failed, navigating away")
		r.navigate()
		return err
	}
	r.navigate()
	return nil
}

func (r *Roster) navigate() {
	if r.cfg.Navigate != nil {
		r.cfg.Navigate(r.cfg.LeaveURL)
	}
}

func runLeave(ctx context.Context, leave func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("leave handler panicked: %v", rec)
		}
	}()
	return leave(ctx)
}

// Frame builds the renderable view: the pinned tile, the current page and pagination.
func (r *Roster) Frame() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.layout.Frame()
	v := View{
		Page:       f.Page,
		TotalPages: f.TotalPages,
		HasPrev:    f.HasPrev(),
		HasNext:    f.HasNext(),
		Docked:     r.layout.Docked(),
		Search:     r.search,
		Layout:     f,
	}
	if f.Pinned != nil {
		tile := r.tile(r.members[f.Pinned.ID])
		tile.Pinned = true
		v.Pinned = &tile
	}
	v.Tiles = make([]TileView, 0, len(f.Visible))
	for _, t := range f.Visible {
		v.Tiles = append(v.Tiles, r.tile(r.members[t.ID]))
	}
	return v
}

// Close releases every monitor, detector and surface binding. It is safe to call more than once.
func (r *Roster) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.debounce != nil {
		r.debounce.Stop()
	}
	for _, m := range r.members {
		r.release(m)
	}
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
}

// Must be called with mu held.
func (r *Roster) newMember(id, label string, local bool) *member {
	m := &member{id: id, label: label, local: local}
	m.monitor = media.NewTrackMonitor(r.cfg.Clock, func(media.TrackStatus) { r.changed() })
	if !local {
		m.speaker = media.NewSpeakingDetector(media.SpeakingConfig{
			ParticipantID: id,
			Playback:      r.playback,
			Clock:         r.cfg.Clock,
			Factory:       r.cfg.Analysers,
			OnChange:      func(bool) { r.changed() },
		})
	}
	if r.cfg.Surfaces != nil {
		if surface := r.cfg.Surfaces(id); surface != nil {
			m.binding = media.NewSurfaceBinding(id, surface)
		}
	}
	return m
}

// Must be called with mu held.
func (r *Roster) setStream(m *member, s media.Stream) {
	if sameStream(m.stream, s) {
		return
	}
	m.stream = s
	m.monitor.SetStream(s)
	if m.speaker != nil {
		m.speaker.SetStream(s)
	}
}

// Must be called with mu held.
func (r *Roster) release(m *member) {
	m.monitor.Close()
	if m.speaker != nil {
		m.speaker.Close()
	}
	if m.binding != nil {
		m.binding.Close()
	}
}

// update applies an intent and refreshes the layout. Callbacks of monitors and
// detectors never take mu, so holding it while they tear down is safe.
func (r *Roster) update(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	fn()
	r.relayout()
}

// relayout feeds the member list to the layout and rebinds surfaces so only
// visible tiles hold a stream. Must be called with mu held.
func (r *Roster) relayout() {
	tiles := make([]layout.Tile, 0, len(r.order))
	for _, id := range r.order {
		tiles = append(tiles, layout.Tile{ID: id, Label: r.members[id].label})
	}
	r.layout.SetTiles(tiles)

	f := r.layout.Frame()
	visible := make(map[string]bool, len(f.Visible)+1)
	if f.Pinned != nil {
		visible[f.Pinned.ID] = true
	}
	for _, t := range f.Visible {
		visible[t.ID] = true
	}
	for _, id := range r.order {
		m := r.members[id]
		if m.binding != nil {
			// Attach failures are logged by the binding and leave the tile without video
			_ = m.binding.Update(m.stream, visible[id])
		}
	}

	r.changed()
}

// Must be called with mu held.
func (r *Roster) participant(m *member) Participant {
	p := Participant{ID: m.id, Label: m.label, Stream: m.stream, IsLocal: m.local}
	if m.local {
		p.Mic, p.Camera, p.ScreenSharing = m.own.Mic, m.own.Camera, m.own.ScreenSharing
		return p
	}
	status := m.monitor.Status()
	p.Mic = flag(m.flags.Mic, status.AudioOn)
	p.Camera = flag(m.flags.Camera, status.VideoOn)
	p.ScreenSharing = flag(m.flags.ScreenShare, false)
	return p
}

// Must be called with mu held.
func (r *Roster) tile(m *member) TileView {
	t := TileView{
		Participant: r.participant(m),
		Status:      m.monitor.Status(),
	}
	if m.speaker != nil {
		t.Speaking = m.speaker.Speaking()
	}
	if r.cfg.Colors != nil {
		t.Color = r.cfg.Colors.Color(m.label)
	}
	return t
}

func (r *Roster) changed() {
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

func (r *Roster) notifyLoop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.dirty:
			if r.cfg.OnChange != nil {
				r.cfg.OnChange()
			}
		}
	}
}

func flag(reported *bool, observed bool) bool {
	if reported != nil {
		return *reported
	}
	return observed
}

func sameStream(a, b media.Stream) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
