package media

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// PollInterval is how often a monitor recomputes status without any track event.
const PollInterval = time.Second

// TrackMonitor keeps the TrackStatus of one participant's stream current.
// Poll ticks and track events feed the same refresh, so both paths always
// agree on the derived status.
type TrackMonitor struct {
	onChange func(TrackStatus)

	mu     sync.Mutex
	stream Stream
	gen    int
	unsubs []func()
	status TrackStatus
	closed bool

	ticker *clock.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewTrackMonitor starts polling right away. onChange runs only when the status changes.
func NewTrackMonitor(clk clock.Clock, onChange func(TrackStatus)) *TrackMonitor {
	if clk == nil {
		clk = clock.New()
	}
	m := &TrackMonitor{
		onChange: onChange,
		ticker:   clk.Ticker(PollInterval),
		done:     make(chan struct{}),
	}

	m.wg.Go(func() {
		for {
			select {
			case <-m.done:
				return
			case <-m.ticker.C:
				m.Refresh()
			}
		}
	})
	return m
}

// SetStream switches to s. Every listener of the previous stream is removed
// before the tracks of s are subscribed.
func (m *TrackMonitor) SetStream(s Stream) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.unsubscribe()
	m.stream = s
	m.gen++
	gen := m.gen
	if s != nil {
		for _, t := range s.Tracks() {
			m.unsubs = append(m.unsubs, t.Subscribe(func(TrackEvent) {
				m.refresh(gen)
			}))
		}
	}
	m.mu.Unlock()

	m.Refresh()
}

func (m *TrackMonitor) Status() TrackStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Refresh recomputes the status from the current stream.
func (m *TrackMonitor) Refresh() {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.refresh(gen)
}

func (m *TrackMonitor) refresh(gen int) {
	m.mu.Lock()
	// Events from a stream that was already swapped out are ignored
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	status := ComputeStatus(m.stream)
	changed := status != m.status
	m.status = status
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(status)
	}
}

// Close stops polling and removes every listener. It is safe to call more than once.
func (m *TrackMonitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.unsubscribe()
	m.stream = nil
	m.mu.Unlock()

	m.ticker.Stop()
	close(m.done)
	m.wg.Wait()
}

// Must be called with mu held.
func (m *TrackMonitor) unsubscribe() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}
