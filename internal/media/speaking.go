package media

import (
	"errors"
	"sync"
	"time"

	"huddle/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const (
	SampleInterval = 100 * time.Millisecond

	// DefaultSpeakingThreshold is compared against the rolling average of
	// frequency data on the 0-255 byte scale.
	DefaultSpeakingThreshold = 18.0

	rollingSamples = 3
)

// Analyser is one audio analysis graph built over a stream.
type Analyser interface {
	// FrequencyData returns the current spectrum, one byte per bin.
	FrequencyData() []byte
	Close() error
}

type AnalyserFactory func(s Stream) (Analyser, error)

type SpeakingConfig struct {
	ParticipantID string
	// Local participants are never analysed.
	Local     bool
	Playback  bool
	Clock     clock.Clock
	Factory   AnalyserFactory
	Threshold float64
	OnChange  func(speaking bool)
}

// SpeakingDetector decides whether a remote participant is talking right now.
// It owns at most one analysis graph at a time and releases it on every
// stream swap, playback switch-off and Close.
type SpeakingDetector struct {
	cfg SpeakingConfig

	// opMu serializes graph setup and teardown.
	opMu sync.Mutex

	mu       sync.Mutex
	stream   Stream
	playback bool
	closed   bool
	gen      int
	samples  []float64
	speaking bool

	analyser Analyser
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewSpeakingDetector(cfg SpeakingConfig) *SpeakingDetector {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Factory == nil {
		cfg.Factory = NewFFTAnalyserFactory(FFTOptions{})
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultSpeakingThreshold
	}
	return &SpeakingDetector{cfg: cfg, playback: cfg.Playback}
}

// SetStream tears down the graph of the previous stream and builds one for s.
func (d *SpeakingDetector) SetStream(s Stream) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.stream = s
	d.mu.Unlock()

	d.rebuild()
}

// SetPlayback turns analysis on or off together with local audio playback.
func (d *SpeakingDetector) SetPlayback(enabled bool) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	if d.closed || d.playback == enabled {
		d.mu.Unlock()
		return
	}
	d.playback = enabled
	d.mu.Unlock()

	d.rebuild()
}

func (d *SpeakingDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Active reports whether an analysis graph is currently running.
func (d *SpeakingDetector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.analyser != nil
}

// Close releases the analysis graph. It is safe to call more than once.
func (d *SpeakingDetector) Close() {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.stream = nil
	d.mu.Unlock()

	d.teardown()
}

// Must be called with opMu held.
func (d *SpeakingDetector) rebuild() {
	d.teardown()

	d.mu.Lock()
	stream, playback := d.stream, d.playback
	d.mu.Unlock()

	if d.cfg.Local || !playback || stream == nil {
		return
	}

	analyser, err := d.cfg.Factory(stream)
	if err != nil {
		aerr := &models.ResourceAttachError{Resource: "audio analyser", ParticipantID: d.cfg.ParticipantID, Err: err}
		if errors.Is(err, ErrNoAudioSource) {
			log.Debug().Err(aerr).Msg("speaking detection disabled")
		} else {
			log.Warn().Err(aerr).Msg("speaking detection disabled")
		}
		return
	}

	stop := make(chan struct{})
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.analyser = analyser
	d.stop = stop
	d.mu.Unlock()

	ticker := d.cfg.Clock.Ticker(SampleInterval)
	d.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.sample(gen, averageLevel(analyser.FrequencyData()))
			}
		}
	})
}

// teardown stops sampling, closes the graph and resets to not speaking.
// Must be called with opMu held.
func (d *SpeakingDetector) teardown() {
	d.mu.Lock()
	analyser, stop := d.analyser, d.stop
	d.analyser, d.stop = nil, nil
	d.gen++
	d.samples = nil
	wasSpeaking := d.speaking
	d.speaking = false
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.wg.Wait()
	if analyser != nil {
		if err := analyser.Close(); err != nil {
			log.Warn().Err(err).Str("participant", d.cfg.ParticipantID).Msg("close audio analyser")
		}
	}
	if wasSpeaking && d.cfg.OnChange != nil {
		d.cfg.OnChange(false)
	}
}

func (d *SpeakingDetector) sample(gen int, level float64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.samples = append(d.samples, level)
	if len(d.samples) > rollingSamples {
		d.samples = d.samples[len(d.samples)-rollingSamples:]
	}
	var sum float64
	for _, s := range d.samples {
		sum += s
	}
	speaking := sum/float64(len(d.samples)) > d.cfg.Threshold
	changed := speaking != d.speaking
	d.speaking = speaking
	d.mu.Unlock()

	if changed && d.cfg.OnChange != nil {
		d.cfg.OnChange(speaking)
	}
}

func averageLevel(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, b := range data {
		sum += float64(b)
	}
	return sum / float64(len(data))
}
