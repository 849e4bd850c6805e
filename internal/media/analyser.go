package media

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize    = 512
	DefaultSmoothing  = 0.8
	DefaultMinDecibel = -100.0
	DefaultMaxDecibel = -30.0
)

type FFTOptions struct {
	Size       int
	Smoothing  float64
	MinDecibel float64
	MaxDecibel float64
}

func (o FFTOptions) withDefaults() FFTOptions {
	if o.Size <= 0 {
		o.Size = DefaultFFTSize
	}
	if o.Smoothing <= 0 || o.Smoothing >= 1 {
		o.Smoothing = DefaultSmoothing
	}
	if o.MinDecibel == 0 && o.MaxDecibel == 0 {
		o.MinDecibel, o.MaxDecibel = DefaultMinDecibel, DefaultMaxDecibel
	}
	return o
}

// FFTAnalyser mirrors a browser AnalyserNode: the latest Size samples are
// Blackman-windowed, transformed, smoothed over time and mapped from the
// decibel range onto bytes.
type FFTAnalyser struct {
	opts   FFTOptions
	fft    *fourier.FFT
	window []float64

	mu       sync.Mutex
	ring     []float64
	pos      int
	smoothed []float64
	coeffs   []complex128
	frame    []float64

	readers   []PCMReader
	closeOnce sync.Once
	closed    chan struct{}
}

// NewFFTAnalyserFactory builds analysers reading every PCM audio track of a stream.
func NewFFTAnalyserFactory(opts FFTOptions) AnalyserFactory {
	return func(s Stream) (Analyser, error) {
		a, err := NewFFTAnalyser(s, opts)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// NewFFTAnalyser opens a reader on each readable audio track of s and starts
// feeding the analyser. If any reader fails to open, the ones already opened are closed.
func NewFFTAnalyser(s Stream, opts FFTOptions) (*FFTAnalyser, error) {
	var tracks []PCMTrack
	for _, t := range AudioTracks(s) {
		if pt, ok := t.(PCMTrack); ok && !t.Ended() {
			tracks = append(tracks, pt)
		}
	}
	if len(tracks) == 0 {
		return nil, ErrNoAudioSource
	}

	a := newFFTAnalyser(opts)
	for _, t := range tracks {
		r, err := t.NewPCMReader()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.readers = append(a.readers, r)
	}

	for i, r := range a.readers {
		go a.pump(tracks[i].ID(), r)
	}
	return a, nil
}

func newFFTAnalyser(opts FFTOptions) *FFTAnalyser {
	opts = opts.withDefaults()
	n := opts.Size
	return &FFTAnalyser{
		opts:     opts,
		fft:      fourier.NewFFT(n),
		window:   blackman(n),
		ring:     make([]float64, n),
		smoothed: make([]float64, n/2),
		coeffs:   make([]complex128, n/2+1),
		frame:    make([]float64, n),
		closed:   make(chan struct{}),
	}
}

func (a *FFTAnalyser) pump(trackID string, r PCMReader) {
	for {
		samples, err := r.ReadPCM()
		if err != nil {
			select {
			case <-a.closed:
			default:
				log.Debug().Err(err).Str("track", trackID).Msg("audio reader stopped")
			}
			return
		}
		a.Write(samples)
	}
}

// Write appends samples to the analysis window.
func (a *FFTAnalyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// FrequencyData returns Size/2 bins scaled to 0-255.
func (a *FFTAnalyser) FrequencyData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	for i := range n {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	out := make([]byte, len(a.smoothed))
	span := a.opts.MaxDecibel - a.opts.MinDecibel
	tau := a.opts.Smoothing
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag

		if a.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		scaled := 255 * (db - a.opts.MinDecibel) / span
		out[k] = byte(math.Max(0, math.Min(255, scaled)))
	}
	return out
}

// Close stops the readers. It is safe to call more than once.
func (a *FFTAnalyser) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		for _, r := range a.readers {
			if cerr := r.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

func blackman(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return w
}
