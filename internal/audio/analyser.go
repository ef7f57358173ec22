package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	defaultFFTSize   = 2048
	minFFTSize       = 32
	maxFFTSize       = 32768
	defaultMinDB     = -100.0
	defaultMaxDB     = -30.0
	defaultSmoothing = 0.8
)

// Analyser is a spectral inspection point fed by an output device. Writers
// push rendered blocks; visualizers pull snapshots on their own cadence.
// It mirrors the byte-scaled views of a WebAudio AnalyserNode.
type Analyser struct {
	mu sync.Mutex

	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	ring    []float32
	next    int
	fft     *fourier.FFT
	window  []float64
	frame   []float64
	coeffs  []complex128
	history []float64
}

// NewAnalyser creates an analyser. fftSize must be a power of two between
// 32 and 32768; smoothing must be in [0, 1]. Invalid values fall back to
// 2048 and 0.8.
func NewAnalyser(fftSize int, smoothing float64) *Analyser {
	if fftSize < minFFTSize || fftSize > maxFFTSize || fftSize&(fftSize-1) != 0 {
		fftSize = defaultFFTSize
	}
	if smoothing < 0 || smoothing > 1 || math.IsNaN(smoothing) {
		smoothing = defaultSmoothing
	}

	return &Analyser{
		fftSize:   fftSize,
		smoothing: smoothing,
		minDB:     defaultMinDB,
		maxDB:     defaultMaxDB,
		ring:      make([]float32, fftSize),
		fft:       fourier.NewFFT(fftSize),
		window:    blackmanWindow(fftSize),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		history:   make([]float64, fftSize/2),
	}
}

func blackmanWindow(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// Write appends rendered samples to the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) >= a.fftSize {
		copy(a.ring, samples[len(samples)-a.fftSize:])
		a.next = 0
		return
	}
	for _, s := range samples {
		a.ring[a.next] = s
		a.next = (a.next + 1) % a.fftSize
	}
}

func (a *Analyser) FFTSize() int { return a.fftSize }

func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// ByteFrequencyData fills dst with smoothed magnitudes scaled from
// [minDB, maxDB] to [0, 255]. At most FrequencyBinCount values are written.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.frame {
		a.frame[i] = float64(a.ring[(a.next+i)%a.fftSize]) * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	n := float64(a.fftSize)
	span := a.maxDB - a.minDB
	for k := range a.history {
		magnitude := cmplx.Abs(a.coeffs[k]) / n
		a.history[k] = a.smoothing*a.history[k] + (1-a.smoothing)*magnitude
		if k >= len(dst) {
			continue
		}
		dst[k] = scaleDecibels(a.history[k], a.minDB, span)
	}
}

func scaleDecibels(magnitude float64, minDB float64, span float64) byte {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDB) / span
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}

// ByteTimeDomainData fills dst with the current waveform, 128 being silence.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < len(dst) && i < a.fftSize; i++ {
		v := 128 * (1 + float64(a.ring[(a.next+i)%a.fftSize]))
		switch {
		case v <= 0:
			dst[i] = 0
		case v >= 255:
			dst[i] = 255
		default:
			dst[i] = byte(v)
		}
	}
}
