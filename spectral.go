package main

import (
	"log"
	"math"
	"math/cmplx"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// spectralPollInterval bounds how long the analyzer blocks before
// re-checking the shutdown flag.
const spectralPollInterval = 100 * time.Millisecond

// slidingWindow is a fixed-capacity ring of the most recent samples of one
// channel. Overflow drops the oldest value.
type slidingWindow struct {
	buf  []float64
	head int
	n    int
}

func newSlidingWindow(capacity int) *slidingWindow {
	return &slidingWindow{buf: make([]float64, capacity)}
}

func (w *slidingWindow) push(v float64) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = v
		w.n++
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

func (w *slidingWindow) full() bool { return w.n == len(w.buf) }

// snapshot copies the window contents in arrival order into dst.
func (w *slidingWindow) snapshot(dst []float64) {
	for i := 0; i < w.n; i++ {
		dst[i] = w.buf[(w.head+i)%len(w.buf)]
	}
}

// SpectralStats are the analyzer worker's counters, collected at join.
type SpectralStats struct {
	TriggersProcessed uint64
	SpectraComputed   uint64
}

// SpectralAnalyzer maintains one sliding window per channel and, once the
// windows are full, computes a Hann-tapered magnitude spectrum over the
// fixed integer frequency band on every trigger. Output frames are tagged
// with the triggering batch id and emitted as one group per trigger.
//
// The frequency mapping is deliberately lossy: each integer target
// frequency selects the nearest FFT bin, with no interpolation. The fixed
// integer-Hz output shape is a contract consumed downstream.
type SpectralAnalyzer struct {
	triggers   <-chan SpectralTrigger
	out        chan<- SpectralGroup
	info       StreamInfo
	windowSize int
	freqMin    int
	freqMax    int
	running    *atomic.Bool
	metrics    *PrometheusMetrics
}

// NewSpectralAnalyzer creates an analyzer for the configured band.
func NewSpectralAnalyzer(triggers <-chan SpectralTrigger, out chan<- SpectralGroup,
	info StreamInfo, cfg PipelineConfig, running *atomic.Bool, metrics *PrometheusMetrics) *SpectralAnalyzer {
	return &SpectralAnalyzer{
		triggers:   triggers,
		out:        out,
		info:       info,
		windowSize: cfg.FFTWindowSize,
		freqMin:    cfg.FreqMinHz,
		freqMax:    cfg.FreqMaxHz,
		running:    running,
		metrics:    metrics,
	}
}

// Run loops until the trigger channel closes or the shutdown flag is
// cleared. The output channel is closed on exit.
func (a *SpectralAnalyzer) Run() SpectralStats {
	n := a.windowSize
	resolution := a.info.SampleRate / float64(n)
	log.Printf("Spectral: started (window=%d, resolution=%.2fHz/bin, band=%d-%dHz)",
		n, resolution, a.freqMin, a.freqMax)

	fft := fourier.NewFFT(n)

	// Hann taper, precomputed once.
	taper := make([]float64, n)
	for i := range taper {
		taper[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(n-1)))
	}

	windows := make([]*slidingWindow, a.info.ChannelCount)
	for ch := range windows {
		windows[ch] = newSlidingWindow(n)
	}
	windowed := make([]float64, n)

	var stats SpectralStats

	defer func() {
		close(a.out)
		log.Printf("Spectral: stopped - triggers %d, spectra %d", stats.TriggersProcessed, stats.SpectraComputed)
	}()

	for {
		var trigger SpectralTrigger
		var open bool

		select {
		case trigger, open = <-a.triggers:
			if !open {
				log.Printf("Spectral: trigger channel disconnected")
				return stats
			}
		case <-time.After(spectralPollInterval):
			if !a.running.Load() {
				log.Printf("Spectral: stopping")
				return stats
			}
			continue
		}

		stats.TriggersProcessed++
		for _, sample := range trigger.Samples {
			for ch, v := range sample.Channels {
				if ch < len(windows) {
					windows[ch].push(v)
				}
			}
		}

		// Only emit once the windows hold a full FFT input.
		if !windows[0].full() {
			continue
		}

		frames := make([]SpectralFrame, 0, len(windows))
		for ch, window := range windows {
			window.snapshot(windowed)
			for i := range windowed {
				windowed[i] *= taper[i]
			}
			coeffs := fft.Coefficients(nil, windowed)

			frame := SpectralFrame{
				ChannelIndex:  ch,
				Spectrum:      make([]float64, 0, a.freqMax-a.freqMin+1),
				FrequencyBins: make([]float64, 0, a.freqMax-a.freqMin+1),
				BatchID:       trigger.BatchID,
			}
			for target := a.freqMin; target <= a.freqMax; target++ {
				bin := int(math.Round(float64(target) / resolution))
				magnitude := 0.0
				if bin < n/2 {
					magnitude = cmplx.Abs(coeffs[bin]) / float64(n)
				}
				frame.Spectrum = append(frame.Spectrum, magnitude)
				frame.FrequencyBins = append(frame.FrequencyBins, float64(target))
			}
			frames = append(frames, frame)
		}

		a.out <- SpectralGroup{BatchID: trigger.BatchID, Frames: frames}
		stats.SpectraComputed++
		if a.metrics != nil {
			a.metrics.spectraComputed.Inc()
		}
		if stats.SpectraComputed <= 5 {
			log.Printf("Spectral: FFT #%d for batch #%d (%d channels)",
				stats.SpectraComputed, trigger.BatchID, len(frames))
		} else if stats.SpectraComputed%60 == 0 {
			log.Printf("Spectral: %d spectra computed", stats.SpectraComputed)
		}
	}
}

// emptySpectralFrames builds zero-filled placeholder frames with default
// frequency labels, one per channel, for display frames whose spectral leg
// has not arrived.
func emptySpectralFrames(channelCount, freqMin, freqMax int, batchID uint64) []SpectralFrame {
	bins := freqMax - freqMin + 1
	labels := make([]float64, bins)
	for i := range labels {
		labels[i] = float64(freqMin + i)
	}
	frames := make([]SpectralFrame, channelCount)
	for ch := range frames {
		frames[ch] = SpectralFrame{
			ChannelIndex:  ch,
			Spectrum:      make([]float64, bins),
			FrequencyBins: labels,
			BatchID:       batchID,
		}
	}
	return frames
}
