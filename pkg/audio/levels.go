package audio

import (
	"math"
	"sync"
)

// LevelMeter tracks a running amplitude level over recent PCM frames. The
// session feeds it from both the capture and playback paths; the surrounding
// application polls [LevelMeter.Level] to drive visualization.
//
// Safe for concurrent use.
type LevelMeter struct {
	mu   sync.Mutex
	rms  float64
	peak float64
}

// Observe folds a block of little-endian int16 PCM into the meter.
// Empty or misaligned input is ignored.
func (m *LevelMeter) Observe(pcm []byte) {
	samples := len(pcm) / 2
	if samples == 0 {
		return
	}

	var sumSq float64
	var peak float64
	for i := range samples {
		s := float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768
		sumSq += s * s
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSq / float64(samples))

	m.mu.Lock()
	defer m.mu.Unlock()
	// Exponential smoothing keeps the needle from flickering between frames.
	m.rms = m.rms*0.6 + rms*0.4
	if peak > m.peak {
		m.peak = peak
	} else {
		m.peak *= 0.9
	}
}

// Level returns the smoothed RMS amplitude in [0, 1].
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rms
}

// Peak returns the decaying peak amplitude in [0, 1].
func (m *LevelMeter) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Reset clears the meter back to silence.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rms = 0
	m.peak = 0
}
