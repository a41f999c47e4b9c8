package analyzer

import "math"

// offlineStride is the coarse sampling stride of the offline transform:
// only every 4th sample contributes to each frequency bin. Together with the
// [-100dB, 0dB] range these constants are tuned for visual output and must
// be kept as-is to reproduce the existing look.
const offlineStride = 4

// AnalyzeOffline computes the analysis window starting at sample index start,
// writing into the analyzer's reused frame buffers. Used by offline
// conversion where no live analysis node exists.
func (a *Analyzer) AnalyzeOffline(samples []float32, start, sampleRate int) *Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sampleRate = sampleRate
	offlineWindow(samples, start, a.fftSize, a.timeDomain, a.frequency)
	return a.frameLocked()
}

// OfflineWindow is the standalone form of the manual transform, allocating
// fresh output arrays.
func OfflineWindow(samples []float32, start, windowSize int) (timeDomain, frequency []byte) {
	timeDomain = make([]byte, windowSize)
	frequency = make([]byte, windowSize/2)
	offlineWindow(samples, start, windowSize, timeDomain, frequency)
	return timeDomain, frequency
}

// offlineWindow is a deliberately low-fidelity discrete transform, not a true
// FFT: per-bin real/imaginary sums over a strided window, then magnitude to
// decibels. Fidelity only needs to be monotonic with signal energy.
func offlineWindow(samples []float32, start, windowSize int, timeDomain, frequency []byte) {
	for i := 0; i < windowSize; i++ {
		idx := start + i
		if idx >= 0 && idx < len(samples) {
			timeDomain[i] = levelByte(samples[idx])
		} else {
			timeDomain[i] = silenceLevel
		}
	}

	for k := 0; k < windowSize/2; k++ {
		var re, im float64
		for n := 0; n < windowSize; n += offlineStride {
			idx := start + n
			if idx < 0 || idx >= len(samples) {
				continue
			}
			s := float64(samples[idx])
			angle := 2 * math.Pi * float64(k) * float64(n) / float64(windowSize)
			re += s * math.Cos(angle)
			im += -s * math.Sin(angle)
		}
		mag := math.Sqrt(re*re + im*im)
		frequency[k] = dbByte(20 * math.Log10(math.Max(mag, magnitudeFloor)))
	}
}
