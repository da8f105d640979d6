// SPDX-License-Identifier: MPL-2.0

package audio

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler converts a stream of mono float32 samples between two fixed
// sample rates using an FFT-based resampler. One Resampler is created per
// direction per call (capture: device rate -> codec rate, playback: codec
// rate -> device rate) and reused for every frame of that call, per
// spec.md §4.6 steps 4/2; it is not recreated per frame.
type Resampler struct {
	fft        *resampler.FFTResampler
	fromRate   int
	toRate     int
	passthrough bool
}

// NewResampler builds a Resampler from fromRate to toRate. When the rates
// are equal it short-circuits to a passthrough, matching spec.md's
// "skipped if equal" playback-path note.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate == toRate {
		return &Resampler{fromRate: fromRate, toRate: toRate, passthrough: true}, nil
	}

	fft, err := resampler.NewFFTResampler(fromRate, toRate)
	if err != nil {
		return nil, fmt.Errorf("audio: creating resampler %d->%d: %w", fromRate, toRate, err)
	}
	return &Resampler{fft: fft, fromRate: fromRate, toRate: toRate}, nil
}

// Process resamples one frame of mono float32 samples at fromRate to
// toRate. The returned slice is only valid until the next call.
func (r *Resampler) Process(in []float32) ([]float32, error) {
	if r.passthrough {
		return in, nil
	}
	out, err := r.fft.Resample(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resampling: %w", err)
	}
	return out, nil
}
