// SPDX-License-Identifier: MPL-2.0

package audio

import "math"

// Denoiser is a stdlib-only stand-in for the RNNoise stage spec.md §4.6
// step 5/3 describes. No example repo in this module's corpus carries a
// Go RNNoise (or any neural) denoiser binding, so this implements the
// same toggle with a simple one-pole high-pass filter (removes rumble/DC
// offset below ~80Hz) followed by an energy noise gate, operating on the
// 48kHz float32 samples the RNNoise stage would otherwise consume. It is
// created once per direction per call and run in place every frame, same
// lifecycle as Resampler.
type Denoiser struct {
	sampleRate int

	hpPrevIn  float32
	hpPrevOut float32
	hpAlpha   float32

	gateFloor float32
}

const (
	denoiseHighPassHz = 80.0
	denoiseGateFloor  = 0.008 // RMS below this is treated as silence
)

// NewDenoiser builds a Denoiser tuned for sampleRate (the RNNoise pipeline
// in spec.md always runs at 48kHz; callers resample around it).
func NewDenoiser(sampleRate int) *Denoiser {
	rc := 1.0 / (2 * math.Pi * denoiseHighPassHz)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	return &Denoiser{
		sampleRate: sampleRate,
		hpAlpha:    float32(alpha),
		gateFloor:  denoiseGateFloor,
	}
}

// Process denoises samples in place.
func (d *Denoiser) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}

	var sumSq float32
	for i, x := range samples {
		y := d.hpAlpha * (d.hpPrevOut + x - d.hpPrevIn)
		d.hpPrevIn = x
		d.hpPrevOut = y
		samples[i] = y
		sumSq += y * y
	}

	rms := float32(math.Sqrt(float64(sumSq / float32(len(samples)))))
	if rms < d.gateFloor {
		for i := range samples {
			samples[i] = 0
		}
	}
}
