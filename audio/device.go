// SPDX-License-Identifier: MPL-2.0

package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// deviceSampleRate is the sample rate the duplex device is opened at. The
// callback itself is driven by the OS and may deliver any frame count, so
// Device always honors whatever buffer sizes the callback reports.
const deviceSampleRate = 48000

// Device owns one duplex (capture+playback) OS audio stream and moves
// samples between it and two Rings. It never touches RTP, codecs, or SDP:
// Bridge is the layer that drains/fills these rings against the call.
//
// Grounded on the OwlWhisper call-service malgo.Duplex usage in this
// module's example pack (malgo.DefaultDeviceConfig(malgo.Duplex),
// malgo.FormatS16, a single DeviceCallbacks.Data callback reading capture
// input and writing playback output), adapted from int16 byte buffers to
// the float32 Rings the rest of the audio package uses.
type Device struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	captureRing  *Ring
	playbackRing *Ring

	channels uint32
}

// NewDevice opens a duplex audio device at deviceSampleRate, feeding
// captured samples into captureRing and draining playbackRing for output.
func NewDevice(captureRing, playbackRing *Ring, channels int) (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("audio: malgo.InitContext: %w", err)
	}

	d := &Device{
		ctx:          ctx,
		captureRing:  captureRing,
		playbackRing: playbackRing,
		channels:     uint32(channels),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = d.channels
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = d.channels
	cfg.SampleRate = deviceSampleRate

	callbacks := malgo.DeviceCallbacks{Data: d.onData}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		ctx.Uninit()
		return nil, fmt.Errorf("audio: malgo.InitDevice: %w", err)
	}
	d.device = dev
	return d, nil
}

// Start begins streaming. Call once after NewDevice.
func (d *Device) Start() error {
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("audio: malgo.Device.Start: %w", err)
	}
	return nil
}

// onData is the malgo callback: it runs on the OS audio thread, so it
// must never block. Down-mixing to mono happens here for capture (spec.md
// §4.6 step 1); playback duplicates the mono ring across channels.
func (d *Device) onData(output, input []byte, framecount uint32) {
	if len(input) > 0 {
		mono := int16BytesToMonoFloat32(input, int(d.channels))
		d.captureRing.Write(mono)
	}

	if len(output) == 0 {
		return
	}

	frames := len(output) / 2 / int(d.channels)
	mono := make([]float32, frames)
	n := d.playbackRing.Read(mono)
	for i := n; i < frames; i++ {
		mono[i] = 0 // graceful silence on underrun, not a glitch
	}

	monoFloat32ToInt16BytesInterleaved(mono, output, int(d.channels))
}

// Close stops and tears down the device.
func (d *Device) Close() {
	if d.device != nil {
		d.device.Uninit()
	}
	if d.ctx != nil {
		d.ctx.Uninit()
	}
}

func int16BytesToMonoFloat32(b []byte, channels int) []float32 {
	frames := len(b) / 2 / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += int32(int16(uint16(b[off]) | uint16(b[off+1])<<8))
		}
		out[i] = float32(sum/int32(channels)) / 32768.0
	}
	return out
}

func monoFloat32ToInt16BytesInterleaved(mono []float32, out []byte, channels int) {
	for i, s := range mono {
		v := int16(clampFloat32(s) * 32767.0)
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			out[off] = byte(uint16(v))
			out[off+1] = byte(uint16(v) >> 8)
		}
	}
}

func clampFloat32(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
