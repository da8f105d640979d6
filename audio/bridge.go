// SPDX-License-Identifier: MPL-2.0

package audio

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// BridgeConfig carries everything Bridge needs to wire a call's codec
// I/O to the local audio device: the negotiated frame size/rate pair for
// both directions (they're usually equal, but RTP codec rate and device
// rate can differ), and the raw RTP-side reader/writer.
type BridgeConfig struct {
	Ptime      time.Duration
	CodecRate  int
	DeviceRate int
	Channels   int

	// Encoder receives PCM16 bytes at CodecRate and writes encoded RTP
	// payload to the call's RTPPacketWriter.
	Encoder io.Writer
	// Decoder yields PCM16 bytes at CodecRate, decoded from the call's
	// RTPPacketReader.
	Decoder io.Reader
}

// Bridge is the Audio Bridge (spec.md §4.6): it owns the capture and
// playback rings, the mute/denoise toggles, and the DTMF side channel,
// and drives the capture/playback loops against an *audio.Device*.
// Mute/denoise toggles are plain atomics read at the next frame boundary,
// never a lock in the hot path.
type Bridge struct {
	cfg BridgeConfig

	captureRing  *Ring
	playbackRing *Ring

	captureResampler  *Resampler // device rate -> codec rate
	playbackResampler *Resampler // codec rate -> device rate

	micDenoise     *Denoiser
	speakerDenoise *Denoiser

	micMuted          atomic.Bool
	speakerMuted      atomic.Bool
	micDenoiseOn      atomic.Bool
	speakerDenoiseOn  atomic.Bool

	dtmfInject chan []byte // pre-encoded frame payload, replaces the next capture frame

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge builds a Bridge over the given rings, wiring the resamplers
// for both directions up front (spec.md's "skipped if equal" passthrough
// applies automatically when CodecRate == DeviceRate).
func NewBridge(cfg BridgeConfig, captureRing, playbackRing *Ring) (*Bridge, error) {
	captureResampler, err := NewResampler(cfg.DeviceRate, cfg.CodecRate)
	if err != nil {
		return nil, err
	}
	playbackResampler, err := NewResampler(cfg.CodecRate, cfg.DeviceRate)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		cfg:               cfg,
		captureRing:       captureRing,
		playbackRing:      playbackRing,
		captureResampler:  captureResampler,
		playbackResampler: playbackResampler,
		micDenoise:        NewDenoiser(48000),
		speakerDenoise:    NewDenoiser(48000),
		dtmfInject:        make(chan []byte, 1),
		done:              make(chan struct{}),
	}, nil
}

// Start launches the capture and playback tasks. ctx bounds both; Close
// is the normal way to stop them.
func (b *Bridge) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	go b.captureLoop(ctx)
	go b.playbackLoop(ctx)
}

func (b *Bridge) frameSamples() int {
	return int(float64(b.cfg.CodecRate) * b.cfg.Ptime.Seconds())
}

func (b *Bridge) deviceFrameSamples() int {
	n := float64(b.frameSamples()) * float64(b.cfg.DeviceRate) / float64(b.cfg.CodecRate)
	return int(n + 0.999999) // ceil
}

// captureLoop implements spec.md §4.6's capture path: wake on a
// ptime-interval ticker, pull device_frame_samples from the capture ring,
// emit silence on mute/underrun, else denoise (at device rate) -> resample
// -> encode. A queued DTMF payload takes the place of that tick's frame.
func (b *Bridge) captureLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.Ptime)
	defer ticker.Stop()

	needed := b.deviceFrameSamples()
	frameBytes := b.frameSamples() * 2 // PCM16

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case payload := <-b.dtmfInject:
			if _, err := b.cfg.Encoder.Write(payload); err != nil {
				log.Error().Err(err).Msg("audio bridge: dtmf frame write failed")
			}
			continue
		default:
		}

		if b.micMuted.Load() || b.captureRing.Len() < needed {
			if _, err := b.cfg.Encoder.Write(make([]byte, frameBytes)); err != nil {
				log.Error().Err(err).Msg("audio bridge: silence frame write failed")
			}
			continue
		}

		deviceFrame := make([]float32, needed)
		b.captureRing.Read(deviceFrame)

		if b.micDenoiseOn.Load() {
			b.micDenoise.Process(deviceFrame)
		}

		codecFrame, err := b.captureResampler.Process(deviceFrame)
		if err != nil {
			log.Error().Err(err).Msg("audio bridge: capture resample failed")
			continue
		}

		pcm := make([]byte, len(codecFrame)*2)
		pcmInt16ToBytesInto(codecFrame, pcm)

		if _, err := b.cfg.Encoder.Write(pcm); err != nil {
			log.Error().Err(err).Msg("audio bridge: encode write failed")
		}
	}
}

// playbackLoop implements spec.md §4.6's playback path: decode from the
// call, resample to device rate, denoise, push into the playback ring for
// Device's callback to drain.
func (b *Bridge) playbackLoop(ctx context.Context) {
	frameBytes := b.frameSamples() * 2
	buf := make([]byte, frameBytes)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := b.cfg.Decoder.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Msg("audio bridge: decode read failed")
			}
			return
		}
		if n == 0 {
			continue
		}

		codecFrame := bytesToPCMFloat32(buf[:n])

		deviceFrame, err := b.playbackResampler.Process(codecFrame)
		if err != nil {
			log.Error().Err(err).Msg("audio bridge: playback resample failed")
			continue
		}

		if b.speakerDenoiseOn.Load() {
			b.speakerDenoise.Process(deviceFrame)
		}

		if b.speakerMuted.Load() {
			continue // drop: device callback substitutes silence on underrun
		}

		b.playbackRing.Write(deviceFrame)
	}
}

// InjectDTMF queues a pre-encoded telephone-event frame to replace the
// next capture frame, per spec.md's "side channel into the capture
// stream" note. Non-blocking: a frame already queued wins.
func (b *Bridge) InjectDTMF(payload []byte) {
	select {
	case b.dtmfInject <- payload:
	default:
	}
}

func (b *Bridge) SetMicMuted(muted bool)       { b.micMuted.Store(muted) }
func (b *Bridge) SetSpeakerMuted(muted bool)     { b.speakerMuted.Store(muted) }
func (b *Bridge) SetMicDenoise(enabled bool)     { b.micDenoiseOn.Store(enabled) }
func (b *Bridge) SetSpeakerDenoise(enabled bool) { b.speakerDenoiseOn.Store(enabled) }

// Close stops both tasks and drops the rings; it does not touch Device,
// which the caller owns independently (a Bridge can outlive a device
// swap, or share a device across a hold/resume).
func (b *Bridge) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	<-b.done
	b.captureRing.Reset()
	b.playbackRing.Reset()
}

func pcmInt16ToBytesInto(samples []float32, out []byte) {
	for i, s := range samples {
		v := int16(clampFloat32(s) * 32767.0)
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
}

func bytesToPCMFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		v := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}
