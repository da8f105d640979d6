// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gotranspile/g722"
	"github.com/zaf/g711"
)

// ErrCodecUnsupported is returned for a negotiated codec that has no
// transcoder wired in this build. G729 is declared in SDP offers/answers
// (see media.CodecAudioG729) because legacy PBXes ask for it, but no Go
// G729 implementation exists among this module's dependencies, so a call
// that actually negotiates it fails here instead of silently passing
// through garbage audio.
var ErrCodecUnsupported = errors.New("audio: codec unsupported")

/*
	This is PCM Decoder and Encoder (translators from VOIP codecs)
	They are io.Reader io.Writter which should wrap RTP Reader Writter and pass to upper PCM player
	It operates on RTP payload and for every ticked sample it does decoding.
	As decoding can add delay for compressed codecs, it may be usefull that upper Reader buffers,
	but for ulaw, alaw codecs this should be no delays

	PCM allows translation to any codec or creating wav files
*/

const (
	// ITU-T G.711.0 codec supports frame lengths of 40, 80, 160, 240 and 320 samples per frame.
	FrameSize  = 3200
	ReadBuffer = 160

	FORMAT_TYPE_ULAW = 0
	FORMAT_TYPE_ALAW = 8
	FORMAT_TYPE_G722 = 9
	FORMAT_TYPE_G729 = 18
	FORMAT_TYPE_OPUS = 96

	opusSampleRate   = 48000
	opusNumChannels  = 2
	opusEncodeBufLen = 4000
)

func pcmBytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i : 2*i+2]))
	}
	return out
}

func pcmInt16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(s))
	}
	return out
}

// newG722Decoder/newG722Encoder adapt gotranspile/g722's stateful []int16
// PCM codecs to the []byte-in/[]byte-out closures PCMDecoder/PCMEncoder
// expect, keeping one encoder/decoder instance alive for the life of the
// stream. G722 is differentially coded, so a fresh instance per call
// would reset state and corrupt every frame after the first.
func newG722Decoder() func(encoded []byte) []byte {
	dec := g722.NewDecoder(g722.Rate64000, g722.FlagNone)
	return func(encoded []byte) []byte {
		return pcmInt16ToBytes(dec.Decode(encoded))
	}
}

func newG722Encoder() func(lpcm []byte) []byte {
	enc := g722.NewEncoder(g722.Rate64000, g722.FlagNone)
	return func(lpcm []byte) []byte {
		return enc.Encode(pcmBytesToInt16(lpcm))
	}
}

// newOpusDecoder/newOpusEncoder adapt OpusEncoder/OpusDecoder's
// buffer-reuse API to the []byte-in/[]byte-out closures PCMDecoder/
// PCMEncoder expect. Framing is fixed at 20ms/48kHz/stereo, matching
// media.CodecAudioOpus.
func newOpusEncoder() (func(lpcm []byte) []byte, error) {
	enc, err := NewOpusEncoder(opusSampleRate, opusNumChannels)
	if err != nil {
		return nil, err
	}
	out := make([]byte, opusEncodeBufLen)
	return func(lpcm []byte) []byte {
		n, err := enc.EncodeTo(out, lpcm)
		if err != nil {
			return nil
		}
		return out[:n]
	}, nil
}

func newOpusDecoder() (func(encoded []byte) []byte, error) {
	dec, err := NewOpusDecoder(opusSampleRate, opusNumChannels)
	if err != nil {
		return nil, err
	}
	lpcm := make([]byte, (opusSampleRate/50)*opusNumChannels*2)
	return func(encoded []byte) []byte {
		n, err := dec.DecodeTo(lpcm, encoded)
		if err != nil {
			return nil
		}
		return lpcm[:n]
	}, nil
}

type PCMDecoder struct {
	Source   io.Reader
	Writer   io.Writer
	Decoder  func(encoded []byte) (lpcm []byte)
	buf      []byte
	lastLPCM []byte
	unread   int
}

// PCM decoder is streamer implementing io.Reader. It reads from underhood reader and returns decoded
// codec data
func NewPCMDecoder(codec uint8, reader io.Reader) (*PCMDecoder, error) {
	var decoder func(lpcm []byte) []byte
	switch codec {
	case FORMAT_TYPE_ULAW:
		decoder = g711.DecodeUlaw // returns 16bit LPCM
	case FORMAT_TYPE_ALAW:
		decoder = g711.DecodeAlaw // returns 16bit LPCM
	case FORMAT_TYPE_G722:
		decoder = newG722Decoder()
	case FORMAT_TYPE_OPUS:
		var err error
		decoder, err = newOpusDecoder()
		if err != nil {
			return nil, err
		}
	case FORMAT_TYPE_G729:
		return nil, fmt.Errorf("codec g729: %w", ErrCodecUnsupported)
	default:
		return nil, fmt.Errorf("not supported codec %d", codec)
	}

	dec := &PCMDecoder{
		Source:  reader,
		Decoder: decoder,
		buf:     make([]byte, 160), // Read at least 160 samples. Playback starts with 300
	}
	return dec, nil
}

func (d *PCMDecoder) Read(b []byte) (n int, err error) {
	if d.unread > 0 {
		ind := len(d.lastLPCM) - d.unread
		n := copy(b, d.lastLPCM[ind:])
		d.unread -= n
		return n, nil
	}

	n, err = d.Source.Read(d.buf)
	if err != nil {
		return n, err
	}

	// This creates allocation
	lpcm := d.Decoder(d.buf[:n])

	copied := copy(b, lpcm)
	d.unread = len(lpcm) - copied
	d.lastLPCM = lpcm
	// fmt.Printf("Read playback=%d source=%d copied=%d unread=%d \n", len(b), n, copied, d.unread)
	return copied, nil
}

func NewPCMDecoderReader(codec uint8, reader io.Reader) (*PCMDecoder, error) {
	d, err := NewPCMDecoder(codec, nil)
	if err != nil {
		return nil, err
	}
	d.Source = reader
	return d, nil
}

func NewPCMDecoderWriter(codec uint8, writer io.Writer) (*PCMDecoder, error) {
	d, err := NewPCMDecoder(codec, nil)
	if err != nil {
		return nil, err
	}
	d.Writer = writer
	return d, nil
}

func (d *PCMDecoder) Write(b []byte) (n int, err error) {
	// TODO avoid this allocation
	lpcm := d.Decoder(b)
	nn := 0
	for nn < len(lpcm) {
		n, err = d.Writer.Write(lpcm)
		if err != nil {
			return 0, err
		}
		nn += n
	}

	return len(b), nil
}

type PCMEncoder struct {
	Destination io.Writer
	Encoder     func(encoded []byte) (lpcm []byte)
}

// PCMEncoder encodes data from pcm to codec and passes to writer
func NewPCMEncoder(codec uint8, writer io.Writer) (*PCMEncoder, error) {
	var encoder func(lpcm []byte) []byte
	switch codec {
	case FORMAT_TYPE_ULAW:
		encoder = g711.EncodeUlaw // takes 16bit LPCM, returns 8bit ulaw
	case FORMAT_TYPE_ALAW:
		encoder = g711.EncodeAlaw // takes 16bit LPCM, returns 8bit alaw
	case FORMAT_TYPE_G722:
		encoder = newG722Encoder()
	case FORMAT_TYPE_OPUS:
		var err error
		encoder, err = newOpusEncoder()
		if err != nil {
			return nil, err
		}
	case FORMAT_TYPE_G729:
		return nil, fmt.Errorf("codec g729: %w", ErrCodecUnsupported)
	default:
		return nil, fmt.Errorf("not supported codec %d", codec)
	}

	dec := &PCMEncoder{
		Destination: writer,
		Encoder:     encoder,
	}
	return dec, nil
}

// NewPCMEncoderWriter is an alias for NewPCMEncoder, matching the
// NewPCMDecoderReader/NewPCMDecoderWriter naming on the decode side.
func NewPCMEncoderWriter(codec uint8, writer io.Writer) (*PCMEncoder, error) {
	return NewPCMEncoder(codec, writer)
}

func (d *PCMEncoder) Write(b []byte) (n int, err error) {
	// TODO avoid this allocation
	lpcm := d.Encoder(b)
	nn := 0
	for nn < len(lpcm) {
		n, err = d.Destination.Write(lpcm)
		if err != nil {
			return nn, err
		}
		nn += n
	}

	return len(b), nil
}
