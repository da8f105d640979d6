// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vocalwire/gophone/media/sdp"
)

// Name identifies one of the telephony codecs this softphone negotiates.
type Name string

const (
	NamePCMU           Name = "PCMU"
	NamePCMA           Name = "PCMA"
	NameG722           Name = "G722"
	NameG729           Name = "G729"
	NameOpus           Name = "OPUS"
	NameTelephoneEvent Name = "telephone-event"
)

var (
	CodecAudioUlaw          = Codec{Name: NamePCMU, PayloadType: 0, SampleRate: 8000, NumChannels: 1, SampleDur: 20 * time.Millisecond}
	CodecAudioAlaw          = Codec{Name: NamePCMA, PayloadType: 8, SampleRate: 8000, NumChannels: 1, SampleDur: 20 * time.Millisecond}
	CodecAudioG722          = Codec{Name: NameG722, PayloadType: 9, SampleRate: 8000, NumChannels: 1, SampleDur: 20 * time.Millisecond}
	CodecAudioG729          = Codec{Name: NameG729, PayloadType: 18, SampleRate: 8000, NumChannels: 1, SampleDur: 20 * time.Millisecond}
	CodecAudioOpus          = Codec{Name: NameOpus, PayloadType: 96, SampleRate: 48000, NumChannels: 2, SampleDur: 20 * time.Millisecond}
	CodecTelephoneEvent8000 = Codec{Name: NameTelephoneEvent, PayloadType: 101, SampleRate: 8000, NumChannels: 1, SampleDur: 20 * time.Millisecond}
)

// Codec describes one negotiated audio codec: the Negotiated Codec entity
// from the data model, plus the static facts (payload type, clock rate)
// needed to build SDP and drive the RTP packetizer.
type Codec struct {
	Name        Name
	PayloadType uint8
	SampleRate  uint32
	NumChannels uint8
	SampleDur   time.Duration
}

func (c *Codec) SampleTimestamp() uint32 {
	return uint32(float64(c.SampleRate) * c.SampleDur.Seconds())
}

// CodecFromSession picks the first negotiated SDP format of s and resolves
// it to a Codec.
func CodecFromSession(s *MediaSession) Codec {
	f := s.Formats[0]
	return CodecFromPayloadType(sdp.FormatNumeric(f))
}

func CodecFromPayloadType(payloadType uint8) Codec {
	switch payloadType {
	case CodecAudioUlaw.PayloadType:
		return CodecAudioUlaw
	case CodecAudioAlaw.PayloadType:
		return CodecAudioAlaw
	case CodecAudioG722.PayloadType:
		return CodecAudioG722
	case CodecAudioG729.PayloadType:
		return CodecAudioG729
	case CodecAudioOpus.PayloadType:
		return CodecAudioOpus
	case CodecTelephoneEvent8000.PayloadType:
		return CodecTelephoneEvent8000
	}

	log.Warn().Uint8("payload_type", payloadType).Msg("Unsupported format. Using default clock rate")
	return Codec{PayloadType: payloadType, SampleRate: 8000, NumChannels: 1, SampleDur: 20 * time.Millisecond}
}

// RtpmapLine renders the a=rtpmap (and, where needed, a=fmtp) SDP lines
// for a codec, in the order the SDP generator expects them.
func (c Codec) RtpmapLine() []string {
	switch c.Name {
	case NamePCMU:
		return []string{"a=rtpmap:0 PCMU/8000"}
	case NamePCMA:
		return []string{"a=rtpmap:8 PCMA/8000"}
	case NameG722:
		// RFC 3551: G722 is signalled at a nominal 8000 clock even though
		// the codec runs at 16kHz internally.
		return []string{fmt.Sprintf("a=rtpmap:%d G722/8000", c.PayloadType)}
	case NameG729:
		return []string{fmt.Sprintf("a=rtpmap:%d G729/8000", c.PayloadType)}
	case NameOpus:
		return []string{
			fmt.Sprintf("a=rtpmap:%d opus/%d/%d", c.PayloadType, c.SampleRate, c.NumChannels),
			fmt.Sprintf("a=fmtp:%d useinbandfec=0", c.PayloadType),
		}
	case NameTelephoneEvent:
		return []string{
			fmt.Sprintf("a=rtpmap:%d telephone-event/%d", c.PayloadType, c.SampleRate),
			fmt.Sprintf("a=fmtp:%d 0-16", c.PayloadType),
		}
	default:
		return []string{fmt.Sprintf("a=rtpmap:%d %s/%d/%d", c.PayloadType, c.Name, c.SampleRate, c.NumChannels)}
	}
}

func (c Codec) PayloadTypeString() string {
	return strconv.Itoa(int(c.PayloadType))
}
