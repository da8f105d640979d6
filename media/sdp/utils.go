// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sdp

import (
	"fmt"
	"net"
	"strings"
	"time"
)

func GetCurrentNTPTimestamp() uint64 {
	var ntpEpochOffset int64 = 2208988800 // Offset from Unix epoch (January 1, 1970) to NTP epoch (January 1, 1900)
	currentTime := time.Now().Unix() + int64(ntpEpochOffset)

	return uint64(currentTime)
}

func NTPTimestamp(now time.Time) uint64 {
	var ntpEpochOffset int64 = 2208988800 // Offset from Unix epoch (January 1, 1970) to NTP epoch (January 1, 1900)
	currentTime := now.Unix() + ntpEpochOffset

	return uint64(currentTime)
}

type Mode string

const (
	// https://datatracker.ietf.org/doc/html/rfc4566#section-6
	ModeRecvonly Mode = "recvonly"
	ModeSendrecv Mode = "sendrecv"
	ModeSendonly Mode = "sendonly"
)

// GenerateForAudio is minimal AUDIO SDP setup
func GenerateForAudio(originIP net.IP, connectionIP net.IP, rtpPort int, mode Mode, fmts Formats) []byte {
	return GenerateForAudioSRTP(originIP, connectionIP, rtpPort, mode, fmts, "RTP/AVP", nil)
}

// GenerateForAudioSRTP is GenerateForAudio plus control over the media
// proto line ("RTP/AVP" or "RTP/SAVP") and extra media-level crypto
// attribute lines (SDES "a=crypto:..." lines, RFC 4568) inserted after
// the media line's direction attribute. Pass proto "RTP/SAVP" with a non-empty crypto
// line whenever the session negotiated SRTP.
func GenerateForAudioSRTP(originIP net.IP, connectionIP net.IP, rtpPort int, mode Mode, fmts Formats, proto string, cryptoLines []string) []byte {
	ntpTime := GetCurrentNTPTimestamp()

	formatsMap := []string{}
	for _, f := range fmts {
		switch f {
		case FORMAT_TYPE_ULAW:
			formatsMap = append(formatsMap, "a=rtpmap:0 PCMU/8000")
		case FORMAT_TYPE_ALAW:
			formatsMap = append(formatsMap, "a=rtpmap:8 PCMA/8000")
		case FORMAT_TYPE_G722:
			formatsMap = append(formatsMap, "a=rtpmap:9 G722/8000")
		case FORMAT_TYPE_G729:
			formatsMap = append(formatsMap, "a=rtpmap:18 G729/8000")
		case FORMAT_TYPE_OPUS:
			formatsMap = append(formatsMap, "a=rtpmap:96 opus/48000/2", "a=fmtp:96 useinbandfec=0")
		case FORMAT_TYPE_TELEPHONE_EVENT:
			formatsMap = append(formatsMap, "a=rtpmap:101 telephone-event/8000", "a=fmtp:101 0-16")
		}
	}

	if proto == "" {
		proto = "RTP/AVP"
	}
	s := []string{
		"v=0",
		fmt.Sprintf("o=user1 %d %d IN IP4 %s", ntpTime, ntpTime, originIP),
		"s=Sip Go Media",
		fmt.Sprintf("c=IN IP4 %s", connectionIP),
		"t=0 0",
		fmt.Sprintf("m=audio %d %s %s", rtpPort, proto, strings.Join(fmts, " ")),
		"a=" + string(mode),
	}
	s = append(s, cryptoLines...)

	s = append(s, formatsMap...)

	res := strings.Join(s, "\r\n")
	return []byte(res)
}
