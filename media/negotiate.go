// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"fmt"
	"net"
	"strings"

	"github.com/vocalwire/gophone/media/sdp"
)

// DetectSRTP reports whether an offer/answer SDP body signals SRTP: an
// SDES crypto attribute, a DTLS fingerprint attribute, or an RTP/SAVP(F)
// media protocol. Any one of these is sufficient; a parse failure is
// treated as "not SRTP" rather than an error, since callers fall back to
// plain RTP/AVP in that case.
func DetectSRTP(sdpBody []byte) bool {
	sd := sdp.SessionDescription{}
	if err := sdp.Unmarshal(sdpBody, &sd); err != nil {
		return false
	}

	for _, v := range sd.Values("a") {
		if strings.HasPrefix(v, "crypto:") || strings.HasPrefix(v, "fingerprint:") {
			return true
		}
	}

	md, err := sd.MediaDescription("audio")
	if err == nil && strings.Contains(md.Proto, "SAVP") {
		return true
	}
	return false
}

// HasICEAttributes reports whether sdpBody already carries an ICE
// credential line (a=ice-ufrag or a=ice-pwd), so callers know whether a peer speaks ICE at
// all before deciding whether to pin their own public address onto the
// answer/offer (spec.md §4.5 step 6).
func HasICEAttributes(sdpBody []byte) bool {
	for _, line := range strings.Split(string(sdpBody), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "a=ice-ufrag:") || strings.HasPrefix(line, "a=ice-pwd:") {
			return true
		}
	}
	return false
}

// RewriteForICElessPeer strips ICE and rtcp-mux attributes from an offer
// and rewrites its connection/origin/media lines to the given
// server-reflexive address, so that a peer with no ICE support can still
// reach us once our own ICE gathering has resolved a public address.
// It also promotes a=sendonly to a=sendrecv, matching the behaviour of a
// PBX that insists on bidirectional audio.
func RewriteForICElessPeer(sdpBody []byte, publicIP net.IP, publicPort int) []byte {
	lines := strings.Split(string(sdpBody), "\n")
	out := make([]string, 0, len(lines))

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(line, "c=IN IP4"):
			out = append(out, fmt.Sprintf("c=IN IP4 %s", publicIP))
		case strings.HasPrefix(line, "o="):
			fields := strings.Fields(line)
			if len(fields) >= 6 {
				fields[5] = publicIP.String()
				out = append(out, strings.Join(fields, " "))
			} else {
				out = append(out, line)
			}
		case strings.HasPrefix(line, "m=audio"):
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				rest := strings.Join(fields[2:], " ")
				out = append(out, fmt.Sprintf("m=audio %d %s", publicPort, rest))
			} else {
				out = append(out, line)
			}
		case strings.HasPrefix(line, "a=sendonly"):
			out = append(out, "a=sendrecv")
		case strings.HasPrefix(line, "a=ice-"),
			strings.HasPrefix(line, "a=candidate:"),
			strings.HasPrefix(line, "a=end-of-candidates"),
			strings.HasPrefix(line, "a=rtcp-mux"):
			// drop: this peer never speaks ICE
		default:
			out = append(out, line)
		}
	}

	return []byte(strings.Join(out, "\r\n") + "\r\n")
}

// injectFakeICECredentials inserts a throwaway a=ice-ufrag/a=ice-pwd pair
// right after the m=audio line of an outbound offer. Some ICE stacks
// refuse to gather server-reflexive candidates at all unless the SDP they
// are handed already looks like an ICE session; this keeps the bare
// pion/ice agent path and the "ICE-less PBX peer" path sharing one SDP
// builder instead of forking it.
func injectFakeICECredentials(sdpBody []byte) []byte {
	lines := strings.Split(string(sdpBody), "\n")
	out := make([]string, 0, len(lines)+2)

	inserted := false
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		out = append(out, line)
		if !inserted && strings.HasPrefix(line, "m=audio") {
			out = append(out, "a=ice-ufrag:fake", "a=ice-pwd:fakefakefakefakefakefake")
			inserted = true
		}
	}
	return []byte(strings.Join(out, "\r\n") + "\r\n")
}
