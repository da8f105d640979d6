// SPDX-License-Identifier: MPL-2.0

// Package transport resolves the SIP transport (UDP/TCP/TLS/WS/WSS) a
// request should use and builds the low-level connection for it. sipgo's
// Server/Client already own the wire-level listeners; this package sits in
// front of them, choosing which configured Transport applies to a given
// target URI and providing the pieces sipgo itself does not: DNS
// resolution for stream transports, an egress-interface fallback for the
// Contact/Via host, and a permissive TLS policy for self-signed PBX certs.
package transport

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Protocol identifies a SIP transport protocol, independent of the string
// casing sipgo/sip.Uri happens to carry.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
	ProtocolWS  Protocol = "ws"
	ProtocolWSS Protocol = "wss"
)

func (p Protocol) String() string { return string(p) }

// IsStream reports whether p is a connection-oriented transport, i.e. one
// that needs a resolved remote address before dialing (TCP/TLS/WS/WSS),
// unlike UDP which sends datagrams to whatever address it is given.
func (p Protocol) IsStream() bool {
	return p != ProtocolUDP
}

// IsSecure reports whether p wraps its connection in TLS.
func (p Protocol) IsSecure() bool {
	return p == ProtocolTLS || p == ProtocolWSS
}

// ExtractProtocol reads the ;transport= URI parameter, defaulting to TLS
// for a sips: URI and UDP for everything else. Ported from helpers.rs's
// extract_protocol_from_uri.
func ExtractProtocol(uri sip.Uri) Protocol {
	if uri.UriParams != nil {
		if v := uri.UriParams["transport"]; v != "" {
			return normalize(v)
		}
	}
	if uri.Scheme == "sips" {
		return ProtocolTLS
	}
	return ProtocolUDP
}

func normalize(raw string) Protocol {
	switch strings.ToLower(raw) {
	case "tcp":
		return ProtocolTCP
	case "tls", "tls-sctp", "sctp":
		return ProtocolTLS
	case "ws":
		return ProtocolWS
	case "wss":
		return ProtocolWSS
	default:
		return ProtocolUDP
	}
}
