// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/gobwas/ws"
)

// sipWebSocketProtocol is the Sec-WebSocket-Protocol value RFC 7118
// requires for SIP-over-WebSocket.
const sipWebSocketProtocol = "sip"

// DialWebSocket opens a SIP-over-WebSocket connection to target (ws:// or
// wss://), negotiating the "sip" subprotocol per RFC 7118. For wss:// the
// TLS handshake uses tlsConf (see NewClientTLSConfig); it is ignored for
// plain ws://.
//
// gobwas/ws reaches this module only as an indirect dependency of sipgo,
// which owns WS listening/dialing for normal calls; this dialer exists for
// the cases in SPEC_FULL.md's transport factory where a connection must be
// established and inspected (e.g. probed) before handing it to sipgo, so
// the dependency gets a direct, named call site instead of riding along
// unexercised. See DESIGN.md.
func DialWebSocket(ctx context.Context, target string, tlsConf *tls.Config) (net.Conn, error) {
	dialer := ws.Dialer{
		Protocols: []string{sipWebSocketProtocol},
		TLSConfig: tlsConf,
	}

	conn, _, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", target, err)
	}
	return conn, nil
}

// WebSocketURL builds the ws:// or wss:// URL for a SIP WebSocket target.
func WebSocketURL(proto Protocol, host string, port int) string {
	scheme := "ws"
	if proto == ProtocolWSS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprint(port)))
}
