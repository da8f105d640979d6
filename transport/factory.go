// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ResolveTimeout bounds the DNS lookup stream transports need before
// dialing. UDP never resolves here; sipgo hands it the bare host and lets
// the kernel resolve on send.
const ResolveTimeout = 5 * time.Second

// Target is a resolved dial destination: the protocol to use and the
// network address to dial it on.
type Target struct {
	Protocol Protocol
	Addr     string // host:port, or a resolved ip:port for stream transports
}

// ResolveTarget turns a host:port pair and a Protocol into a dial Target,
// resolving the hostname over DNS when the protocol is connection-oriented
// and the host is not already an IP literal. UDP is left unresolved: its
// connection is created against the literal host and resolved per-packet,
// matching sipgo's own UDP transport.
//
// Ported from helpers.rs's resolve_sip_addr + create_transport_connection,
// which skip DNS for UDP and for any host that already parses as an IP.
func ResolveTarget(ctx context.Context, proto Protocol, host string, port int) (Target, error) {
	hostport := net.JoinHostPort(host, fmt.Sprint(port))

	if !proto.IsStream() {
		return Target{Protocol: proto, Addr: hostport}, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return Target{Protocol: proto, Addr: hostport}, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, ResolveTimeout)
	defer cancel()

	resolver := net.Resolver{}
	addrs, err := resolver.LookupHost(resolveCtx, host)
	if err != nil {
		return Target{}, fmt.Errorf("transport: resolving %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return Target{}, fmt.Errorf("transport: no address found for %q", host)
	}

	return Target{Protocol: proto, Addr: net.JoinHostPort(addrs[0], fmt.Sprint(port))}, nil
}
