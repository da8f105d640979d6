// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"fmt"
	"net"
)

// FirstNonLoopbackIPv4 returns the first non-loopback IPv4 address among
// the host's network interfaces. Nothing in this module calls it:
// WithTransport fills an empty ExternalHost from BindHost, which may be
// "0.0.0.0" or a loopback address.
//
// Ported from helpers.rs's get_first_non_loopback_interface, which walks
// get_if_addrs::get_if_addrs(). The Go example pack carries no equivalent
// third-party interface-listing library, so this uses net.Interfaces from
// the standard library; see DESIGN.md.
func FirstNonLoopbackIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("transport: listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			return ip4, nil
		}
	}

	return nil, fmt.Errorf("transport: no non-loopback IPv4 interface found")
}
