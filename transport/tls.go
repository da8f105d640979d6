// SPDX-License-Identifier: MPL-2.0

package transport

import "crypto/tls"

// NewClientTLSConfig builds the tls.Config used when dialing a TLS or WSS
// SIP transport. When serverName is empty the certificate's hostname
// cannot be validated against anything meaningful (the target is often an
// IP-literal PBX with a self-signed cert), so verification is skipped;
// this mirrors media/dtls.go's InsecureSkipVerify policy for the SRTP/DTLS
// side of the same softphone.
func NewClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: serverName == "",
	}
}
