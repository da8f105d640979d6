// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sdesOfferSDP = "v=0\r\n" +
	"o=- 123 123 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 5000 RTP/SAVP 0\r\n" +
	"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WnD8kU4competwentyyeightbytekeyAbc\r\n"

const dtlsOfferSDP = "v=0\r\n" +
	"o=- 123 123 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 5000 UDP/TLS/RTP/SAVPF 0\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC\r\n"

const plainRTPOfferSDP = "v=0\r\n" +
	"o=- 123 123 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 5000 RTP/AVP 0\r\n" +
	"a=sendonly\r\n"

const iceOfferSDP = "v=0\r\n" +
	"o=- 123 123 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 5000 RTP/AVP 0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwxyz012345\r\n" +
	"a=candidate:1 1 UDP 2130706431 10.0.0.1 5000 typ host\r\n"

func TestDetectSRTPSdesCrypto(t *testing.T) {
	assert.True(t, DetectSRTP([]byte(sdesOfferSDP)))
}

func TestDetectSRTPFingerprint(t *testing.T) {
	assert.True(t, DetectSRTP([]byte(dtlsOfferSDP)))
}

func TestDetectSRTPFalseForPlainRTP(t *testing.T) {
	assert.False(t, DetectSRTP([]byte(plainRTPOfferSDP)))
}

func TestDetectSRTPFalseOnParseFailure(t *testing.T) {
	assert.False(t, DetectSRTP([]byte("not an sdp body at all")))
}

func TestHasICEAttributesTrueWhenPresent(t *testing.T) {
	assert.True(t, HasICEAttributes([]byte(iceOfferSDP)))
}

func TestHasICEAttributesFalseWhenAbsent(t *testing.T) {
	assert.False(t, HasICEAttributes([]byte(plainRTPOfferSDP)))
}

func TestRewriteForICElessPeerRewritesAddressLines(t *testing.T) {
	out := string(RewriteForICElessPeer([]byte(plainRTPOfferSDP), net.ParseIP("203.0.113.9"), 40000))

	assert.Contains(t, out, "c=IN IP4 203.0.113.9")
	assert.Contains(t, out, "o=- 123 123 IN IP4 203.0.113.9")
	assert.Contains(t, out, "m=audio 40000 RTP/AVP 0")
}

func TestRewriteForICElessPeerPromotesSendonlyToSendrecv(t *testing.T) {
	out := string(RewriteForICElessPeer([]byte(plainRTPOfferSDP), net.ParseIP("203.0.113.9"), 40000))

	assert.Contains(t, out, "a=sendrecv")
	assert.NotContains(t, out, "a=sendonly")
}

func TestRewriteForICElessPeerStripsICEAttributes(t *testing.T) {
	out := string(RewriteForICElessPeer([]byte(iceOfferSDP), net.ParseIP("203.0.113.9"), 40000))

	assert.NotContains(t, out, "a=ice-")
	assert.NotContains(t, out, "a=candidate:")
	assert.NotContains(t, out, "a=end-of-candidates")
	assert.NotContains(t, out, "a=rtcp-mux")
}
