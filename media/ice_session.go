// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/ice/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSTUNServers mirrors the public STUN pool used for NAT discovery:
// enough independent servers that one or two being unreachable does not
// stall call setup.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ICEConnectTimeout bounds how long a Media Session waits for its ICE
// agent to resolve a server-reflexive candidate (outbound) or to see the
// first matched candidate pair (inbound) before giving up.
const ICEConnectTimeout = 10 * time.Second

// ICESession wraps a bare pion/ice agent used purely for STUN-assisted
// NAT discovery: gophone never waits on full ICE connectivity checks
// against a SIP peer, because a SIP/SDP peer with no ICE support has no
// candidates to check against. Instead the agent gathers a local
// server-reflexive candidate, which becomes the address advertised in
// our own SDP, and the agent is torn down once that candidate is known.
//
// This deliberately avoids pion/webrtc's PeerConnection: that type
// hard-wires DTLS-SRTP transport, but this softphone negotiates SDES
// SRTP over plain RTP/SAVP, so only the ICE agent itself is reused.
type ICESession struct {
	agent *ice.Agent
	log   zerolog.Logger
}

// NewICESession creates and starts gathering on a fresh ICE agent bound
// to the local UDP media port. STUN servers come from DefaultSTUNServers
// unless overridden.
func NewICESession(localPort int, stunServers []string) (*ICESession, error) {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}

	urls := make([]*ice.URL, 0, len(stunServers))
	for _, s := range stunServers {
		u, err := ice.ParseURL(s)
		if err != nil {
			log.Warn().Err(err).Str("url", s).Msg("skipping unparsable STUN url")
			continue
		}
		urls = append(urls, u)
	}

	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls:         urls,
		NetworkTypes: []ice.NetworkType{ice.NetworkTypeUDP4},
		PortMin:      uint16(localPort),
		PortMax:      uint16(localPort),
	})
	if err != nil {
		return nil, fmt.Errorf("ice.NewAgent: %w", err)
	}

	return &ICESession{agent: agent, log: log.With().Str("caller", "ice").Logger()}, nil
}

// ServerReflexiveCandidate blocks until the agent reports a
// server-reflexive candidate (our public IP:port as seen by a STUN
// server) or ICEConnectTimeout elapses.
func (s *ICESession) ServerReflexiveCandidate(ctx context.Context) (*net.UDPAddr, error) {
	found := make(chan ice.Candidate, 1)

	if err := s.agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return
		}
		if c.Type() == ice.CandidateTypeServerReflexive {
			select {
			case found <- c:
			default:
			}
		}
	}); err != nil {
		return nil, fmt.Errorf("OnCandidate: %w", err)
	}

	if err := s.agent.GatherCandidates(); err != nil {
		return nil, fmt.Errorf("GatherCandidates: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ICEConnectTimeout)
	defer cancel()

	select {
	case c := <-found:
		return &net.UDPAddr{IP: net.ParseIP(c.Address()), Port: c.Port()}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out waiting for server-reflexive candidate: %w", ctx.Err())
	}
}

// LocalCredentials returns the ICE ufrag/pwd this agent generated, for
// callers that want to advertise real ICE attributes to an ICE-capable
// peer instead of the fake-credential workaround in negotiate.go.
func (s *ICESession) LocalCredentials() (ufrag, pwd string, err error) {
	return s.agent.GetLocalUserCredentials()
}

func (s *ICESession) Close() error {
	return s.agent.Close()
}
