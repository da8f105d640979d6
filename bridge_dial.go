// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package phone

import (
	"errors"
	"io"
	"net"

	"github.com/vocalwire/gophone/media"
	"github.com/vocalwire/gophone/phoneerr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BridgeDial is Bridge's two-party variant for a B2BUA-style dial: an
// originator leg and a single callee leg, joined as soon as the callee
// answers. It skips Bridge's party-count bookkeeping and proxies raw RTP
// directly when either leg never negotiated a *media.MediaSession (the
// ICE/WebRTC leg case), which Bridge's AudioReader/AudioWriter path cannot
// do. The softphone's own call flow (call.go) does not use it.
type BridgeDial struct {
	// originator is the dialog session that created the bridge (the first
	// AddDialogSession call); the second call joins the callee leg to it.
	originator DialogSession

	log zerolog.Logger
}

func NewBridgeConference() BridgeDial {
	return BridgeDial{
		log: log.Logger,
	}
}

func (b *BridgeDial) AddDialogSession(d DialogSession) error {
	if b.originator == nil {
		b.originator = d
		return nil
	}

	b.log.Info().Msg("Starting bridge_dial proxy media")

	dlg1 := b.originator
	dlg2 := d

	if dlg1.Media().MediaSession() == nil || dlg2.Media().MediaSession() == nil {
		// Either leg is an ICE/WebRTC-style answer with no classic
		// *media.MediaSession, so proxy the raw RTP readers/writers instead.
		r1 := dlg1.Media().RTPPacketReader.Reader.(media.RTPReaderRaw)
		r2 := dlg2.Media().RTPPacketReader.Reader.(media.RTPReaderRaw)
		w1 := dlg1.Media().RTPPacketWriter.Writer.(media.RTPWriterRaw)
		w2 := dlg2.Media().RTPPacketWriter.Writer.(media.RTPWriterRaw)

		go proxyMediaRTPRaw(r1, w2)
		go proxyMediaRTPRaw(r2, w1)

		// RTCP is intentionally not relayed on this path: the ICE leg's RTCP
		// belongs to its own agent, not to the other leg's media session.

		return nil
	}

	m1 := dlg1.Media().MediaSession()
	m2 := dlg2.Media().MediaSession()

	if m1 == nil || m2 == nil {
		return phoneerr.New("AddDialogSession", phoneerr.MediaSetupFailed, errors.New("no media setup"))
	}

	go proxyMedia(b.log, m1, m2)
	go proxyMedia(b.log, m2, m1)
	return nil
}

func proxyMediaRTPRaw(m1 media.RTPReaderRaw, m2 media.RTPWriterRaw) (written int64, e error) {
	buf := make([]byte, 1500) // MTU

	var total int64
	for {
		// In case of recording we need to unmarshal RTP packet
		n, err := m1.ReadRTPRaw(buf)
		if err != nil {
			return total, err
		}
		written, err := m2.WriteRTPRaw(buf[:n])
		if err != nil {
			return total, err
		}
		if written != n {
			return total, io.ErrShortWrite
		}
		total += int64(written)
	}
}

func proxyMedia(log zerolog.Logger, m1 *media.MediaSession, m2 *media.MediaSession) {
	go func() {
		total, err := proxyMediaRTCP(m1, m2)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("Proxy media RTCP stopped")
		}
		log.Debug().Int64("bytes", total).Str("peer1", m1.Raddr.String()).Str("peer2", m2.Raddr.String()).Msg("RTCP finished")
	}()

	total, err := proxyMediaRTPRaw(m1, m2)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Err(err).Msg("Proxy media stopped")
	}
	log.Debug().Int64("bytes", total).Str("peer1", m1.Raddr.String()).Str("peer2", m2.Raddr.String()).Msg("RTP finished")
}

func proxyMediaRTCP(m1 *media.MediaSession, m2 *media.MediaSession) (written int64, e error) {
	buf := make([]byte, 1500) // MTU

	var total int64
	for {
		// In case of recording we need to unmarshal RTP packet
		n, err := m1.ReadRTCPRaw(buf)
		if err != nil {
			return total, err
		}
		written, err := m2.WriteRTCPRaw(buf[:n])
		if err != nil {
			return total, err
		}
		if written != n {
			return total, io.ErrShortWrite
		}
		total += int64(written)
	}
}
