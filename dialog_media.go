// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package phone

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"sync"
	"time"

	"github.com/vocalwire/gophone/audio"
	"github.com/vocalwire/gophone/media"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog/log"
)

var (
	HTTPDebug = os.Getenv("HTTP_DEBUG") == "true"
	// TODO remove client singleton
	client = http.Client{
		Timeout: 10 * time.Second,
	}
)

func init() {
	if HTTPDebug {
		client.Transport = &loggingTransport{}
	}
}

// DialogMedia is io.ReaderWriter for RTP. By default it exposes RTP Read and Write.
// Not thread safe and must be protected by lock
type DialogMedia struct {
	mu sync.Mutex

	// media session is RTP local and remote
	// it is forked on media changes and updated on writer and reader
	// must be mutex protected
	mediaSession *media.MediaSession

	RTPPacketWriter *media.RTPPacketWriter
	RTPPacketReader *media.RTPPacketReader
}

// createMediaSession builds a MediaSession bound to a free port on the
// first non-loopback IPv4 interface, mirroring the old direct
// sip.ResolveInterfacesIP + media.NewMediaSession call Answer used to make
// inline before DialogMedia grew a dedicated constructor step.
func (d *DialogMedia) createMediaSession() (*media.MediaSession, error) {
	ip, _, err := sip.ResolveInterfacesIP("ip4", nil)
	if err != nil {
		return nil, err
	}

	laddr := &net.UDPAddr{IP: ip, Port: 0}
	return media.NewMediaSession(laddr)
}

// InitMediaSession installs sess/reader/writer as this dialog's active
// media, under lock so a concurrent RemoteContact/ReInvite read never
// observes a half-updated session.
func (d *DialogMedia) InitMediaSession(sess *media.MediaSession, reader *media.RTPPacketReader, writer *media.RTPPacketWriter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mediaSession = sess
	d.RTPPacketReader = reader
	d.RTPPacketWriter = writer
}

// Close tears down the active media session, if any.
func (d *DialogMedia) Close() {
	d.mu.Lock()
	sess := d.mediaSession
	d.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

// sdpReInviteUnsafe applies a re-INVITE's SDP to a forked media session.
// Caller must hold d.mu (handleReInvite locks before calling this).
func (d *DialogMedia) sdpReInviteUnsafe(sdp []byte) error {
	msess := d.mediaSession.Fork()
	if err := msess.RemoteSDP(sdp); err != nil {
		log.Error().Err(err).Msg("reinvite media remote SDP applying failed")
		return fmt.Errorf("Malformed SDP")
	}

	d.mediaSession = msess

	rtpSess := media.NewRTPSession(msess)
	d.RTPPacketReader.UpdateRTPSession(rtpSess)
	d.RTPPacketWriter.UpdateRTPSession(rtpSess)
	rtpSess.MonitorBackground()

	log.Info().
		Str("formats", msess.Formats.String()).
		Str("localAddr", msess.Laddr.String()).
		Str("remoteAddr", msess.Raddr.String()).
		Msg("Media/RTP session updated")
	return nil
}

// DialogSession interface
func (d *DialogMedia) Media() *DialogMedia {
	return d
}

// MediaSession returns the dialog's active RTP session for callers that need
// raw packet access (external-media passthrough) instead of the
// codec-aware RTPPacketReader/Writer.
func (d *DialogMedia) MediaSession() *media.MediaSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mediaSession
}

// RecordingCreate wraps this dialog's live RTP reader/writer into a WAV
// recording: MonitorReader/MonitorWriter are the dialog's actual
// RTPPacketReader/Writer, and the returned Recording passes every
// Read/Write through unchanged after decoding and flushing it to w. Callers
// that want a recorded call drive audio through rec.Read/rec.Write instead
// of the dialog's RTPPacketReader/Writer directly (e.g. ExternalMedia's RTP
// passthrough loop, or a custom dialplan). Call Recording.Close to flush
// and close w.
func (d *DialogMedia) RecordingCreate(w io.WriteSeeker) (*Recording, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.RTPPacketReader == nil || d.RTPPacketWriter == nil {
		return nil, fmt.Errorf("no media setup")
	}

	readCodec := media.CodecFromPayloadType(d.RTPPacketReader.PayloadType)
	writeCodec := media.CodecFromPayloadType(d.RTPPacketWriter.PayloadType)

	return NewRecordingWav(readCodec, writeCodec, d.RTPPacketReader, d.RTPPacketWriter, w)
}

func (d *DialogMedia) PlaybackCreate() (Playback, error) {
	// NOTE we should avoid returning pointers for any IN dialplan to avoid heap
	rtpPacketWriter := d.RTPPacketWriter
	pt := rtpPacketWriter.PayloadType
	enc, err := audio.NewPCMEncoder(pt, rtpPacketWriter)
	if err != nil {
		return Playback{}, err
	}

	p := Playback{
		writer:     enc,
		SampleRate: rtpPacketWriter.SampleRate,
		SampleDur:  20 * time.Millisecond,
	}
	return p, nil
}

func (d *DialogMedia) PlaybackControlCreate() (PlaybackControl, error) {
	// NOTE we should avoid returning pointers for any IN dialplan to avoid heap
	rtpPacketWriter := d.RTPPacketWriter
	if rtpPacketWriter == nil {
		return PlaybackControl{}, fmt.Errorf("no media setup")
	}

	pt := rtpPacketWriter.PayloadType
	enc, err := audio.NewPCMEncoder(pt, rtpPacketWriter)
	if err != nil {
		return PlaybackControl{}, err
	}

	// Audio is controled via audio reader/writer
	control := &audioControl{
		Writer: enc,
	}

	p := PlaybackControl{
		Playback: Playback{
			writer:     control,
			SampleRate: rtpPacketWriter.SampleRate,
			SampleDur:  20 * time.Millisecond,
		},
		control: control,
	}
	return p, nil
}

// DTMFWriterCreate builds a DTMFWriter over this dialog's current RTP
// writer, using the 8 kHz telephone-event codec (payload type 101); a
// different telephone-event payload type negotiated with the peer is not
// used. Mirrors PlaybackControlCreate's "no media setup" guard.
func (d *DialogMedia) DTMFWriterCreate() (*DTMFWriter, error) {
	rtpPacketWriter := d.RTPPacketWriter
	if rtpPacketWriter == nil {
		return nil, fmt.Errorf("no media setup")
	}

	codec := media.CodecTelephoneEvent8000
	rtpWriter := media.NewRTPDTMFWriter(codec, rtpPacketWriter)
	return &DTMFWriter{rtpWriter: rtpWriter}, nil
}

func (d *DialogMedia) PlaybackFile(ctx context.Context, filename string) error {
	m := d.Media()
	if m.RTPPacketWriter == nil {
		return fmt.Errorf("call not answered")
	}

	p, err := d.PlaybackCreate()
	if err != nil {
		return err
	}

	err = p.PlayFile(ctx, filename)
	return err
}

func (d *DialogMedia) PlaybackURL(ctx context.Context, urlStr string) error {
	m := d.Media()
	if m.RTPPacketWriter == nil {
		return fmt.Errorf("call not answered")
	}

	p, err := d.PlaybackCreate()
	if err != nil {
		return err
	}

	err = p.PlayURL(ctx, urlStr)
	return err
}

type loggingTransport struct{}

func (s *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	bytes, _ := httputil.DumpRequestOut(r, false)

	resp, err := http.DefaultTransport.RoundTrip(r)
	// err is returned after dumping the response

	respBytes, _ := httputil.DumpResponse(resp, false)
	bytes = append(bytes, respBytes...)

	log.Debug().Msgf("HTTP Debug:\n%s\n", bytes)

	return resp, err
}
