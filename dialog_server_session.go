// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package phone

import (
	"context"
	"fmt"
	"time"

	"github.com/vocalwire/gophone/media"
	"github.com/vocalwire/gophone/media/sdp"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog/log"
)

// DialogServerSession represents inbound channel
type DialogServerSession struct {
	*sipgo.DialogServerSession

	// MediaSession *media.MediaSession
	DialogMedia

	// mu sync.Mutex We will reuse lock from Media
	// lastInvite is actual last invite sent by remote REINVITE
	// We do not use sipgo as this needs mutex but also keeping original invite
	lastInvite *sip.Request

	contactHDR sip.ContactHeader

	// formats is the codec set this dialog was configured to offer,
	// copied from Phone.mediaConf at admission time (phone.go's
	// initServerSession). Answer falls back to createMediaSession's
	// default set when empty.
	formats sdp.Formats
}

func (d *DialogServerSession) Id() string {
	return d.ID
}

func (d *DialogServerSession) Close() {
	d.DialogMedia.Close()
	d.DialogServerSession.Close()
}

func (d *DialogServerSession) FromUser() string {
	return d.InviteRequest.From().Address.User
}

// User that was dialed
func (d *DialogServerSession) ToUser() string {
	return d.InviteRequest.To().Address.User
}

func (d *DialogServerSession) Progress() error {
	return d.Respond(sip.StatusTrying, "Trying", nil)
}

func (d *DialogServerSession) Ringing() error {
	return d.Respond(sip.StatusRinging, "Ringing", nil)
}

func (d *DialogServerSession) DialogSIP() *sipgo.Dialog {
	return &d.Dialog
}

func (d *DialogServerSession) RemoteContact() *sip.ContactHeader {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastInvite != nil {
		return d.lastInvite.Contact()
	}
	return d.InviteRequest.Contact()
}

func (d *DialogServerSession) Respond(statusCode sip.StatusCode, reason string, body []byte, headers ...sip.Header) error {
	// TODO fix this on dialog srv
	headers = append(headers, &d.contactHDR)
	return d.DialogServerSession.Respond(statusCode, reason, body, headers...)
}

func (d *DialogServerSession) RespondSDP(body []byte) error {
	headers := []sip.Header{sip.NewHeader("Content-Type", "application/sdp")}
	headers = append(headers, &d.contactHDR)
	return d.DialogServerSession.Respond(200, "OK", body, headers...)
}

func (d *DialogServerSession) Answer() error {
	// TODO, lot of here settings need to come from TU. or TU must copy before shipping
	// We may have this settings
	// - Codecs
	// - RTP port ranges

	// For now we keep things global and hardcoded
	// Codecs are ulaw,alaw
	// RTP port range is not set

	// Now media SETUP
	// ip, port, err := sipgox.FindFreeInterfaceHostPort("udp", "")
	// if err != nil {
	// 	return err
	// }

	sess, err := d.createMediaSession()
	if err != nil {
		return err
	}
	if len(d.formats) > 0 {
		sess.Formats = d.formats
	}

	rtpSess := media.NewRTPSession(sess)
	return d.AnswerWithSession(sess, rtpSess)
}

// AnswerWithSession. Not final API. It allows answering with custom media and rtpSess
func (d *DialogServerSession) AnswerWithSession(sess *media.MediaSession, rtpSess *media.RTPSession) error {
	sdp := d.InviteRequest.Body()
	if sdp == nil {
		return fmt.Errorf("no sdp present in INVITE")
	}

	if err := sess.RemoteSDP(sdp); err != nil {
		return err
	}

	d.InitMediaSession(
		sess,
		media.NewRTPPacketReaderSession(rtpSess),
		media.NewRTPPacketWriterSession(rtpSess),
	)
	// Must be called after media and reader writer is setup
	rtpSess.MonitorBackground()

	localSDP := d.pinPublicAddress(sdp, sess)
	if err := d.RespondSDP(localSDP); err != nil {
		return err
	}

	// Wait ACK
	// If we do not wait ACK, hanguping call will fail as ACK can be delayed when we are doing Hangup
	for {
		select {
		case <-time.After(10 * time.Second):
			return fmt.Errorf("no ACK received")
		case state := <-d.State():
			if state == sip.DialogStateConfirmed {
				return nil
			}
		}
	}
}

// pinPublicAddress implements spec.md §4.5 step 6: when the remote offer
// carries no ICE attributes at all, the peer has no candidates to latch
// onto, so this discovers our own server-reflexive address via a throwaway
// ICE agent and rewrites the answer's c=/o=/m=audio lines to it, stripping
// any of our own leftover ICE/rtcp-mux attributes in the process. An ICE
// capable offer, or any failure discovering the candidate, passes the
// answer through unchanged — RTPNAT's symmetric-latching in media.MediaSession
// remains the fallback NAT-pinning path either way.
func (d *DialogServerSession) pinPublicAddress(offerSDP []byte, sess *media.MediaSession) []byte {
	answerSDP := sess.LocalSDP()
	if media.HasICEAttributes(offerSDP) {
		return answerSDP
	}

	ice, err := media.NewICESession(sess.Laddr.Port, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ICE session for public address discovery failed")
		return answerSDP
	}
	defer ice.Close()

	addr, err := ice.ServerReflexiveCandidate(d.Context())
	if err != nil {
		log.Warn().Err(err).Msg("server-reflexive candidate discovery failed, answering with local address")
		return answerSDP
	}

	return media.RewriteForICElessPeer(answerSDP, addr.IP, addr.Port)
}

func (d *DialogServerSession) Hangup(ctx context.Context) error {
	return d.Bye(ctx)
}

func (d *DialogServerSession) ReInvite(ctx context.Context) error {
	sdp := d.mediaSession.LocalSDP()
	contact := d.RemoteContact()
	req := sip.NewRequest(sip.INVITE, contact.Address)
	req.SetBody(sdp)

	res, err := d.Do(ctx, req)
	if err != nil {
		return err
	}

	if !res.IsSuccess() {
		return sipgo.ErrDialogResponse{
			Res: res,
		}
	}
	return nil
}

func (d *DialogServerSession) handleReInvite(req *sip.Request, tx sip.ServerTransaction) {
	if err := d.ReadRequest(req, tx); err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastInvite = req

	if err := d.sdpReInviteUnsafe(req.Body()); err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusRequestTerminated, err.Error(), nil))
		return
	}

	tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
}

func (d *DialogServerSession) readSIPInfoDTMF(req *sip.Request, tx sip.ServerTransaction) {
	tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil))
	// if err := d.ReadRequest(req, tx); err != nil {
	// 	tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Bad Request", nil))
	// 	return
	// }

	// Parse this
	//Signal=1
	// Duration=160
	// reader := bytes.NewReader(req.Body())

	// for {

	// }
}
