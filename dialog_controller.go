// SPDX-License-Identifier: BSD-2-Clause

package phone

import (
	"context"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pendingRetentionPoll is how often the Dialog Controller checks whether an
// admitted inbound call has been taken out of pending_incoming (answered or
// rejected), so it can tear its handler goroutine down once the decision is
// made elsewhere.
const pendingRetentionPoll = 100 * time.Millisecond

// DialogController is the Dialog Controller (C9): the *Phone.ServeBackground
// callback that runs the inbound-INVITE admission flow spec.md §4.3
// describes, then hands the call to CallOrchestrator's pending_incoming map
// and waits for AnswerCall/RejectCall/CANCEL to resolve it.
type DialogController struct {
	phone *Phone
	orch  *CallOrchestrator
	log   zerolog.Logger
}

// NewDialogController wires phone's inbound INVITEs through orch's
// pending_incoming admission map and event bus.
func NewDialogController(phone *Phone, orch *CallOrchestrator) *DialogController {
	return &DialogController{
		phone: phone,
		orch:  orch,
		log:   log.Logger.With().Str("component", "dialog_controller").Logger(),
	}
}

// Serve runs phone's SIP server loop, dispatching every inbound INVITE
// through handleIncoming, until ctx is cancelled.
func (c *DialogController) Serve(ctx context.Context) error {
	return c.phone.Serve(ctx, c.handleIncoming)
}

// ServeBackground is Serve's non-blocking counterpart, returning once the
// transport listener is up.
func (c *DialogController) ServeBackground(ctx context.Context) error {
	return c.phone.ServeBackground(ctx, c.handleIncoming)
}

// handleIncoming is the Phone ServeDialogFunc: it runs once per inbound
// INVITE and is expected to block for the lifetime of the call, since Phone
// hangs up the dialog as soon as this function returns.
//
// Steps, per spec.md §4.3:
//  1. drop a retransmitted INVITE for a call id already in pending_incoming
//  2. extract caller/callee/SDP offer
//  3. dialog already exists by the time we're called (Phone.NewPhone's
//     OnInvite built it via sipgo.DialogUA.ReadInvite; failures there never
//     reach handleIncoming)
//  4. send 180 Ringing, or 500 on failure
//  5. insert into pending_incoming, then emit sip://incoming-call and
//     sip://call-state ringing
//  6. poll every 100ms until the entry is gone (answered/rejected) or the
//     dialog itself ends (caller CANCELled)
//  7. on a caller CANCEL, drop the pending entry and emit sip://call-state
//     ended; an answered call blocks here until its dialog ends
func (c *DialogController) handleIncoming(d *DialogServerSession) {
	callID := d.Id()

	if c.orch.IsPending(callID) {
		c.log.Warn().Str("call_id", callID).Msg("dropping retransmitted INVITE for already-pending call")
		return
	}

	caller := d.FromUser()
	callee := d.ToUser()
	sdpOffer := d.InviteRequest.Body()

	if err := d.Ringing(); err != nil {
		c.log.Error().Err(err).Str("call_id", callID).Msg("sending 180 Ringing failed")
		d.Respond(sip.StatusInternalServerError, "Internal Server Error", nil)
		return
	}

	c.orch.AdmitIncoming(callID, d, sdpOffer)
	c.orch.emit(Event{
		Topic:  EventTopicIncomingCall,
		CallID: callID,
		Caller: caller,
		Callee: callee,
	})
	c.orch.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateRinging})

	dialogCtx := d.Context()
	if !c.waitWhilePending(dialogCtx, callID) {
		// Dialog ended (caller sent CANCEL) before AnswerCall/RejectCall
		// ran. pending_incoming still holds the entry; nobody else will
		// ever emit its ended event, so we do.
		c.orch.DropPending(callID)
		c.orch.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateEnded, Reason: "cancelled"})
		return
	}

	if !c.orch.IsActiveCallID(callID) {
		// RejectCall already took it out of pending_incoming and emitted
		// its own ended/rejected event.
		return
	}

	// Answered: AnswerCall already emitted "connected". Block here for the
	// life of the call so Phone's post-handler cleanup (which hangs up any
	// dialog whose handler has returned) does not tear down a call that
	// just started — Hangup/BYE processing elsewhere is what ends
	// dialogCtx, and that is this function's real exit signal.
	<-dialogCtx.Done()
}

// waitWhilePending polls pending_incoming every pendingRetentionPoll until
// callID is no longer in it, returning true. Returns false if dialogCtx
// ends first (the call was CANCELled before anyone answered/rejected it).
func (c *DialogController) waitWhilePending(dialogCtx context.Context, callID string) bool {
	ticker := time.NewTicker(pendingRetentionPoll)
	defer ticker.Stop()

	for {
		select {
		case <-dialogCtx.Done():
			return false
		case <-ticker.C:
			if !c.orch.IsPending(callID) {
				return true
			}
		}
	}
}
