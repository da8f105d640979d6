// SPDX-License-Identifier: BSD-2-Clause

package phone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vocalwire/gophone/phoneerr"
)

// pendingOutboundKey is the fixed placeholder active_call_tokens uses for
// an outbound call before its real dialog id is known, so Hangup can
// cancel an in-flight MakeCall even if it later retries with a new
// Call-ID (the SRTP->RTP 488 fallback does exactly that).
//
// Ported from handle_make_call's dialog_id_placeholder = "pending_outbound".
const pendingOutboundKey = "pending_outbound"

// ActiveCall is the single in-progress call a CallOrchestrator tracks at
// once (spec.md's invariant |active_call| <= 1).
type ActiveCall struct {
	CallID string
	Dialog DialogSession
}

// PendingCall is an inbound INVITE admitted into pending_incoming,
// awaiting AnswerCall or RejectCall.
type PendingCall struct {
	CallID  string
	Dialog  *DialogServerSession
	SDPOffer []byte
}

// CallOrchestrator is the Call Orchestrator (C10): it owns the single
// ActiveCall slot, the pending_incoming admission map, and the
// Cancellation Tree, and implements the command surface spec.md §6 lists
// (MakeCall/Hangup/AnswerCall/RejectCall/DTMF/mute/denoise). It is a thin
// layer above *Phone — Phone/DialogClientSession/DialogServerSession keep
// doing the SIP work, CallOrchestrator adds the single-active-call
// invariant and command-boundary error classification spec.md asks for.
//
// Ported from original_source/sip/mod.rs's handle_make_call/handle_hangup/
// handle_answer_call/handle_reject_call/handle_send_dtmf, translated from
// a DashMap+tokio::Mutex handle into sync.Map + sync.Mutex, matching the
// teacher's own sync.Map usage in dialog_cache.go.
type CallOrchestrator struct {
	phone *Phone
	tree  *CancelTree

	mu     sync.Mutex
	active *ActiveCall

	pendingIncoming sync.Map // callID string -> *PendingCall

	events chan Event

	log zerolog.Logger
}

// NewCallOrchestrator wraps phone with call-orchestration state, deriving
// its own branch of tree.
func NewCallOrchestrator(phone *Phone, tree *CancelTree) *CallOrchestrator {
	return &CallOrchestrator{
		phone:  phone,
		tree:   tree,
		events: newEventBus(),
		log:    log.Logger.With().Str("component", "call_orchestrator").Logger(),
	}
}

// Events returns the orchestrator's event stream (sip://incoming-call and
// sip://call-state). DialogController shares this same bus for the
// incoming-call admission flow so a caller only ever selects on one
// channel, matching spec.md §6's single per-topic event model.
func (o *CallOrchestrator) Events() <-chan Event { return o.events }

func (o *CallOrchestrator) emit(e Event) { emitEvent(o.events, e) }

// MakeCall places an outbound call to callee, returning its call id.
// Registers a placeholder cancellation token before dialing so Hangup can
// interrupt setup, then swaps it for the dialog-keyed token once the
// dialog exists — the same two-phase registration handle_make_call uses,
// because the real dialog id is not known until the 2xx arrives.
func (o *CallOrchestrator) MakeCall(ctx context.Context, callee sip.Uri, opts InviteOptions) (callID string, err error) {
	if o.hasActiveCall() {
		return "", phoneerr.New("MakeCall", phoneerr.CallRejected, fmt.Errorf("a call is already active"))
	}

	callID = uuid.NewString()
	opts.SecureRTP = true

	d, err := o.dialOnce(ctx, callID, callee, opts)
	if isSRTPNotAcceptable(err) {
		o.log.Warn().Str("old_call_id", callID).Msg("remote rejected SRTP (488), retrying with RTP")
		callID = uuid.NewString()
		opts.SecureRTP = false
		d, err = o.dialOnce(ctx, callID, callee, opts)
	}
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.active = &ActiveCall{CallID: callID, Dialog: d}
	o.mu.Unlock()

	o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateConnected})
	return callID, nil
}

// isSRTPNotAcceptable reports whether err is a 488 Not Acceptable Here
// response, the signal original_source's make_call retries plain RTP on.
func isSRTPNotAcceptable(err error) bool {
	var dialogErr sipgo.ErrDialogResponse
	if !errors.As(err, &dialogErr) {
		return false
	}
	return dialogErr.Res != nil && dialogErr.Res.StatusCode == sip.StatusNotAcceptable
}

// dialOnce registers callID's placeholder cancellation token, places one
// INVITE attempt, and swaps the placeholder for the dialog-keyed token on
// success — the two-phase registration handle_make_call uses, since the
// real dialog id is not known until the 2xx arrives. On any failure
// (rejection, cancellation) the placeholder token is dropped and the call
// is reported ended before returning.
func (o *CallOrchestrator) dialOnce(ctx context.Context, callID string, callee sip.Uri, opts InviteOptions) (*DialogClientSession, error) {
	callCtx := o.tree.NewCallContext(pendingOutboundKey)

	o.log.Info().Str("call_id", callID).Str("callee", callee.String()).Bool("secure_rtp", opts.SecureRTP).Msg("making outbound call")
	o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateCalling})

	userOnResponse := opts.OnResponse
	opts.OnResponse = func(res *sip.Response) error {
		if res.StatusCode == sip.StatusRinging || res.StatusCode == 183 {
			o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateRinging})
		}
		if userOnResponse != nil {
			return userOnResponse(res)
		}
		return nil
	}

	d, err := o.phone.Invite(callCtx, callee, opts)
	if err != nil {
		o.tree.CancelCall(pendingOutboundKey)
		o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateEnded, Reason: err.Error()})
		return nil, phoneerr.New("MakeCall", phoneerr.CallRejected, err)
	}

	select {
	case <-callCtx.Done():
		o.tree.CancelCall(pendingOutboundKey)
		d.Close()
		o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateEnded, Reason: "cancelled"})
		return nil, phoneerr.New("MakeCall", phoneerr.Cancelled, callCtx.Err())
	default:
	}

	dialogID := d.Id()
	o.tree.CancelCall(pendingOutboundKey) // drop the placeholder
	o.tree.NewCallContext(dialogID)       // register under the real id
	return d, nil
}

// Hangup ends the active call, or — if setup never completed — cancels
// whatever pending outbound/inbound call tokens exist. Matches
// handle_hangup's "no active call -> cancel every pending token" branch.
func (o *CallOrchestrator) Hangup(ctx context.Context) error {
	o.mu.Lock()
	call := o.active
	o.active = nil
	o.mu.Unlock()

	if call == nil {
		o.tree.CancelCall(pendingOutboundKey)
		o.pendingIncoming.Range(func(key, _ any) bool {
			o.tree.CancelCall(key.(string))
			o.pendingIncoming.Delete(key)
			o.emit(Event{Topic: EventTopicCallState, CallID: key.(string), State: CallStateEnded, Reason: "hangup"})
			return true
		})
		return phoneerr.New("Hangup", phoneerr.NoActiveCall, nil)
	}

	o.tree.CancelCall(call.Dialog.Id())
	if err := call.Dialog.Hangup(ctx); err != nil {
		return phoneerr.New("Hangup", phoneerr.ProtocolInternal, err)
	}
	o.emit(Event{Topic: EventTopicCallState, CallID: call.CallID, State: CallStateEnded, Reason: "hangup"})
	return nil
}

// AdmitIncoming registers an inbound INVITE into pending_incoming. The
// Dialog Controller (dialog_controller.go) calls this after its own
// dedup/retention checks; CallOrchestrator only owns the map and the
// AnswerCall/RejectCall consumption of it.
func (o *CallOrchestrator) AdmitIncoming(callID string, d *DialogServerSession, sdpOffer []byte) {
	o.pendingIncoming.Store(callID, &PendingCall{CallID: callID, Dialog: d, SDPOffer: sdpOffer})
}

// IsPending reports whether callID is currently sitting in pending_incoming,
// used by the Dialog Controller to drop a retransmitted INVITE instead of
// admitting it a second time.
func (o *CallOrchestrator) IsPending(callID string) bool {
	_, ok := o.pendingIncoming.Load(callID)
	return ok
}

// DropPending removes callID from pending_incoming without responding to
// it, used by the retention-poll task once the dialog itself has ended
// (e.g. the caller sent CANCEL before anyone answered).
func (o *CallOrchestrator) DropPending(callID string) {
	o.pendingIncoming.Delete(callID)
}

// AnswerCall accepts a pending inbound call, moving it from
// pending_incoming to the active call slot.
func (o *CallOrchestrator) AnswerCall(callID string) error {
	v, ok := o.pendingIncoming.LoadAndDelete(callID)
	if !ok {
		return phoneerr.New("AnswerCall", phoneerr.NoPendingCall, nil).WithCallID(callID)
	}
	pending := v.(*PendingCall)

	if err := pending.Dialog.Answer(); err != nil {
		return phoneerr.New("AnswerCall", phoneerr.ProtocolInternal, err)
	}

	o.tree.NewCallContext(pending.Dialog.Id())

	o.mu.Lock()
	o.active = &ActiveCall{CallID: callID, Dialog: pending.Dialog}
	o.mu.Unlock()

	o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateConnected})
	return nil
}

// RejectCall rejects a pending inbound call with the given SIP status
// (busy_here by default, matching handle_reject_call).
func (o *CallOrchestrator) RejectCall(callID string, statusCode sip.StatusCode) error {
	v, ok := o.pendingIncoming.LoadAndDelete(callID)
	if !ok {
		return phoneerr.New("RejectCall", phoneerr.NoPendingCall, nil).WithCallID(callID)
	}
	pending := v.(*PendingCall)
	o.tree.CancelCall(callID)

	if statusCode == 0 {
		statusCode = sip.StatusBusyHere
	}
	if err := pending.Dialog.Respond(statusCode, "Call rejected", nil); err != nil {
		return phoneerr.New("RejectCall", phoneerr.ProtocolInternal, err)
	}
	o.emit(Event{Topic: EventTopicCallState, CallID: callID, State: CallStateEnded, Reason: "rejected"})
	return nil
}

// SendDTMF sends one DTMF digit on the active call's media.
func (o *CallOrchestrator) SendDTMF(digit rune) error {
	call := o.activeCall()
	if call == nil {
		return phoneerr.New("SendDTMF", phoneerr.NoActiveCall, nil)
	}

	dtmf, err := call.Dialog.Media().DTMFWriterCreate()
	if err != nil {
		return phoneerr.New("SendDTMF", phoneerr.MediaSetupFailed, err)
	}
	if err := dtmf.WriteDTMF(digit); err != nil {
		return phoneerr.New("SendDTMF", phoneerr.ProtocolInternal, err)
	}
	return nil
}

func (o *CallOrchestrator) activeCall() *ActiveCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// IsActiveCallID reports whether callID is the orchestrator's current
// active call, distinguishing "pending_incoming entry removed because
// AnswerCall picked it up" from "removed because RejectCall turned it
// down" for a caller polling pending_incoming's disappearance.
func (o *CallOrchestrator) IsActiveCallID(callID string) bool {
	call := o.activeCall()
	return call != nil && call.CallID == callID
}

func (o *CallOrchestrator) hasActiveCall() bool {
	return o.activeCall() != nil
}
