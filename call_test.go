// SPDX-License-Identifier: BSD-2-Clause

package phone

import (
	"context"
	"testing"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalwire/gophone/phoneerr"
)

// fakeDialogSession is a minimal DialogSession double so CallOrchestrator's
// hangup branches can be exercised without a real SIP dialog.
type fakeDialogSession struct {
	id         string
	hangupErr  error
	hangupCall int
	ctx        context.Context
}

func (f *fakeDialogSession) Id() string              { return f.id }
func (f *fakeDialogSession) Context() context.Context { return f.ctx }
func (f *fakeDialogSession) Media() *DialogMedia      { return &DialogMedia{} }
func (f *fakeDialogSession) DialogSIP() *sipgo.Dialog { return nil }
func (f *fakeDialogSession) Hangup(ctx context.Context) error {
	f.hangupCall++
	return f.hangupErr
}

func newTestOrchestrator() *CallOrchestrator {
	return NewCallOrchestrator(&Phone{}, NewCancelTree())
}

func TestMakeCallRejectsWhenAlreadyActive(t *testing.T) {
	o := newTestOrchestrator()
	o.active = &ActiveCall{CallID: "existing", Dialog: &fakeDialogSession{id: "existing"}}

	_, err := o.MakeCall(context.Background(), sip.Uri{User: "bob"}, InviteOptions{})

	require.Error(t, err)
	assert.Equal(t, phoneerr.CallRejected, phoneerr.KindOf(err))
}

func TestHangupNoActiveCallReturnsNoActiveCallAndDrainsPending(t *testing.T) {
	o := newTestOrchestrator()
	o.AdmitIncoming("pending-1", nil, nil)
	o.AdmitIncoming("pending-2", nil, nil)

	err := o.Hangup(context.Background())

	require.Error(t, err)
	assert.Equal(t, phoneerr.NoActiveCall, phoneerr.KindOf(err))
	assert.False(t, o.IsPending("pending-1"))
	assert.False(t, o.IsPending("pending-2"))
}

func TestHangupNoActiveCallCancelsPendingOutboundPlaceholder(t *testing.T) {
	o := newTestOrchestrator()
	placeholderCtx := o.tree.NewCallContext(pendingOutboundKey)

	err := o.Hangup(context.Background())
	assert.Equal(t, phoneerr.NoActiveCall, phoneerr.KindOf(err))

	select {
	case <-placeholderCtx.Done():
	default:
		t.Fatal("pending_outbound placeholder token should be cancelled by Hangup when no active call exists")
	}
}

func TestHangupActiveCallInvokesDialogHangupAndClearsActive(t *testing.T) {
	o := newTestOrchestrator()
	fake := &fakeDialogSession{id: "dialog-1", ctx: context.Background()}
	o.active = &ActiveCall{CallID: "call-1", Dialog: fake}
	o.tree.NewCallContext("dialog-1")

	err := o.Hangup(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, fake.hangupCall)
	assert.Nil(t, o.active)
	assert.False(t, o.IsActiveCallID("call-1"))
}

func TestHangupActiveCallWrapsDialogError(t *testing.T) {
	o := newTestOrchestrator()
	fake := &fakeDialogSession{id: "dialog-1", ctx: context.Background(), hangupErr: assertErr}
	o.active = &ActiveCall{CallID: "call-1", Dialog: fake}
	o.tree.NewCallContext("dialog-1")

	err := o.Hangup(context.Background())

	require.Error(t, err)
	assert.Equal(t, phoneerr.ProtocolInternal, phoneerr.KindOf(err))
}

func TestAnswerCallNoPendingReturnsError(t *testing.T) {
	o := newTestOrchestrator()

	err := o.AnswerCall("missing")

	require.Error(t, err)
	assert.Equal(t, phoneerr.NoPendingCall, phoneerr.KindOf(err))
}

func TestRejectCallNoPendingReturnsError(t *testing.T) {
	o := newTestOrchestrator()

	err := o.RejectCall("missing", 0)

	require.Error(t, err)
	assert.Equal(t, phoneerr.NoPendingCall, phoneerr.KindOf(err))
}

func TestSendDTMFNoActiveCallReturnsError(t *testing.T) {
	o := newTestOrchestrator()

	err := o.SendDTMF('5')

	require.Error(t, err)
	assert.Equal(t, phoneerr.NoActiveCall, phoneerr.KindOf(err))
}

func TestIsSRTPNotAcceptableMatchesOn488(t *testing.T) {
	err := phoneerr.New("MakeCall", phoneerr.CallRejected, sipgo.ErrDialogResponse{
		Res: &sip.Response{StatusCode: sip.StatusNotAcceptable},
	})

	assert.True(t, isSRTPNotAcceptable(err))
}

func TestIsSRTPNotAcceptableFalseForOtherStatus(t *testing.T) {
	err := phoneerr.New("MakeCall", phoneerr.CallRejected, sipgo.ErrDialogResponse{
		Res: &sip.Response{StatusCode: sip.StatusBusyHere},
	})

	assert.False(t, isSRTPNotAcceptable(err))
}

func TestIsSRTPNotAcceptableFalseForUnrelatedError(t *testing.T) {
	assert.False(t, isSRTPNotAcceptable(assertErr))
}

var assertErr = context.DeadlineExceeded
