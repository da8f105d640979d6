// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package phone

import (
	"errors"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// DialogsClientCache and DialogsServerCache index live dialogs by the
// Dialog identity spec.md's data model defines (Call-ID + local/remote
// tag), so an in-dialog request (re-INVITE, BYE, ACK) arriving on either
// leg can be routed back to its DialogClientSession/DialogServerSession
// wrapper without the Call Orchestrator or Dialog Controller having to
// track SIP-level dialog state themselves.
var (
	DialogsClientCache = sync.Map{}
	DialogsServerCache = sync.Map{}
)

// DialogCacheCounts reports how many client/server dialogs are currently
// cached, used to assert that Hangup/BYE processing actually removes a
// dialog from the cache instead of leaking it.
func DialogCacheCounts() (clients, servers int) {
	DialogsClientCache.Range(func(_, _ any) bool {
		clients++
		return true
	})
	DialogsServerCache.Range(func(_, _ any) bool {
		servers++
		return true
	})
	return clients, servers
}

func MatchDialogClient(req *sip.Request) (*DialogClientSession, error) {
	id, err := sip.UACReadRequestDialogID(req)
	if err != nil {
		return nil, errors.Join(err, sipgo.ErrDialogOutsideDialog)
	}

	val, ok := DialogsClientCache.Load(id)
	if !ok || val == nil {
		return nil, sipgo.ErrDialogDoesNotExists
	}

	d := val.(*DialogClientSession)
	return d, nil
}

func MatchDialogServer(req *sip.Request) (*DialogServerSession, error) {
	id, err := sip.UASReadRequestDialogID(req)
	if err != nil {
		return nil, errors.Join(err, sipgo.ErrDialogOutsideDialog)
	}

	val, ok := DialogsServerCache.Load(id)
	if !ok || val == nil {
		return nil, sipgo.ErrDialogDoesNotExists
	}

	d := val.(*DialogServerSession)
	return d, nil
}
