// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package phone

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vocalwire/gophone/phoneerr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Bridger interface {
	AddDialogSession(d DialogSession) error
}

const (
	bridgeKindProxy     = 1
	bridgeKindRecording = 2
)

// Bridge B2BUA-joins two SIP dialogs by proxying RTP between them. This is
// distinct from spec.md's Audio Bridge (C3, audio/bridge.go), which joins a
// single dialog's media to the local sound device; Bridge exists for the
// PBX-style two-party-call scenario cmd/gopbx demonstrates, a call shape
// the softphone's own single-active-call flow (call.go) never builds.
type Bridge struct {
	// Originator is dialog session that created bridge
	Originator DialogSession
	dialogs    []DialogSession

	log zerolog.Logger
	// minDialogs is just helper flag when to start proxy
	minDialogsNumber int
}

func NewBridge() Bridge {
	return Bridge{
		log:              log.Logger,
		minDialogsNumber: 2, // For now only p2p bridge
	}
}

func (b *Bridge) GetDialogs() []DialogSession {
	return b.dialogs
}

func (b *Bridge) AddDialogSession(d DialogSession) error {
	b.dialogs = append(b.dialogs, d)
	if len(b.dialogs) == 1 {
		b.Originator = d
	}

	if len(b.dialogs) < b.minDialogsNumber {
		return nil
	}

	if len(b.dialogs) > 2 {
		return phoneerr.New("AddDialogSession", phoneerr.ProtocolInternal, fmt.Errorf("currently bridge only supports 2 parties"))
	}
	// Check are both answered
	for _, d := range b.dialogs {
		// TODO remove this double locking. Read once
		if d.Media().AudioReader() == nil || d.Media().AudioWriter() == nil {
			return phoneerr.New("AddDialogSession", phoneerr.MediaSetupFailed, fmt.Errorf("dialog session not answered %q", d.Id()))
		}
	}

	go func() {
		if err := b.proxyMedia(); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			b.log.Error().Err(err).Msg("Proxy media stopped")
		}
	}()
	return nil
}

func (b *Bridge) proxyMedia() error {
	b.log.Info().Msg("Starting proxy media")
	defer func(start time.Time) {
		b.log.Info().Dur("dur", time.Since(start)).Msg("Proxy media setup")
	}(time.Now())

	dlg1 := b.dialogs[0]
	dlg2 := b.dialogs[1]

	// Lets for now simplify proxy and later optimize
	errCh := make(chan error, 2)
	// TODO:
	// For now bridge must not have transcoding
	{
		r := dlg1.Media().AudioReader()
		w := dlg2.Media().AudioWriter()
		buf := playBufPool.Get()
		defer playBufPool.Put(buf)

		go proxyMediaBackground(b.log, r, w, buf.([]byte), errCh)
	}

	// Second
	{
		r := dlg2.Media().AudioReader()
		w := dlg1.Media().AudioWriter()
		buf := playBufPool.Get()
		defer playBufPool.Put(buf)

		go proxyMediaBackground(b.log, r, w, buf.([]byte), errCh)
	}

	var err error
	// Wait for all to finish
	for i := 0; i < len(b.dialogs); i++ {
		err = errors.Join(err, <-errCh)
	}
	return err
}

func proxyMediaBackground(log zerolog.Logger, reader io.Reader, writer io.Writer, buf []byte, ch chan error) {
	written, err := copyWithBuf(reader, writer, buf)
	log.Debug().Int64("bytes", written).Msg("Bridge proxy stream finished")
	ch <- err
}
