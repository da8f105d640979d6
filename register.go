package phone

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// RegisterTransaction builds the Registration Manager state for recipient
// without sending anything, so callers can inspect/drive it (Register,
// Unregister, Qualify, QualifyLoop) themselves instead of going through the
// blocking register-then-qualify-forever Register call below.
func (dg *Phone) RegisterTransaction(ctx context.Context, recipient sip.Uri, opts RegisterOptions) (*RegisterTransaction, error) {
	// Make our client reuse address
	transport := recipient.Headers["transport"]
	if transport == "" {
		transport = "udp"
	}

	contactHDR := dg.getContactHDR(transport)

	client, err := sipgo.NewClient(dg.ua,
		// sipgo.WithClientHostname(contactHDR.Address.Host),
		// sipgo.WithClientPort(lport),
		sipgo.WithClientNAT(), // add rport support
	)
	if err != nil {
		return nil, err
	}

	return NewRegisterTransaction(client, recipient, contactHDR, slog.Default(), opts), nil
}

func (dg *Phone) Register(ctx context.Context, recipient sip.Uri, opts RegisterOptions) error {
	t, err := dg.RegisterTransaction(ctx, recipient, opts)
	if err != nil {
		return err
	}
	defer t.client.Close()

	regLog := dg.log.With().Str("caller", "Register").Logger()

	if opts.UnregisterAll {
		// Unregister rewrites its request's Contact and Expires headers, so
		// the wildcard unregister runs on a transaction of its own.
		ut, err := dg.RegisterTransaction(ctx, recipient, opts)
		if err != nil {
			return err
		}
		err = ut.Unregister(ctx)
		ut.client.Close()
		if err != nil {
			return fmt.Errorf("unregister-all before register failed: %w", err)
		}
	}

	if err := t.Register(ctx); err != nil {
		return err
	}

	// Unregister
	defer func() {
		unregCtx, cancel := context.WithTimeout(context.Background(), UnregisterGrace)
		defer cancel()

		if err := t.Unregister(unregCtx); err != nil {
			regLog.Error().Err(err).Msg("Fail to unregister")
		}
	}()

	return t.QualifyLoop(ctx)
}
