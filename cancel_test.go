// SPDX-License-Identifier: BSD-2-Clause

package phone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelTreeCallCancelOnlyAffectsItsBranch(t *testing.T) {
	tree := NewCancelTree()

	callA := tree.NewCallContext("dialog-a")
	callB := tree.NewCallContext("dialog-b")
	reg := tree.NewRegistrationContext()

	tree.CancelCall("dialog-a")

	select {
	case <-callA.Done():
	default:
		t.Fatal("dialog-a context should be cancelled")
	}

	select {
	case <-callB.Done():
		t.Fatal("dialog-b context should not be affected by dialog-a's cancel")
	default:
	}

	select {
	case <-reg.Done():
		t.Fatal("registration context should not be affected by a call cancel")
	default:
	}
}

func TestCancelTreeCancelCallForgetsTheDialog(t *testing.T) {
	tree := NewCancelTree()
	tree.NewCallContext("dialog-a")

	tree.CancelCall("dialog-a")
	// Cancelling an id no longer tracked must not panic.
	tree.CancelCall("dialog-a")
}

func TestCancelTreeStopRegistrationOnlyAffectsRegistration(t *testing.T) {
	tree := NewCancelTree()

	call := tree.NewCallContext("dialog-a")
	reg := tree.NewRegistrationContext()

	tree.StopRegistration()

	select {
	case <-reg.Done():
	default:
		t.Fatal("registration context should be cancelled")
	}

	select {
	case <-call.Done():
		t.Fatal("call context should not be affected by StopRegistration")
	default:
	}
}

func TestCancelTreeNewRegistrationContextReplacesPrevious(t *testing.T) {
	tree := NewCancelTree()

	first := tree.NewRegistrationContext()
	second := tree.NewRegistrationContext()
	require.NotEqual(t, first, second)

	tree.StopRegistration()

	select {
	case <-second.Done():
	default:
		t.Fatal("current registration context should be cancelled")
	}

	select {
	case <-first.Done():
		t.Fatal("StopRegistration must not reach back to a replaced registration context")
	default:
	}
}

func TestCancelTreeShutdownCascadesToEveryBranch(t *testing.T) {
	tree := NewCancelTree()

	call := tree.NewCallContext("dialog-a")
	reg := tree.NewRegistrationContext()
	root := tree.Root()

	start := time.Now()
	tree.Shutdown()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, UnregisterGrace)

	for _, ctx := range []struct {
		name string
		ch   <-chan struct{}
	}{
		{"root", root.Done()},
		{"call", call.Done()},
		{"registration", reg.Done()},
	} {
		select {
		case <-ctx.ch:
		default:
			t.Fatalf("%s context should be cancelled after Shutdown", ctx.name)
		}
	}
}
