// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package phone

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialogCacheCounts(t *testing.T) {
	DialogsClientCache = sync.Map{}
	DialogsServerCache = sync.Map{}

	DialogsServerCache.Store("dialog-a", &DialogServerSession{})
	DialogsServerCache.Store("dialog-b", &DialogServerSession{})
	DialogsClientCache.Store("dialog-c", &DialogClientSession{})

	clients, servers := DialogCacheCounts()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 2, servers)

	DialogsServerCache.Delete("dialog-a")
	clients, servers = DialogCacheCounts()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 1, servers)
}
