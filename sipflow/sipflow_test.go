// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package sipflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, callID string) *sip.Request {
	t.Helper()
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "alice", Host: "example.com"})
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	return req
}

func TestFlowDisabledByDefaultDoesNotCreateFile(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, false)
	require.False(t, f.Enabled())

	f.RecordRequest("OUTGOING", newTestRequest(t, "abc123"))

	_, err := os.Stat(filepath.Join(dir, logFileName))
	require.True(t, os.IsNotExist(err))
}

func TestFlowRecordsRequestWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, true)
	require.True(t, f.Enabled())

	f.RecordRequest("OUTGOING", newTestRequest(t, "call-1"))

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)

	content := string(data)
	require.Contains(t, content, separator)
	require.Contains(t, content, "OUTGOING")
	require.Contains(t, content, "Call-ID: call-1")
	require.Contains(t, content, "INVITE")
}

func TestFlowDisableStopsLogging(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, true)
	f.Disable()
	require.False(t, f.Enabled())

	f.RecordRequest("OUTGOING", newTestRequest(t, "call-2"))

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	require.False(t, strings.Contains(string(data), "call-2"))
}

func TestFlowEnableReopensFile(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, false)

	require.NoError(t, f.Enable())
	f.RecordRequest("INCOMING", newTestRequest(t, "call-3"))

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "call-3")
}

func TestFlowSetDirHotReopensWhileEnabled(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	f := New(dir1, true)
	f.RecordRequest("OUTGOING", newTestRequest(t, "call-4"))

	require.NoError(t, f.SetDir(dir2))
	f.RecordRequest("OUTGOING", newTestRequest(t, "call-5"))

	require.Equal(t, dir2, f.Dir())

	data1, err := os.ReadFile(filepath.Join(dir1, logFileName))
	require.NoError(t, err)
	require.Contains(t, string(data1), "call-4")
	require.NotContains(t, string(data1), "call-5")

	data2, err := os.ReadFile(filepath.Join(dir2, logFileName))
	require.NoError(t, err)
	require.Contains(t, string(data2), "call-5")
}

func TestFlowConfigSnapshot(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, true)

	cfg := f.Config()
	require.True(t, cfg.Enabled)
	require.Equal(t, dir, cfg.Dir)
}
