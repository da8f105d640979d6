// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

// Package sipflow records raw SIP requests/responses to an append-only log
// file for troubleshooting, with logging toggleable at runtime and the log
// directory changeable without restarting the process.
package sipflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
)

const logFileName = "sip-flow.log"

const separator = "================================================================================"

// Inspector is a read-only view of a Flow's SIP messages, used by send/receive
// hooks that should not be able to reconfigure logging.
type Inspector interface {
	RecordRequest(direction string, req *sip.Request)
	RecordResponse(direction string, res *sip.Response)
}

// Flow is a SIP message flow logger. It is safe for concurrent use. Disabling
// it closes the underlying file so disabled operation costs nothing beyond a
// mutex lock and a bool check.
type Flow struct {
	mu      sync.Mutex
	file    *os.File
	enabled bool
	dir     string
}

// New creates a Flow logging into dir (created if needed). If dir is empty,
// os.TempDir()/gophone-sip-logs is used. The log file is only opened when
// enabled is true.
func New(dir string, enabled bool) *Flow {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "gophone-sip-logs")
	}

	f := &Flow{dir: dir}
	if enabled {
		f.file = openLogFile(dir)
		f.enabled = f.file != nil
	}
	return f
}

func openLogFile(dir string) *os.File {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}

	file, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return file
}

// Enable turns logging on, (re)opening the log file in the current
// directory. A no-op if already enabled.
func (f *Flow) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.enabled {
		return nil
	}

	file := openLogFile(f.dir)
	if file == nil {
		return fmt.Errorf("sipflow: failed to open log file in %s", f.dir)
	}

	f.file = file
	f.enabled = true
	return nil
}

// Disable turns logging off and closes the log file. A no-op if already
// disabled.
func (f *Flow) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.enabled {
		return
	}

	f.enabled = false
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// Enabled reports whether logging is currently on.
func (f *Flow) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// Dir returns the configured log directory.
func (f *Flow) Dir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dir
}

// Config is the snapshot returned by the get_sip_flow_config command surface.
type Config struct {
	Enabled bool
	Dir     string
}

// Config returns the current enabled/dir snapshot, the Go realization of the
// get_sip_flow_config command.
func (f *Flow) Config() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Config{Enabled: f.enabled, Dir: f.dir}
}

// SetDir changes the log directory. If logging is currently enabled, the log
// file is atomically reopened in the new directory: on failure the Flow
// keeps writing to the old file and SetDir returns an error.
func (f *Flow) SetDir(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.enabled {
		f.dir = dir
		return nil
	}

	newFile := openLogFile(dir)
	if newFile == nil {
		return fmt.Errorf("sipflow: failed to open log file in %s", dir)
	}

	old := f.file
	f.file = newFile
	f.dir = dir
	if old != nil {
		old.Close()
	}
	return nil
}

// RecordRequest logs req if enabled. direction is typically "INCOMING" or
// "OUTGOING".
func (f *Flow) RecordRequest(direction string, req *sip.Request) {
	f.record(direction, req.CallID().Value(), req.String())
}

// RecordResponse logs res if enabled.
func (f *Flow) RecordResponse(direction string, res *sip.Response) {
	callID := ""
	if id := res.CallID(); id != nil {
		callID = id.Value()
	}
	f.record(direction, callID, res.String())
}

func (f *Flow) record(direction, callID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.enabled || f.file == nil {
		return
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n")
	fmt.Fprintf(&b, "[%s] %s (Call-ID: %s)\n", time.Now().Format("2006-01-02 15:04:05.000"), direction, callID)
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n")

	f.file.WriteString(b.String())
	f.file.Sync()
}
