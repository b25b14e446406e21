//go:build !darwin && !windows

package tray

import "github.com/pcsc-tools/cardid-agent/internal/api"

// TrayApp is a stand-in where the agent runs headless.
type TrayApp struct {
	onQuit func()
}

// New creates a new TrayApp instance
func New(serverAddr string, agent api.Controller, onQuit func()) *TrayApp {
	return &TrayApp{onQuit: onQuit}
}

// RunWithServer runs the server on the calling goroutine.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		serverStart()
	}
	if t.onQuit != nil {
		t.onQuit()
	}
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return false
}
