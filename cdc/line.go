// Package cdc derives a logical connection state from serial control
// line transitions.
//
// Firmware flashing tools signal a bootloader-entry request by toggling
// the DTR and RTS lines in a characteristic sequence. The machine here
// recognizes that sequence while still reporting ordinary terminal
// connect/disconnect to the application.
package cdc

import (
	"fmt"

	"github.com/ardnew/softdisk/pkg"
)

// LineState is the logical connection state derived from control-line
// transitions.
type LineState int

// Line states. The MaybeEnterDownload and MaybeConnected states are
// intermediate steps of the flashing tool's DTR/RTS handshake.
const (
	Disconnected          LineState = iota // No terminal attached
	Connected                              // Terminal attached
	MaybeEnterDownloadDTR                  // Saw DTR=0,RTS=1 from an attached state
	MaybeConnected                         // Saw DTR=1,RTS=1 mid-handshake
	MaybeEnterDownloadRTS                  // Saw DTR=1,RTS=0 mid-handshake
	RequestDownload                        // Handshake complete, restart to bootloader
	RequestDownloadDFU                     // Application-forced DFU request
)

// String returns a printable state name.
func (s LineState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case MaybeEnterDownloadDTR:
		return "maybe-download-dtr"
	case MaybeConnected:
		return "maybe-connected"
	case MaybeEnterDownloadRTS:
		return "maybe-download-rts"
	case RequestDownload:
		return "request-download"
	case RequestDownloadDFU:
		return "request-download-dfu"
	default:
		return fmt.Sprintf("linestate(%d)", int(s))
	}
}

// DownloadRequested reports whether s carries a pending bootloader
// restart request.
func (s LineState) DownloadRequested() bool {
	return s == RequestDownload || s == RequestDownloadDFU
}

// Config holds the line-state machine collaborators.
type Config struct {
	// Changed is called after every state transition with the new state
	// and whether a download was requested. Returning true authorizes an
	// immediate restart when a download was requested; returning false
	// defers the restart to the application. Nil behaves as always-true.
	Changed func(state LineState, downloadRequested bool) bool

	// Restart performs the system reset. Required when a download
	// request is ever authorized.
	Restart func()
}

// Machine tracks the line state across control-signal edges.
// It is driven from the single USB stack task and needs no locking.
type Machine struct {
	cfg   Config
	state LineState
}

// New creates a line-state machine in the Disconnected state.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: Disconnected}
}

// State returns the current line state.
func (m *Machine) State() LineState { return m.state }

// SetControlLineState consumes one DTR/RTS edge and advances the state
// machine. The flashing tool's handshake is the exact sequence
// (0,1) (1,1) (1,0) (0,0); any deviation collapses back to the plain
// connected or disconnected state, discarding partial progress.
func (m *Machine) SetControlLineState(dtr, rts bool) {
	prev := m.state

	switch {
	case !dtr && rts:
		if prev == Disconnected || prev == Connected {
			m.state = MaybeEnterDownloadDTR
		} else {
			m.state = Disconnected
		}
	case dtr && rts:
		if prev == MaybeEnterDownloadDTR {
			m.state = MaybeConnected
		} else {
			m.state = Connected
		}
	case dtr && !rts:
		if prev == MaybeConnected {
			m.state = MaybeEnterDownloadRTS
		} else {
			m.state = Disconnected
		}
	default: // !dtr && !rts
		if prev == MaybeEnterDownloadRTS {
			m.state = RequestDownload
		} else {
			m.state = Disconnected
		}
	}

	pkg.LogDebug(pkg.ComponentCDC, "control line state",
		"dtr", dtr, "rts", rts,
		"from", prev.String(), "to", m.state.String())

	m.notify()
}

// RequestDFU forces a one-shot DFU request independent of control-line
// transitions.
func (m *Machine) RequestDFU() {
	m.state = RequestDownloadDFU
	m.notify()
}

// notify reports the new state and performs the restart when one is
// both requested and authorized. A request the application defers is
// discarded by any later transition away from the request states.
func (m *Machine) notify() {
	requested := m.state.DownloadRequested()

	authorized := true
	if m.cfg.Changed != nil {
		authorized = m.cfg.Changed(m.state, requested)
	}

	if requested && authorized {
		pkg.LogInfo(pkg.ComponentCDC, "restarting into download mode",
			"state", m.state.String())
		if m.cfg.Restart != nil {
			m.cfg.Restart()
		}
	}
}
