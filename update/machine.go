package update

import (
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softdisk/disk"
	"github.com/ardnew/softdisk/flash"
	"github.com/ardnew/softdisk/pkg"
)

// Verify Machine satisfies the disk write-sink contract.
var _ disk.Sink = (*Machine)(nil)

// DefaultIdleTimeout is how long the machine waits after the last block
// write before treating the transfer as complete.
const DefaultIdleTimeout = 1000 * time.Millisecond

// State identifies the current phase of the update machine.
type State int

// Machine states.
const (
	StateIdle       State = iota // No transfer in progress
	StateDetecting               // Inspecting a candidate first block
	StateStreaming               // Update session open, blocks flowing
	StateCommitting              // Idle timer fired, finalizing
	StateAborting                // Session being torn down after an error
)

// String returns a printable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateStreaming:
		return "streaming"
	case StateCommitting:
		return "committing"
	case StateAborting:
		return "aborting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Hooks are application callbacks invoked at transfer boundaries.
// Both are optional. They are called from the block-write path or the
// idle-timer goroutine and must not call back into the Machine.
type Hooks struct {
	// Start is called once when an image targeting the configured chip
	// is recognized, before any flash is erased. Returning false rejects
	// the transfer; subsequent blocks of the same copy are ignored.
	Start func(info *ImageInfo) bool

	// End is called exactly once per update session, after the session
	// is finalized. received is the total byte count streamed to flash.
	// err is nil on a committed update and non-nil when the session was
	// aborted or the commit failed.
	End func(received uint32, err error)
}

// TimerFactory creates a one-shot timer that calls f after d.
// The default factory wraps time.AfterFunc.
type TimerFactory func(d time.Duration, f func()) (*time.Timer, error)

// Config holds the update machine configuration.
type Config struct {
	Bank  flash.Bank // Flash partition access (required)
	Chip  ChipID     // Chip this device accepts images for
	Hooks Hooks      // Optional transfer callbacks

	// IdleTimeout is the write-gap duration that ends a transfer.
	// Zero selects DefaultIdleTimeout.
	IdleTimeout time.Duration

	// NewTimer overrides timer construction, mainly for tests.
	NewTimer TimerFactory
}

// Machine recognizes firmware images in a stream of block writes and
// drives flash update sessions. It implements the disk write sink
// contract: plug it into a disk with SetUpdateSink.
type Machine struct {
	cfg Config

	mutex    sync.Mutex
	state    State
	target   flash.Partition
	handle   flash.Update
	received uint32
	timer    *time.Timer
}

// New creates an update machine. cfg.Bank must be non-nil.
func New(cfg Config) (*Machine, error) {
	if cfg.Bank == nil {
		return nil, fmt.Errorf("update machine requires a flash bank: %w",
			pkg.ErrConfig)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.NewTimer == nil {
		cfg.NewTimer = func(d time.Duration, f func()) (*time.Timer, error) {
			return time.AfterFunc(d, f), nil
		}
	}
	return &Machine{cfg: cfg, state: StateIdle}, nil
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// Received returns the byte count streamed so far in the current
// session, or of the last session if none is active.
func (m *Machine) Received() uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.received
}

// Target returns the partition receiving the current session, or nil.
func (m *Machine) Target() flash.Partition {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.target
}

// HandleWrite consumes one block-write payload. In the idle state it
// inspects the payload for a firmware image header; while streaming it
// forwards the payload to the open flash session and re-arms the idle
// timer. Payloads that do not belong to an update are accepted and
// discarded so the host never sees a write error for ordinary file
// traffic.
func (m *Machine) HandleWrite(lba, offset uint32, data []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch m.state {
	case StateIdle:
		return m.recognizeLocked(data)
	case StateStreaming:
		return m.streamLocked(data)
	default:
		// A finalization or teardown is in flight; swallow the write.
		pkg.LogDebug(pkg.ComponentUpdate, "write ignored",
			"state", m.state.String(), "lba", lba, "bytes", len(data))
		return len(data), nil
	}
}

// recognizeLocked inspects an idle-state payload for an image header
// and, on a match for the configured chip, opens the update session and
// streams the payload as the first chunk.
func (m *Machine) recognizeLocked(data []byte) (int, error) {
	m.state = StateDetecting

	info, err := ParseImage(data)
	if err != nil {
		// Ordinary file content, not firmware.
		m.state = StateIdle
		return len(data), nil
	}

	if info.Header.ChipID != m.cfg.Chip {
		pkg.LogWarn(pkg.ComponentUpdate, "image for wrong chip ignored",
			"want", m.cfg.Chip.String(), "got", info.Header.ChipID.String())
		m.state = StateIdle
		return len(data), nil
	}

	if m.cfg.Hooks.Start != nil && !m.cfg.Hooks.Start(info) {
		pkg.LogInfo(pkg.ComponentUpdate, "update rejected by application",
			"project", info.Desc.ProjectName, "version", info.Desc.Version)
		m.state = StateIdle
		return len(data), nil
	}

	target := m.cfg.Bank.NextUpdate()
	if target == nil {
		m.state = StateIdle
		return 0, fmt.Errorf("no partition available for update: %w",
			pkg.ErrNoUpdatePartition)
	}

	handle, err := m.cfg.Bank.Begin(target, target.Size())
	if err != nil {
		m.state = StateIdle
		return 0, fmt.Errorf("open update session on %q: %w",
			target.Name(), err)
	}

	pkg.LogInfo(pkg.ComponentUpdate, "firmware transfer started",
		"partition", target.Name(),
		"project", info.Desc.ProjectName,
		"version", info.Desc.Version)

	m.target = target
	m.handle = handle
	m.received = 0
	m.state = StateStreaming

	return m.streamLocked(data)
}

// streamLocked forwards one payload to the open session and re-arms the
// idle timer. A flash or timer failure aborts the session.
func (m *Machine) streamLocked(data []byte) (int, error) {
	n, err := m.handle.Write(data)
	m.received += uint32(n)
	if err != nil {
		werr := fmt.Errorf("stream to %q: %w", m.target.Name(), err)
		m.abortLocked(werr)
		return n, werr
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	timer, err := m.cfg.NewTimer(m.cfg.IdleTimeout, m.idleExpired)
	if err != nil {
		terr := fmt.Errorf("arm idle timer: %w: %w", err, pkg.ErrTimer)
		m.abortLocked(terr)
		return n, terr
	}
	m.timer = timer

	return n, nil
}

// abortLocked tears down the active session and reports cause through
// the End hook.
func (m *Machine) abortLocked(cause error) {
	m.state = StateAborting
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if err := m.handle.End(false); err != nil {
		pkg.LogError(pkg.ComponentUpdate, "abort cleanup failed",
			"error", err.Error())
	}
	pkg.LogError(pkg.ComponentUpdate, "firmware transfer aborted",
		"partition", m.target.Name(),
		"received", m.received,
		"error", cause.Error())
	if m.cfg.Hooks.End != nil {
		m.cfg.Hooks.End(m.received, cause)
	}
	m.resetLocked()
}

// idleExpired runs when the idle timer fires: the host has stopped
// writing, so the transfer is complete. The session is committed and
// the target partition marked bootable.
func (m *Machine) idleExpired() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != StateStreaming {
		// A concurrent write raced the timer and already re-armed or
		// tore down the session.
		return
	}
	m.state = StateCommitting
	m.timer = nil

	err := m.handle.End(true)
	if err != nil {
		err = fmt.Errorf("commit to %q: %w", m.target.Name(), err)
	} else if err = m.cfg.Bank.SetBootable(m.target); err != nil {
		err = fmt.Errorf("mark %q bootable: %w", m.target.Name(), err)
	}

	if err != nil {
		pkg.LogError(pkg.ComponentUpdate, "firmware update failed",
			"partition", m.target.Name(),
			"received", m.received,
			"error", err.Error())
	} else {
		pkg.LogInfo(pkg.ComponentUpdate, "firmware update committed",
			"partition", m.target.Name(),
			"received", m.received)
	}

	if m.cfg.Hooks.End != nil {
		m.cfg.Hooks.End(m.received, err)
	}
	m.resetLocked()
}

// resetLocked returns the machine to the idle state. The received
// counter survives for inspection until the next session starts.
func (m *Machine) resetLocked() {
	m.state = StateIdle
	m.target = nil
	m.handle = nil
	m.timer = nil
}
