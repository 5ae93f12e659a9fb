package update

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ardnew/softdisk/flash"
	"github.com/ardnew/softdisk/pkg"
)

func testBank(t *testing.T) *flash.MemBank {
	t.Helper()
	b, err := flash.NewMemBank([]flash.PartitionSpec{
		{Name: "ota_0", Type: flash.TypeApp, Size: 64 * 1024},
		{Name: "ota_1", Type: flash.TypeApp, Size: 64 * 1024},
	}, "ota_0")
	if err != nil {
		t.Fatalf("NewMemBank() error = %v", err)
	}
	return b
}

// manualTimers is a timer factory that never fires on its own; tests
// invoke the captured callbacks to simulate expiry.
type manualTimers struct {
	callbacks []func()
	fail      error
}

func (m *manualTimers) factory(d time.Duration, f func()) (*time.Timer, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.callbacks = append(m.callbacks, f)
	return time.AfterFunc(time.Hour, func() {}), nil
}

// fire invokes the most recently armed callback.
func (m *manualTimers) fire(t *testing.T) {
	t.Helper()
	if len(m.callbacks) == 0 {
		t.Fatal("no timer armed")
	}
	m.callbacks[len(m.callbacks)-1]()
}

func TestNew_RequiresBank(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, pkg.ErrConfig) {
		t.Errorf("New() error = %v, want ErrConfig", err)
	}
}

func TestMachine_IgnoresPlainWrites(t *testing.T) {
	timers := &manualTimers{}
	m, err := New(Config{
		Bank:     testBank(t),
		Chip:     ChipESP32S3,
		NewTimer: timers.factory,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	payload := []byte("just an ordinary document being copied to the disk")
	n, err := m.HandleWrite(100, 0, payload)
	if err != nil || n != len(payload) {
		t.Fatalf("HandleWrite() = %d, %v; want %d, nil", n, err, len(payload))
	}

	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
	if got := m.Received(); got != 0 {
		t.Errorf("Received() = %d, want 0", got)
	}
	if len(timers.callbacks) != 0 {
		t.Errorf("timers armed = %d, want 0", len(timers.callbacks))
	}
}

func TestMachine_WrongChipIgnored(t *testing.T) {
	bank := testBank(t)
	timers := &manualTimers{}
	started := 0
	m, err := New(Config{
		Bank:     bank,
		Chip:     ChipESP32S3,
		NewTimer: timers.factory,
		Hooks: Hooks{
			Start: func(*ImageInfo) bool { started++; return true },
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img := testImage(t, ChipESP32C3, 4096)
	n, err := m.HandleWrite(100, 0, img[:512])
	if err != nil || n != 512 {
		t.Fatalf("HandleWrite() = %d, %v; want 512, nil", n, err)
	}

	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
	if got := m.Received(); got != 0 {
		t.Errorf("Received() = %d, want 0", got)
	}
	if started != 0 {
		t.Errorf("start hook called %d times, want 0", started)
	}
	if got := bank.Bootable(); got != nil {
		t.Errorf("Bootable() = %v, want nil", got)
	}
}

func TestMachine_StartHookRejects(t *testing.T) {
	timers := &manualTimers{}
	m, err := New(Config{
		Bank:     testBank(t),
		Chip:     ChipESP32S3,
		NewTimer: timers.factory,
		Hooks: Hooks{
			Start: func(*ImageInfo) bool { return false },
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img := testImage(t, ChipESP32S3, 4096)
	n, err := m.HandleWrite(100, 0, img[:512])
	if err != nil || n != 512 {
		t.Fatalf("HandleWrite() = %d, %v; want 512, nil", n, err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
	if got := m.Received(); got != 0 {
		t.Errorf("Received() = %d, want 0", got)
	}
}

func TestMachine_CommitFlow(t *testing.T) {
	bank := testBank(t)
	timers := &manualTimers{}

	var (
		endCalls    int
		endReceived uint32
		endErr      error
	)
	m, err := New(Config{
		Bank:     bank,
		Chip:     ChipESP32S3,
		NewTimer: timers.factory,
		Hooks: Hooks{
			End: func(received uint32, err error) {
				endCalls++
				endReceived = received
				endErr = err
			},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Stream the image the way a mass-storage host would: one 512-byte
	// write at a time.
	img := testImage(t, ChipESP32S3, 8192)
	writes := 0
	for off := 0; off < len(img); off += 512 {
		n, err := m.HandleWrite(uint32(100+off/512), 0, img[off:off+512])
		if err != nil || n != 512 {
			t.Fatalf("HandleWrite(chunk %d) = %d, %v; want 512, nil", writes, n, err)
		}
		writes++
	}

	if got := m.State(); got != StateStreaming {
		t.Fatalf("State() = %v mid-stream, want streaming", got)
	}
	if len(timers.callbacks) != writes {
		t.Errorf("timers armed = %d, want one per write (%d)", len(timers.callbacks), writes)
	}

	// Host goes quiet; the idle timer finalizes the transfer.
	timers.fire(t)

	if endCalls != 1 {
		t.Fatalf("end hook called %d times, want 1", endCalls)
	}
	if endErr != nil {
		t.Errorf("end hook error = %v, want nil", endErr)
	}
	if endReceived != uint32(len(img)) {
		t.Errorf("end hook received = %d, want %d", endReceived, len(img))
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v after commit, want idle", got)
	}

	boot := bank.Bootable()
	if boot == nil || boot.Name() != "ota_1" {
		t.Fatalf("Bootable() = %v, want ota_1", boot)
	}

	got := make([]byte, len(img))
	if _, err := boot.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Errorf("flashed content differs from streamed image")
	}
}

func TestMachine_CommitWithRealTimer(t *testing.T) {
	bank := testBank(t)

	done := make(chan error, 1)
	m, err := New(Config{
		Bank:        bank,
		Chip:        ChipESP32S3,
		IdleTimeout: 25 * time.Millisecond,
		Hooks: Hooks{
			End: func(received uint32, err error) { done <- err },
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img := testImage(t, ChipESP32S3, 2048)
	for off := 0; off < len(img); off += 512 {
		if _, err := m.HandleWrite(uint32(off/512), 0, img[off:off+512]); err != nil {
			t.Fatalf("HandleWrite() error = %v", err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("end hook error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle timer never finalized the transfer")
	}

	if got := bank.Bootable(); got == nil || got.Name() != "ota_1" {
		t.Errorf("Bootable() = %v, want ota_1", got)
	}
}

func TestMachine_NoUpdatePartition(t *testing.T) {
	// A bank with a single application partition has nowhere to stream.
	bank, err := flash.NewMemBank([]flash.PartitionSpec{
		{Name: "factory", Type: flash.TypeApp, Size: 64 * 1024},
	}, "factory")
	if err != nil {
		t.Fatalf("NewMemBank() error = %v", err)
	}

	timers := &manualTimers{}
	m, err := New(Config{Bank: bank, Chip: ChipESP32S3, NewTimer: timers.factory})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img := testImage(t, ChipESP32S3, 4096)
	if _, err := m.HandleWrite(100, 0, img[:512]); !errors.Is(err, pkg.ErrNoUpdatePartition) {
		t.Errorf("HandleWrite() error = %v, want ErrNoUpdatePartition", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

func TestMachine_FlashWriteFailureAborts(t *testing.T) {
	timers := &manualTimers{}

	var endCalls int
	var endErr error
	m, err := New(Config{
		Bank:     &failingBank{Bank: testBank(t)},
		Chip:     ChipESP32S3,
		NewTimer: timers.factory,
		Hooks: Hooks{
			End: func(received uint32, err error) { endCalls++; endErr = err },
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img := testImage(t, ChipESP32S3, 4096)
	if _, err := m.HandleWrite(100, 0, img[:512]); !errors.Is(err, pkg.ErrIO) {
		t.Errorf("HandleWrite() error = %v, want ErrIO", err)
	}

	if endCalls != 1 {
		t.Errorf("end hook called %d times, want 1", endCalls)
	}
	if !errors.Is(endErr, pkg.ErrIO) {
		t.Errorf("end hook error = %v, want ErrIO", endErr)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

func TestMachine_TimerFailureAborts(t *testing.T) {
	timers := &manualTimers{fail: errors.New("no timers left")}

	var endCalls int
	var endErr error
	m, err := New(Config{
		Bank:     testBank(t),
		Chip:     ChipESP32S3,
		NewTimer: timers.factory,
		Hooks: Hooks{
			End: func(received uint32, err error) { endCalls++; endErr = err },
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img := testImage(t, ChipESP32S3, 4096)
	if _, err := m.HandleWrite(100, 0, img[:512]); !errors.Is(err, pkg.ErrTimer) {
		t.Errorf("HandleWrite() error = %v, want ErrTimer", err)
	}

	if endCalls != 1 {
		t.Errorf("end hook called %d times, want 1", endCalls)
	}
	if !errors.Is(endErr, pkg.ErrTimer) {
		t.Errorf("end hook error = %v, want ErrTimer", endErr)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateDetecting, "detecting"},
		{StateStreaming, "streaming"},
		{StateCommitting, "committing"},
		{StateAborting, "aborting"},
		{State(99), "state(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// failingBank wraps a Bank so every update session fails on write.
type failingBank struct {
	flash.Bank
}

func (b *failingBank) Begin(p flash.Partition, size uint32) (flash.Update, error) {
	return &failingUpdate{}, nil
}

type failingUpdate struct{}

func (u *failingUpdate) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("flash sector damaged: %w", pkg.ErrIO)
}

func (u *failingUpdate) End(commit bool) error { return nil }
