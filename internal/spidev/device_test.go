package spidev

import (
	"errors"
	"syscall"
	"testing"
	"unsafe"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
)

type fakeSys struct {
	openErr  error
	failReq  uintptr
	failErr  error
	reqs     []uintptr
	lastTr   iocTransfer
	opened   int
	closed   []int
	nextFd   int
	closeErr error
}

func (f *fakeSys) open(path string) (int, error) {
	if f.openErr != nil {
		return -1, f.openErr
	}
	f.opened++
	f.nextFd++
	return 10 + f.nextFd, nil
}

func (f *fakeSys) ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	f.reqs = append(f.reqs, req)
	if req == spiIocMessage1 {
		f.lastTr = *(*iocTransfer)(arg)
	}
	if f.failReq != 0 && req == f.failReq {
		return f.failErr
	}
	return nil
}

func (f *fakeSys) close(fd int) error {
	f.closed = append(f.closed, fd)
	return f.closeErr
}

func newTestDevice(t *testing.T, sys *fakeSys) *Device {
	t.Helper()
	d, err := NewDevice("/dev/spidev-test", DefaultPortOptions(), monitoring.Verbosity{Level: monitoring.LevelNone})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	d.sys = sys
	return d
}

func TestIocTransferLayout(t *testing.T) {
	if size := unsafe.Sizeof(iocTransfer{}); size != 32 {
		t.Fatalf("spi_ioc_transfer size = %d, want 32", size)
	}
}

func TestDevice_OpenConfiguresBus(t *testing.T) {
	sys := &fakeSys{}
	d := newTestDevice(t, sys)

	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := []uintptr{
		spiIocWrMode, spiIocRdMode,
		spiIocWrBitsPerWord, spiIocRdBitsPerWord,
		spiIocWrMaxSpeedHz, spiIocRdMaxSpeedHz,
	}
	if len(sys.reqs) != len(want) {
		t.Fatalf("got %d ioctls, want %d", len(sys.reqs), len(want))
	}
	for i := range want {
		if sys.reqs[i] != want[i] {
			t.Errorf("ioctl %d = %#x, want %#x", i, sys.reqs[i], want[i])
		}
	}
	if !d.IsOpen() {
		t.Error("device should report open")
	}
}

func TestDevice_OpenIsIdempotent(t *testing.T) {
	sys := &fakeSys{}
	d := newTestDevice(t, sys)

	for i := 0; i < 3; i++ {
		if err := d.Open(); err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
	}
	if sys.opened != 1 {
		t.Errorf("device opened %d times, want 1", sys.opened)
	}
}

func TestDevice_OpenFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		d := newTestDevice(t, &fakeSys{openErr: syscall.ENOENT})
		err := d.Open()
		if !errors.Is(err, ErrOpen) {
			t.Fatalf("Open error = %v, want ErrOpen", err)
		}
		if d.IsOpen() {
			t.Error("device should not be open")
		}
	})

	t.Run("configuration rejected", func(t *testing.T) {
		sys := &fakeSys{failReq: spiIocWrMaxSpeedHz, failErr: syscall.EINVAL}
		d := newTestDevice(t, sys)
		err := d.Open()
		if !errors.Is(err, ErrOpen) {
			t.Fatalf("Open error = %v, want ErrOpen", err)
		}
		if len(sys.closed) != 1 {
			t.Errorf("fd should be closed after failed configuration, closed=%v", sys.closed)
		}
		if d.IsOpen() {
			t.Error("device should not be open")
		}
	})
}

func TestDevice_Transfer(t *testing.T) {
	sys := &fakeSys{}
	d := newTestDevice(t, sys)

	buf := make([]byte, 164)
	if err := d.Transfer(buf, false); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Transfer before Open = %v, want ErrNotOpen", err)
	}
	if !errors.Is(ErrNotOpen, ErrIO) {
		t.Fatal("ErrNotOpen must be an ErrIO")
	}

	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if err := d.Transfer(buf, true); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	tr := sys.lastTr
	if tr.length != 164 || tr.csChange != 1 || tr.speedHz != DefaultSpeedHz ||
		tr.bitsPerWord != 8 || tr.delayUsecs != DefaultDelayUsecs || tr.txBuf != 0 {
		t.Errorf("unexpected transfer %+v", tr)
	}

	if err := d.Transfer(buf[:5], false); err != nil {
		t.Fatal(err)
	}
	if sys.lastTr.csChange != 0 || sys.lastTr.length != 5 {
		t.Errorf("unexpected transfer %+v", sys.lastTr)
	}

	sys.failReq, sys.failErr = spiIocMessage1, syscall.EIO
	if err := d.Transfer(buf, false); !errors.Is(err, ErrIO) {
		t.Errorf("Transfer error = %v, want ErrIO", err)
	}
}

func TestDevice_Close(t *testing.T) {
	sys := &fakeSys{}
	d := newTestDevice(t, sys)

	if err := d.Close(); err != nil {
		t.Fatalf("Close on unopened device: %v", err)
	}
	if len(sys.closed) != 0 {
		t.Fatal("closing an unopened device must not touch the OS")
	}

	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if len(sys.closed) != 1 {
		t.Errorf("closed %d fds, want 1", len(sys.closed))
	}

	// re-opens lazily after close
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if sys.opened != 2 {
		t.Errorf("opened %d times, want 2", sys.opened)
	}
}
